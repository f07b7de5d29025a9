package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to run the adaptive pipeline.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Severity SeverityConfig `yaml:"severity"`
	Decision DecisionConfig `yaml:"decision"`
	Executor ExecutorConfig `yaml:"executor"`
	Export   ExportConfig   `yaml:"export"`
}

// ServerConfig controls gRPC and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// MonitorConfig selects and tunes the sample source.
type MonitorConfig struct {
	Source        string        `yaml:"source"`
	Interval      time.Duration `yaml:"interval"`
	ProcPath      string        `yaml:"procPath"`
	DiskPath      string        `yaml:"diskPath"`
	PrometheusURL string        `yaml:"prometheusURL"`
	Instance      string        `yaml:"instance"`
	QueryTimeout  time.Duration `yaml:"queryTimeout"`
	Scenario      string        `yaml:"scenario"`
	Seed          int64         `yaml:"seed"`
	// TopProcesses is how many processes the host source reports per sample; 0 disables it.
	TopProcesses int `yaml:"topProcesses"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	TrainingDuration   time.Duration `yaml:"trainingDuration"`
	BufferSize         int           `yaml:"bufferSize"`
	FeatureWindow      int           `yaml:"featureWindow"`
	MinTrainingSamples int           `yaml:"minTrainingSamples"`
	RetrainInterval    time.Duration `yaml:"retrainInterval"`
}

// DetectorConfig tunes the isolation forest.
type DetectorConfig struct {
	Trees              int     `yaml:"trees"`
	MaxSamples         int     `yaml:"maxSamples"`
	Contamination      float64 `yaml:"contamination"`
	AnomalyProbability float64 `yaml:"anomalyProbability"`
	Steepness          float64 `yaml:"steepness"`
	Seed               int64   `yaml:"seed"`
	// ModelPath, when set, is loaded at startup instead of training and
	// rewritten after every successful training.
	ModelPath string `yaml:"modelPath"`
}

// SeverityConfig holds the lower bounds of WARNING, CRITICAL and EMERGENCY.
type SeverityConfig struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// DecisionConfig tunes the decision engine.
type DecisionConfig struct {
	Cooldown             time.Duration `yaml:"cooldown"`
	LearningRate         float64       `yaml:"learningRate"`
	HistorySize          int           `yaml:"historySize"`
	NormalConfidence     float64       `yaml:"normalConfidence"`
	CriticalScaleFactor  float64       `yaml:"criticalScaleFactor"`
	EmergencyScaleFactor float64       `yaml:"emergencyScaleFactor"`
	InitialInstances     int           `yaml:"initialInstances"`
}

// ExecutorConfig controls the recovery executor.
type ExecutorConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PlansPath    string `yaml:"plansPath"`
	MaxInstances int    `yaml:"maxInstances"`
	DryRun       bool   `yaml:"dryRun"`
}

// ExportConfig controls downstream telemetry sinks.
type ExportConfig struct {
	QueueSize int          `yaml:"queueSize"`
	SQLite    SQLiteConfig `yaml:"sqlite"`
	Kafka     KafkaConfig  `yaml:"kafka"`
	Valkey    ValkeyConfig `yaml:"valkey"`
}

// SQLiteConfig configures the local record store.
type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// KafkaConfig configures the streaming sink.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// ValkeyConfig configures the latest-snapshot sink.
type ValkeyConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Key         string        `yaml:"key"`
	TTL         time.Duration `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	TLS         bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_ADAPT_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7},
		Monitor: MonitorConfig{
			Source:       "host",
			Interval:     time.Second,
			ProcPath:     "/proc",
			DiskPath:     "/",
			QueryTimeout: 5 * time.Second,
			Scenario:     "normal",
			Seed:         1,
			TopProcesses: 5,
		},
		Pipeline: PipelineConfig{
			TrainingDuration:   30 * time.Second,
			BufferSize:         1000,
			FeatureWindow:      5,
			MinTrainingSamples: 10,
		},
		Detector: DetectorConfig{
			Trees:              100,
			MaxSamples:         256,
			Contamination:      0.05,
			AnomalyProbability: 0.7,
			Steepness:          3.0,
			Seed:               42,
		},
		Severity: SeverityConfig{Warning: 0.7, Critical: 0.8, Emergency: 0.9},
		Decision: DecisionConfig{
			Cooldown:             30 * time.Second,
			LearningRate:         0.1,
			HistorySize:          100,
			NormalConfidence:     1.0,
			CriticalScaleFactor:  1.5,
			EmergencyScaleFactor: 2.0,
			InitialInstances:     1,
		},
		Executor: ExecutorConfig{Enabled: true, MaxInstances: 10},
		Export: ExportConfig{
			QueueSize: 256,
			SQLite:    SQLiteConfig{Path: "mirador-adapt.db"},
			Kafka:     KafkaConfig{Topic: "mirador-adapt-records", WriteTimeout: 10 * time.Second},
			Valkey: ValkeyConfig{
				Key:         "mirador-adapt:latest",
				TTL:         5 * time.Minute,
				DialTimeout: 2 * time.Second,
			},
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval must be > 0"))
	}
	switch c.Monitor.Source {
	case "host", "synthetic":
	case "prometheus":
		if c.Monitor.PrometheusURL == "" {
			errs = append(errs, fmt.Errorf("monitor.prometheusURL is required for the prometheus source"))
		}
	default:
		errs = append(errs, fmt.Errorf("monitor.source %q is not one of host, prometheus, synthetic", c.Monitor.Source))
	}
	if c.Monitor.TopProcesses < 0 {
		errs = append(errs, fmt.Errorf("monitor.topProcesses must not be negative"))
	}
	if c.Pipeline.TrainingDuration <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.trainingDuration must be > 0"))
	}
	if c.Pipeline.FeatureWindow < 1 {
		errs = append(errs, fmt.Errorf("pipeline.featureWindow must be >= 1"))
	}
	if c.Pipeline.MinTrainingSamples < 2 {
		errs = append(errs, fmt.Errorf("pipeline.minTrainingSamples must be >= 2"))
	}
	if c.Pipeline.BufferSize < c.Pipeline.FeatureWindow {
		errs = append(errs, fmt.Errorf("pipeline.bufferSize must be >= featureWindow"))
	}
	if c.Detector.Trees < 1 {
		errs = append(errs, fmt.Errorf("detector.trees must be >= 1"))
	}
	if c.Detector.Contamination <= 0 || c.Detector.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("detector.contamination must be in (0, 0.5]"))
	}
	if c.Detector.AnomalyProbability <= 0 || c.Detector.AnomalyProbability > 1 {
		errs = append(errs, fmt.Errorf("detector.anomalyProbability must be in (0, 1]"))
	}
	s := c.Severity
	if !(s.Warning > 0 && s.Warning < s.Critical && s.Critical < s.Emergency && s.Emergency < 1) {
		errs = append(errs, fmt.Errorf("severity cutoffs must be strictly ascending inside (0,1), got %v/%v/%v", s.Warning, s.Critical, s.Emergency))
	} else if s.Warning < 0.01 || s.Emergency > 0.99 {
		errs = append(errs, fmt.Errorf("severity cutoffs must lie within [0.01, 0.99] so they can adapt, got %v/%v/%v", s.Warning, s.Critical, s.Emergency))
	}
	if c.Decision.LearningRate <= 0 || c.Decision.LearningRate > 1 {
		errs = append(errs, fmt.Errorf("decision.learningRate must be in (0, 1]"))
	}
	if c.Decision.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("decision.cooldown must not be negative"))
	}
	if c.Decision.InitialInstances < 0 {
		errs = append(errs, fmt.Errorf("decision.initialInstances must not be negative"))
	}
	if c.Export.Kafka.Enabled && (len(c.Export.Kafka.Brokers) == 0 || c.Export.Kafka.Topic == "") {
		errs = append(errs, fmt.Errorf("export.kafka requires brokers and topic"))
	}
	if c.Export.Valkey.Enabled && c.Export.Valkey.Addr == "" {
		errs = append(errs, fmt.Errorf("export.valkey.addr is required"))
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_ADAPT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_ADAPT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_MONITOR_SOURCE"); v != "" {
		cfg.Monitor.Source = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_PROMETHEUS_URL"); v != "" {
		cfg.Monitor.PrometheusURL = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_MONITOR_INSTANCE"); v != "" {
		cfg.Monitor.Instance = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_TOP_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.TopProcesses = n
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_MODEL_PATH"); v != "" {
		cfg.Detector.ModelPath = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_SCENARIO"); v != "" {
		cfg.Monitor.Scenario = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_TRAINING_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.TrainingDuration = d
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_RETRAIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.RetrainInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.Contamination = f
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_TREES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.Trees = n
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Decision.Cooldown = d
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_LEARNING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Decision.LearningRate = f
		}
	}
	if v := os.Getenv("MIRADOR_ADAPT_EXECUTOR_DRY_RUN"); v != "" {
		cfg.Executor.DryRun = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_ADAPT_SQLITE_PATH"); v != "" {
		cfg.Export.SQLite.Enabled = true
		cfg.Export.SQLite.Path = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_KAFKA_BROKERS"); v != "" {
		cfg.Export.Kafka.Enabled = true
		cfg.Export.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MIRADOR_ADAPT_KAFKA_TOPIC"); v != "" {
		cfg.Export.Kafka.Topic = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_VALKEY_ADDR"); v != "" {
		cfg.Export.Valkey.Enabled = true
		cfg.Export.Valkey.Addr = v
	}
	if v := os.Getenv("MIRADOR_ADAPT_VALKEY_PASSWORD"); v != "" {
		cfg.Export.Valkey.Password = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
