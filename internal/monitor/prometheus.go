package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// PrometheusConfig points PrometheusSource at a node_exporter target.
type PrometheusConfig struct {
	URL string
	// Instance filters node_exporter series by their instance label. Empty matches all.
	Instance string
	Timeout  time.Duration
}

// PrometheusSource builds samples from node_exporter series via instant queries.
type PrometheusSource struct {
	client  v1.API
	cfg     PrometheusConfig
	clock   clock.Clock
	logger  *slog.Logger
	queries nodeQueries
}

type nodeQueries struct {
	cpu, cpuMHz, memTotal, memAvailable, diskTotal, diskFree, netSent, netRecv string
}

func buildQueries(instance string) nodeQueries {
	sel := ""
	if instance != "" {
		sel = fmt.Sprintf(`instance=%q`, instance)
	}
	with := func(extra string) string {
		switch {
		case sel == "" && extra == "":
			return ""
		case sel == "":
			return "{" + extra + "}"
		case extra == "":
			return "{" + sel + "}"
		default:
			return "{" + sel + "," + extra + "}"
		}
	}
	return nodeQueries{
		cpu:          fmt.Sprintf(`100 * (1 - avg(rate(node_cpu_seconds_total%s[1m])))`, with(`mode="idle"`)),
		cpuMHz:       fmt.Sprintf(`avg(node_cpu_scaling_frequency_hertz%s) / 1e6`, with("")),
		memTotal:     fmt.Sprintf(`sum(node_memory_MemTotal_bytes%s)`, with("")),
		memAvailable: fmt.Sprintf(`sum(node_memory_MemAvailable_bytes%s)`, with("")),
		diskTotal:    fmt.Sprintf(`sum(node_filesystem_size_bytes%s)`, with(`mountpoint="/"`)),
		diskFree:     fmt.Sprintf(`sum(node_filesystem_avail_bytes%s)`, with(`mountpoint="/"`)),
		netSent:      fmt.Sprintf(`sum(node_network_transmit_bytes_total%s)`, with(`device!="lo"`)),
		netRecv:      fmt.Sprintf(`sum(node_network_receive_bytes_total%s)`, with(`device!="lo"`)),
	}
}

// NewPrometheusSource creates an API client for cfg.URL.
func NewPrometheusSource(cfg PrometheusConfig, clk clock.Clock, logger *slog.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrometheusSource{
		client:  v1.NewAPI(client),
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		queries: buildQueries(cfg.Instance),
	}, nil
}

// Sample issues one instant query per field. CPU frequency is optional;
// every other field must resolve or the source reports itself unavailable.
func (p *PrometheusSource) Sample(ctx context.Context) (models.RawSample, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	now := p.clock.Now()
	q := p.queries
	queries := []string{q.cpu, q.memTotal, q.memAvailable, q.diskTotal, q.diskFree, q.netSent, q.netRecv}
	values := make([]float64, len(queries))
	for i, query := range queries {
		v, err := p.querySingle(ctx, query, now)
		if err != nil {
			return models.RawSample{}, unavailable("prometheus query", err)
		}
		values[i] = v
	}
	cpu, memTotal, memAvail, diskTotal, diskFree := values[0], values[1], values[2], values[3], values[4]

	sample := models.RawSample{
		Timestamp:        now,
		CPUPercent:       clampPercent(cpu),
		MemoryTotalBytes: uint64(memTotal),
		DiskTotalBytes:   uint64(diskTotal),
		NetBytesSent:     uint64(values[5]),
		NetBytesRecv:     uint64(values[6]),
	}
	if memAvail <= memTotal {
		sample.MemoryUsedBytes = uint64(memTotal - memAvail)
	}
	if diskFree <= diskTotal {
		sample.DiskUsedBytes = uint64(diskTotal - diskFree)
	}
	if mhz, err := p.querySingle(ctx, q.cpuMHz, now); err == nil {
		sample.CPUFrequencyMHz = mhz
	}
	return sample, nil
}

// IsAvailable reports whether the Prometheus endpoint answers a trivial query.
func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", p.clock.Now())
	return err == nil
}

func (p *PrometheusSource) querySingle(ctx context.Context, query string, ts time.Time) (float64, error) {
	result, warnings, err := p.client.Query(ctx, query, ts)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	if len(warnings) > 0 {
		p.logger.Warn("prometheus query warnings", slog.String("query", query), slog.Any("warnings", warnings))
	}
	vector, ok := result.(model.Vector)
	if !ok || len(vector) == 0 {
		return 0, fmt.Errorf("no data for query: %s", query)
	}
	sum := 0.0
	for _, sample := range vector {
		sum += float64(sample.Value)
	}
	return sum, nil
}
