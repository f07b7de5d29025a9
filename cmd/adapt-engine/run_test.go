package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-adapt/internal/config"
	"github.com/miradorstack/mirador-adapt/internal/detector"
	"github.com/miradorstack/mirador-adapt/internal/models"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func quietSyntheticConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Monitor.Source = "synthetic"
	cfg.Logging.Level = "error"
	cfg.Server.Address = freeAddress(t)
	cfg.Server.MetricsAddress = ""
	cfg.Executor.Enabled = false
	cfg.Export = config.ExportConfig{QueueSize: cfg.Export.QueueSize}
	return cfg
}

func assertAddressFree(t *testing.T, addr string) {
	t.Helper()
	lis, err := net.Listen("tcp", addr)
	require.NoError(t, err, "address %s still bound", addr)
	assert.NoError(t, lis.Close())
}

func TestRunReleasesServerAddressWhenModelLoadFails(t *testing.T) {
	cfg := quietSyntheticConfig(t)
	cfg.Detector.ModelPath = filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(cfg.Detector.ModelPath, []byte("{broken"), 0o600))

	err := run(context.Background(), &cfg)
	require.ErrorIs(t, err, detector.ErrInvalidSnapshot)
	assertAddressFree(t, cfg.Server.Address)
}

func TestRunBuildFailureNeverBindsServer(t *testing.T) {
	cfg := quietSyntheticConfig(t)
	cfg.Executor.Enabled = true
	cfg.Executor.PlansPath = filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(cfg.Executor.PlansPath, []byte("plans: [unterminated"), 0o600))

	require.Error(t, run(context.Background(), &cfg))
	assertAddressFree(t, cfg.Server.Address)
}

func syntheticSamples(t *testing.T, cfg *config.Config, n int) []models.RawSample {
	t.Helper()
	source, err := newSource(cfg, newLogger(cfg))
	require.NoError(t, err)
	samples := make([]models.RawSample, 0, n)
	for i := 0; i < n; i++ {
		s, err := source.Sample(context.Background())
		require.NoError(t, err)
		samples = append(samples, s)
	}
	return samples
}

func TestModelFileRoundTrip(t *testing.T) {
	cfg := quietSyntheticConfig(t)
	path := filepath.Join(t.TempDir(), "models", "adapt.json")

	source, err := newSource(&cfg, newLogger(&cfg))
	require.NoError(t, err)
	trained, err := buildApp(context.Background(), &cfg, source, newLogger(&cfg))
	require.NoError(t, err)
	defer trained.Close()

	_, loaded, err := loadModelFile(trained.pipeline, path)
	require.NoError(t, err)
	assert.False(t, loaded, "missing file means train")

	require.NoError(t, trained.pipeline.TrainFrom(syntheticSamples(t, &cfg, 40)))
	require.NoError(t, saveModelFile(trained.pipeline, path))
	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	fresh, err := buildApp(context.Background(), &cfg, source, newLogger(&cfg))
	require.NoError(t, err)
	defer fresh.Close()

	meta, loaded, err := loadModelFile(fresh.pipeline, path)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.True(t, fresh.pipeline.Trained())
	assert.Equal(t, 40, meta.SampleCount)
}
