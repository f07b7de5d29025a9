package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-adapt/internal/cache"
	"github.com/miradorstack/mirador-adapt/internal/models"
)

var recordTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testRecord(offset time.Duration, sev models.Severity, action models.Action) Record {
	ts := recordTime.Add(offset)
	sample := models.RawSample{Timestamp: ts, CPUPercent: 85, MemoryTotalBytes: 100, MemoryUsedBytes: 45, DiskTotalBytes: 100, DiskUsedBytes: 50}
	vec := models.FeatureVector{Timestamp: ts, Names: []string{"cpu_percent"}, Values: []float64{85}}
	anomaly := models.AnomalyResult{Probability: 0.9, IsAnomaly: sev > models.SeverityNormal}
	return NewRecord(sample, vec, anomaly, models.Decision{Action: action, Severity: sev, Timestamp: ts})
}

type memorySink struct {
	mu      sync.Mutex
	name    string
	records []Record
	fail    bool
	closed  bool
}

func newMemorySink(name string) *memorySink {
	return &memorySink{name: name}
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestNewRecordAssignsUniqueIDs(t *testing.T) {
	a := testRecord(0, models.SeverityNormal, models.ActionMonitor)
	b := testRecord(0, models.SeverityNormal, models.ActionMonitor)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, recordTime, a.Timestamp)
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	good := newMemorySink("good")
	bad := newMemorySink("bad")
	bad.fail = true

	d := NewDispatcher(8, nil, good, bad)
	d.Start()
	for i := 0; i < 3; i++ {
		assert.True(t, d.Publish(testRecord(time.Duration(i)*time.Second, models.SeverityWarning, models.ActionOptimizeCPU)))
	}
	require.NoError(t, d.Close())

	assert.Len(t, good.records, 3)
	assert.Empty(t, bad.records)
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
	assert.Equal(t, uint64(3), d.Delivered())
	assert.Equal(t, 2, d.Sinks())

	assert.False(t, d.Publish(testRecord(0, models.SeverityNormal, models.ActionMonitor)), "publish after close")
	assert.NoError(t, d.Close())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := newMemorySink("slow")
	d := NewDispatcher(1, nil, sink)

	assert.True(t, d.Publish(testRecord(0, models.SeverityNormal, models.ActionMonitor)))
	assert.False(t, d.Publish(testRecord(time.Second, models.SeverityNormal, models.ActionMonitor)))
	assert.Equal(t, uint64(1), d.Dropped())

	d.Start()
	require.NoError(t, d.Close())
	assert.Len(t, sink.records, 1)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	first := testRecord(0, models.SeverityNormal, models.ActionMonitor)
	second := testRecord(time.Second, models.SeverityCritical, models.ActionScaleUp)
	third := testRecord(2*time.Second, models.SeverityCritical, models.ActionMonitor)
	for _, rec := range []Record{first, second, third} {
		require.NoError(t, store.Write(ctx, rec))
	}
	require.NoError(t, store.Write(ctx, third))

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)
	assert.Equal(t, models.ActionScaleUp, recent[1].Decision.Action)
	assert.Equal(t, models.SeverityCritical, recent[1].Decision.Severity)
	assert.InDelta(t, 85, recent[1].Sample.CPUPercent, 1e-9)

	counts, err := store.CountBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"NORMAL": 1, "CRITICAL": 2}, counts)
}

func TestSQLiteStoreMigrationsIdempotent(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.migrate())

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM schema_versions`).Scan(&count))
	assert.Equal(t, len(migrations), count)
}

type fakeKafkaWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := &KafkaSink{topic: "mirador-adapt-records", writer: w}
	rec := testRecord(0, models.SeverityEmergency, models.ActionScaleUp)

	require.NoError(t, sink.Write(context.Background(), rec))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte(rec.ID), w.msgs[0].Key)
	assert.Contains(t, string(w.msgs[0].Value), `"action":"scale_up"`)
	assert.Equal(t, recordTime, w.msgs[0].Time)
	assert.Equal(t, "severity", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("EMERGENCY"), w.msgs[0].Headers[0].Value)

	w.err = errors.New("broker unavailable")
	assert.ErrorContains(t, sink.Write(context.Background(), rec), "broker unavailable")

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", sink.Name())
}

func TestSnapshotSink(t *testing.T) {
	clk := clock.NewMock()
	sink := NewSnapshotSink(cache.NewMemoryProvider(clk), "mirador-adapt:latest", time.Minute)
	ctx := context.Background()

	_, err := sink.Latest(ctx)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	older := testRecord(0, models.SeverityWarning, models.ActionOptimizeMemory)
	newer := testRecord(time.Second, models.SeverityCritical, models.ActionScaleUp)
	require.NoError(t, sink.Write(ctx, older))
	require.NoError(t, sink.Write(ctx, newer))

	latest, err := sink.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	clk.Add(2 * time.Minute)
	_, err = sink.Latest(ctx)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
