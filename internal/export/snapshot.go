package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-adapt/internal/cache"
)

// SnapshotSink keeps only the newest record under a fixed cache key.
type SnapshotSink struct {
	provider cache.Provider
	key      string
	ttl      time.Duration
}

// NewSnapshotSink wraps provider. A non-positive ttl never expires.
func NewSnapshotSink(provider cache.Provider, key string, ttl time.Duration) *SnapshotSink {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &SnapshotSink{provider: provider, key: key, ttl: ttl}
}

// Name implements Sink.
func (s *SnapshotSink) Name() string { return "snapshot" }

// Write implements Sink.
func (s *SnapshotSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.provider.Set(ctx, s.key, payload, s.ttl)
}

// Latest reads back the stored snapshot. It returns cache.ErrCacheMiss when none exists.
func (s *SnapshotSink) Latest(ctx context.Context) (Record, error) {
	payload, err := s.provider.Get(ctx, s.key)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

// Close closes the provider.
func (s *SnapshotSink) Close() error { return s.provider.Close() }
