package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-adapt/internal/models"
	"github.com/miradorstack/mirador-adapt/internal/monitor"
)

// Run pulls one sample per interval until ctx is cancelled. Cancellation is
// checked between samples; a sample already pulled is fully handled first.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.deps.Scorer.Trained() {
		return ErrNotInitialized
	}
	ticker := p.clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("inference loop started", slog.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("inference loop stopped")
			return nil
		case <-ticker.C:
		}
		p.Step(ctx)
		p.maybeRetrain()
	}
}

// Step pulls and handles a single sample. A monitor failure pauses this tick
// only.
func (p *Pipeline) Step(ctx context.Context) {
	sample, err := p.deps.Source.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.counters.pauses++
		p.mu.Unlock()
		if errors.Is(err, monitor.ErrSourceUnavailable) {
			p.logger.Warn("monitor unavailable, pausing", slog.Any("error", err))
		} else {
			p.logger.Error("monitor sample failed, pausing", slog.Any("error", err))
		}
		return
	}
	p.logger.Debug("sample received", slog.Time("timestamp", sample.Timestamp), slog.Float64("cpu", sample.CPUPercent))

	// failures are counted and logged as skips by Handle
	_, _ = p.Handle(context.WithoutCancel(ctx), sample)
}

// maybeRetrain refits on a buffer snapshot in the background once
// RetrainInterval has passed. Inference keeps using the old model until the
// scorer swaps in the new one.
func (p *Pipeline) maybeRetrain() {
	if p.cfg.RetrainInterval <= 0 {
		return
	}
	last := time.Unix(0, p.lastTrained.Load())
	if p.clock.Since(last) < p.cfg.RetrainInterval {
		return
	}
	if !p.retraining.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	snapshot := append([]models.RawSample(nil), p.buffer...)
	p.mu.Unlock()

	go func() {
		defer p.retraining.Store(false)
		if err := p.TrainFrom(snapshot); err != nil {
			p.logger.Warn("retrain failed, keeping current model", slog.Int("samples", len(snapshot)), slog.Any("error", err))
			// back off a full interval before trying again
			p.lastTrained.Store(p.clock.Now().UnixNano())
		}
	}()
}
