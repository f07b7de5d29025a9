//go:build !linux

package monitor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-adapt/internal/models"
)

// HostConfig configures HostSource.
type HostConfig struct {
	ProcPath     string
	DiskPath     string
	TopProcesses int
}

// HostSource is only implemented on Linux.
type HostSource struct{}

// NewHostSource reports that host sampling needs procfs.
func NewHostSource(HostConfig, clock.Clock, *slog.Logger) (*HostSource, error) {
	return nil, errors.New("host source requires linux procfs; use the prometheus or synthetic source")
}

// Sample always fails.
func (h *HostSource) Sample(context.Context) (models.RawSample, error) {
	return models.RawSample{}, ErrSourceUnavailable
}
