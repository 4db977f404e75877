package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// IdentityMonitor periodically retries resolution for opaque ids that
// have replies parked on the pending-identity queue. New directory data,
// avatar changes, or fresh correlation samples can succeed where the
// inline attempt failed.
type IdentityMonitor struct {
	queue    RetrySweeper
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
}

// NewIdentityMonitor creates the identity re-resolution loop.
func NewIdentityMonitor(queue RetrySweeper, interval time.Duration, logger *logrus.Logger) *IdentityMonitor {
	return &IdentityMonitor{
		queue:    queue,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the loop until the context is cancelled or Stop is called.
func (m *IdentityMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.interval).Info("Starting identity monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if resolved := m.queue.ResolvePendingSweep(ctx); resolved > 0 {
				m.logger.WithField("batches", resolved).Info("Released pending-identity batches")
			}
		}
	}
}

// Stop terminates the loop.
func (m *IdentityMonitor) Stop() {
	close(m.stopCh)
}
