package service

import (
	"context"
	"time"

	"chatfunnel/internal/metrics"
	"chatfunnel/internal/models"

	"github.com/sirupsen/logrus"
)

// RetrySweeper is the slice of the queue service the retry and identity
// monitors drive.
type RetrySweeper interface {
	RetrySweep(ctx context.Context) (delivered, failed int)
	ExpireSweep(ctx context.Context) int64
	ResolvePendingSweep(ctx context.Context) int
	Depth(ctx context.Context, class models.QueueClass) (int, error)
}

// RetryMonitor periodically drains the retry queue and expires entries
// past their maximum age.
type RetryMonitor struct {
	queue    RetrySweeper
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
}

// NewRetryMonitor creates the retry loop.
func NewRetryMonitor(queue RetrySweeper, m *metrics.Metrics, interval time.Duration, logger *logrus.Logger) *RetryMonitor {
	return &RetryMonitor{
		queue:    queue,
		metrics:  m,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the loop until the context is cancelled or Stop is called.
func (m *RetryMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.interval).Info("Starting retry monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Stop terminates the loop.
func (m *RetryMonitor) Stop() {
	close(m.stopCh)
}

func (m *RetryMonitor) sweep(ctx context.Context) {
	delivered, failed := m.queue.RetrySweep(ctx)
	if delivered > 0 || failed > 0 {
		m.logger.WithFields(logrus.Fields{
			"delivered": delivered,
			"failed":    failed,
		}).Info("Retry sweep finished")
	}
	m.queue.ExpireSweep(ctx)

	for _, class := range []models.QueueClass{models.QueueFailedDelivery, models.QueuePendingIdentity, models.QueueAdminAlert} {
		if depth, err := m.queue.Depth(ctx, class); err == nil {
			m.metrics.QueueDepth.WithLabelValues(string(class)).Set(float64(depth))
		}
	}
}
