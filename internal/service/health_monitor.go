package service

import (
	"context"
	"fmt"
	"time"

	"chatfunnel/internal/cache"
	"chatfunnel/internal/metrics"
	"chatfunnel/internal/models"
	"chatfunnel/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// AccountLister is the tenant surface the health monitor probes.
type AccountLister interface {
	ListActiveAccounts(ctx context.Context) ([]*models.ChannelAccount, error)
}

// HealthMonitor probes every active gateway instance and alerts the
// operator when one stays disconnected past the failure threshold.
// Probe results are cached briefly to keep the gateway API load flat,
// and failure counters live in the shared cache so restarts do not
// reset the alert window.
type HealthMonitor struct {
	store        AccountLister
	gw           gateway.Client
	cache        cache.Store
	queue        DeliveryQueue
	metrics      *metrics.Metrics
	interval     time.Duration
	startupDelay time.Duration
	resultTTL    time.Duration
	threshold    int
	logger       *logrus.Logger
	stopCh       chan struct{}
}

// NewHealthMonitor creates the gateway health loop.
func NewHealthMonitor(store AccountLister, gw gateway.Client, cacheStore cache.Store, queue DeliveryQueue, m *metrics.Metrics, interval, startupDelay, resultTTL time.Duration, threshold int, logger *logrus.Logger) *HealthMonitor {
	return &HealthMonitor{
		store:        store,
		gw:           gw,
		cache:        cacheStore,
		queue:        queue,
		metrics:      m,
		interval:     interval,
		startupDelay: startupDelay,
		resultTTL:    resultTTL,
		threshold:    threshold,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the loop until the context is cancelled or Stop is called.
// The first probe waits out the startup delay so freshly booted gateways
// are not flagged while still connecting.
func (m *HealthMonitor) Start(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-m.stopCh:
		return
	case <-time.After(m.startupDelay):
	}

	m.logger.WithField("interval", m.interval).Info("Starting health monitor")
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// Stop terminates the loop.
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
}

// CheckAll probes every active instance once. Returns how many were
// found disconnected.
func (m *HealthMonitor) CheckAll(ctx context.Context) int {
	accounts, err := m.store.ListActiveAccounts(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list accounts for health check")
		return 0
	}

	unhealthy := 0
	for _, account := range accounts {
		if m.probe(ctx, account.InstanceName) {
			if err := m.cache.Delete(ctx, failureKey(account.InstanceName)); err != nil {
				m.logger.WithError(err).Debug("Failed to reset failure counter")
			}
			continue
		}
		unhealthy++
		m.metrics.HealthProbeFailures.Inc()
		m.recordFailure(ctx, account)
	}
	return unhealthy
}

// probe returns whether the instance looks connected. Gateway errors
// count as healthy; a flaky health endpoint must not trigger alerts.
func (m *HealthMonitor) probe(ctx context.Context, instance string) bool {
	cacheKey := "health:" + instance
	if cached, found, err := m.cache.Get(ctx, cacheKey); err == nil && found {
		return cached == "1"
	}

	healthy := true
	state, err := m.gw.ConnectionState(ctx, instance)
	if err != nil {
		m.logger.WithError(err).WithField("instance", instance).Debug("Health probe errored, assuming healthy")
	} else {
		healthy = state == gateway.StateOpen
	}

	value := "1"
	if !healthy {
		value = "0"
		m.logger.WithField("instance", instance).Warn("Instance is not connected")
	}
	if err := m.cache.Set(ctx, cacheKey, value, m.resultTTL); err != nil {
		m.logger.WithError(err).Debug("Failed to cache health result")
	}
	return healthy
}

func (m *HealthMonitor) recordFailure(ctx context.Context, account *models.ChannelAccount) {
	count, err := m.cache.Incr(ctx, failureKey(account.InstanceName), time.Hour)
	if err != nil {
		m.logger.WithError(err).Debug("Failure counter unavailable")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"instance": account.InstanceName,
		"failures": count,
	}).Warn("Gateway instance failed health check")

	if int(count) == m.threshold {
		content := fmt.Sprintf("ALERT: instance %s disconnected for %d consecutive checks", account.InstanceName, count)
		if err := m.queue.QueueAdminAlert(ctx, account.TenantID, account.ID, "admin", content, "gateway_disconnected"); err != nil {
			m.logger.WithError(err).Error("Failed to queue health alert")
		}
	}
}

func failureKey(instance string) string {
	return "gateway_failures:" + instance
}
