package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"chatfunnel/internal/models"
	"chatfunnel/internal/validation"
	"chatfunnel/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the delivery service sweeps.
type Store interface {
	ClaimEligible(ctx context.Context, class models.QueueClass, limit int) ([]*models.QueueEntry, error)
	PendingForDestination(ctx context.Context, accountID, destination string, class models.QueueClass) ([]*models.QueueEntry, error)
	PendingIdentityBacklog(ctx context.Context, limit int) ([]*models.QueueEntry, error)
	MarkDelivered(ctx context.Context, ids ...string) error
	BumpAttempt(ctx context.Context, id, lastError string, base time.Duration) error
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	EnqueueDelivery(ctx context.Context, e *models.QueueEntry) error
	CountPending(ctx context.Context, class models.QueueClass) (int, error)
}

// Resolver is the identity surface the pending-identity sweep walks.
type Resolver interface {
	Resolve(ctx context.Context, accountID, instance, opaqueID, pushName string) (string, error)
}

// Service owns the delivery queue: retrying failed sends, replaying
// messages that waited on identity resolution, and expiring entries
// nobody will ever want again.
type Service struct {
	store        Store
	gw           gateway.Client
	resolver     Resolver
	logger       *logrus.Logger
	claimLimit   int
	backoffBase  time.Duration
	maxAge       time.Duration
	pendingAge   time.Duration
	maxAttempts  int
	backlogLimit int
}

func NewService(store Store, gw gateway.Client, resolver Resolver, cfg models.QueueConfig, backlogLimit int, logger *logrus.Logger) *Service {
	return &Service{
		store:        store,
		gw:           gw,
		resolver:     resolver,
		logger:       logger,
		claimLimit:   cfg.ClaimLimit,
		backoffBase:  time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		maxAge:       time.Duration(cfg.MaxAgeHours) * time.Hour,
		pendingAge:   time.Duration(cfg.PendingMaxAgeSec) * time.Second,
		maxAttempts:  cfg.MaxAttempts,
		backlogLimit: backlogLimit,
	}
}

// QueueFailed records a reply whose immediate send failed, for the retry
// sweep to pick up.
func (s *Service) QueueFailed(ctx context.Context, tenantID, accountID, phone, content, lastError string) error {
	if err := validation.ValidatePhone(phone); err != nil {
		return fmt.Errorf("refusing to queue delivery: %w", err)
	}
	return s.store.EnqueueDelivery(ctx, &models.QueueEntry{
		TenantID:    tenantID,
		AccountID:   accountID,
		Destination: phone,
		Content:     content,
		Class:       models.QueueFailedDelivery,
		MaxAttempts: s.maxAttempts,
		Metadata:    map[string]string{models.QueueMetaLastError: lastError},
	})
}

// QueuePendingIdentity parks a reply addressed to an unresolved opaque id.
func (s *Service) QueuePendingIdentity(ctx context.Context, tenantID, accountID, opaqueID, content, displayName string) error {
	return s.store.EnqueueDelivery(ctx, &models.QueueEntry{
		TenantID:    tenantID,
		AccountID:   accountID,
		Destination: opaqueID,
		Content:     content,
		Class:       models.QueuePendingIdentity,
		MaxAttempts: s.maxAttempts,
		Metadata: map[string]string{
			models.QueueMetaOpaqueID:    opaqueID,
			models.QueueMetaDisplayName: displayName,
		},
	})
}

// QueueAdminAlert parks an operator alert for the retry sweep to deliver
// to the admin number of the owning account.
func (s *Service) QueueAdminAlert(ctx context.Context, tenantID, accountID, adminPhone, content, kind string) error {
	return s.store.EnqueueDelivery(ctx, &models.QueueEntry{
		TenantID:    tenantID,
		AccountID:   accountID,
		Destination: adminPhone,
		Content:     content,
		Class:       models.QueueAdminAlert,
		MaxAttempts: s.maxAttempts,
		Metadata:    map[string]string{models.QueueMetaAlertKind: kind},
	})
}

// RetrySweep walks due failed-delivery and admin-alert entries and tries
// each once. Success is terminal; failure reschedules with exponential
// backoff.
func (s *Service) RetrySweep(ctx context.Context) (delivered, failed int) {
	for _, class := range []models.QueueClass{models.QueueFailedDelivery, models.QueueAdminAlert} {
		entries, err := s.store.ClaimEligible(ctx, class, s.claimLimit)
		if err != nil {
			s.logger.WithError(err).Error("Failed to claim queue entries")
			continue
		}
		for _, e := range entries {
			if _, err := s.gw.SendText(ctx, e.InstanceName, e.Destination, e.Content); err != nil {
				failed++
				s.logger.WithError(err).WithFields(logrus.Fields{
					"entry_id": e.ID,
					"attempts": e.Attempts,
				}).Warn("Queued delivery failed again")
				if bumpErr := s.store.BumpAttempt(ctx, e.ID, err.Error(), s.backoffBase); bumpErr != nil {
					s.logger.WithError(bumpErr).Error("Failed to reschedule queue entry")
				}
				continue
			}
			if err := s.store.MarkDelivered(ctx, e.ID); err != nil {
				s.logger.WithError(err).Error("Failed to mark entry delivered")
				continue
			}
			delivered++
		}
	}
	return delivered, failed
}

// ExpireSweep drops pending entries older than the retention window.
func (s *Service) ExpireSweep(ctx context.Context) int64 {
	n, err := s.store.ExpireOlderThan(ctx, time.Now().UTC().Add(-s.maxAge))
	if err != nil {
		s.logger.WithError(err).Error("Queue expiry sweep failed")
		return 0
	}
	if n > 0 {
		s.logger.WithField("expired", n).Info("Expired stale queue entries")
	}
	return n
}

// Depth reports how many entries of a class are waiting.
func (s *Service) Depth(ctx context.Context, class models.QueueClass) (int, error) {
	return s.store.CountPending(ctx, class)
}

// ResolvePendingSweep re-runs identity resolution for every opaque id with
// parked replies and replays each resolved backlog as one batch.
func (s *Service) ResolvePendingSweep(ctx context.Context) (resolvedBatches int) {
	backlog, err := s.store.PendingIdentityBacklog(ctx, s.backlogLimit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list pending-identity backlog")
		return 0
	}

	for _, head := range backlog {
		opaqueID := head.Destination
		phone, err := s.resolver.Resolve(ctx, head.AccountID, head.InstanceName, opaqueID, head.Metadata[models.QueueMetaDisplayName])
		if err != nil {
			s.logger.WithError(err).WithField("opaque_id", opaqueID).Warn("Resolution retry failed")
			continue
		}
		if phone == "" {
			continue
		}
		if err := s.DeliverPendingBatch(ctx, head.AccountID, head.InstanceName, opaqueID, phone); err != nil {
			s.logger.WithError(err).WithField("opaque_id", opaqueID).Warn("Pending batch delivery failed")
			continue
		}
		resolvedBatches++
	}
	return resolvedBatches
}

// DeliverPendingBatch flushes every reply parked behind one opaque id to
// the freshly resolved phone. The contact gets at most two messages no
// matter how much piled up: a whole stale backlog collapses into a
// resumption line, a multi-entry backlog into an apology plus the most
// recent reply, and only a single fresh entry goes out verbatim. All
// entries are marked delivered together once the send lands.
func (s *Service) DeliverPendingBatch(ctx context.Context, accountID, instance, opaqueID, phone string) error {
	entries, err := s.store.PendingForDestination(ctx, accountID, opaqueID, models.QueuePendingIdentity)
	if err != nil {
		return fmt.Errorf("failed to load pending batch: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	oldest := entries[0]
	name := realFirstName(oldest.Metadata[models.QueueMetaDisplayName])
	age := time.Since(oldest.CreatedAt)

	switch {
	case age > s.pendingAge:
		msg := resumptionMessage(name)
		if _, err := s.gw.SendText(ctx, instance, phone, msg); err != nil {
			return err
		}
	case len(entries) == 1:
		if _, err := s.gw.SendText(ctx, instance, phone, oldest.Content); err != nil {
			return err
		}
	default:
		if _, err := s.gw.SendText(ctx, instance, phone, apologyMessage(name)); err != nil {
			return err
		}
		latest := entries[len(entries)-1]
		if _, err := s.gw.SendText(ctx, instance, phone, latest.Content); err != nil {
			return err
		}
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := s.store.MarkDelivered(ctx, ids...); err != nil {
		return fmt.Errorf("failed to mark batch delivered: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"opaque_id": opaqueID,
		"entries":   len(entries),
	}).Info("Delivered pending-identity batch")
	return nil
}

func resumptionMessage(name string) string {
	if name != "" {
		return fmt.Sprintf("Oi %s! Tive um atraso tecnico aqui, desculpa. Ja estou de volta, como posso te ajudar?", name)
	}
	return "Oi! Desculpa a demora, tive um problema tecnico. Ja to de volta, no que posso ajudar?"
}

func apologyMessage(name string) string {
	if name != "" {
		return fmt.Sprintf("%s, desculpa o atraso tecnico! Ja normalizou.", name)
	}
	return "Desculpa o atraso tecnico! Ja normalizou."
}

// realFirstName returns the first token of a display name, or "" when the
// name looks like a number rather than something a person goes by.
func realFirstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return ""
	}
	first := fields[0]
	for _, r := range first {
		if unicode.IsDigit(r) {
			return ""
		}
	}
	return first
}
