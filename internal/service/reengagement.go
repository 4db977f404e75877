package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"chatfunnel/internal/metrics"
	"chatfunnel/internal/models"
	"chatfunnel/internal/privacy"
	"chatfunnel/pkg/gateway"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReengagementStore is the persistence surface the re-engagement loop
// reads and writes.
type ReengagementStore interface {
	ListActiveAccounts(ctx context.Context) ([]*models.ChannelAccount, error)
	GetStaleConversations(ctx context.Context, tenantID string, olderThan time.Time, maxReengagement int) ([]*models.Conversation, error)
	GetMessageHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	IncrementReengagement(ctx context.Context, conversationID string) error
	SaveMessage(ctx context.Context, msg *models.Message) error
}

var (
	reengagePT = []string{
		"Oi{nome}! Fiquei pensando sobre o que conversamos. Se tiver alguma duvida, to por aqui.",
		"E ai{nome}, tudo certo? Fico a disposicao se precisar de algo.",
		"{nome_ou_oi}, se quiser continuar de onde paramos, e so me chamar.",
	}
	reengageEN = []string{
		"Hey{nome}! Just checking in. Let me know if you have any questions.",
		"Hi{nome}, still here if you need anything!",
		"{nome_ou_oi}, feel free to reach out whenever you are ready.",
	}
	reengageES = []string{
		"Hola{nome}! Quedo a tu disposicion si tienes alguna duda.",
		"{nome_ou_oi}, si necesitas algo, aqui estoy.",
		"Hola{nome}, seguimos cuando quieras!",
	}
)

// ReengagementMonitor nudges conversations where the contact spoke last
// and then went quiet. Each conversation gets at most the configured
// number of nudges; a new inbound message resets the counter.
type ReengagementMonitor struct {
	store       ReengagementStore
	gw          gateway.Client
	metrics     *metrics.Metrics
	interval    time.Duration
	staleAfter  time.Duration
	maxAttempts int
	logger      *logrus.Logger
	stopCh      chan struct{}

	mu  sync.Mutex
	idx int

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewReengagementMonitor creates the re-engagement loop.
func NewReengagementMonitor(store ReengagementStore, gw gateway.Client, m *metrics.Metrics, interval, staleAfter time.Duration, maxAttempts int, logger *logrus.Logger) *ReengagementMonitor {
	return &ReengagementMonitor{
		store:       store,
		gw:          gw,
		metrics:     m,
		interval:    interval,
		staleAfter:  staleAfter,
		maxAttempts: maxAttempts,
		logger:      logger,
		stopCh:      make(chan struct{}),
		sleep:       time.Sleep,
	}
}

// Start runs the loop until the context is cancelled or Stop is called.
func (m *ReengagementMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"interval":    m.interval,
		"stale_after": m.staleAfter,
	}).Info("Starting re-engagement monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Stop terminates the loop.
func (m *ReengagementMonitor) Stop() {
	close(m.stopCh)
}

// Sweep checks every active tenant for stale conversations and sends one
// nudge each. Returns how many nudges went out.
func (m *ReengagementMonitor) Sweep(ctx context.Context) int {
	accounts, err := m.store.ListActiveAccounts(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list accounts for re-engagement")
		return 0
	}

	instanceByAccount := make(map[string]string, len(accounts))
	tenantSeen := make(map[string]bool)
	var tenants []string
	for _, a := range accounts {
		instanceByAccount[a.ID] = a.InstanceName
		if !tenantSeen[a.TenantID] {
			tenantSeen[a.TenantID] = true
			tenants = append(tenants, a.TenantID)
		}
	}

	cutoff := time.Now().UTC().Add(-m.staleAfter)
	sent := 0
	for _, tenantID := range tenants {
		stale, err := m.store.GetStaleConversations(ctx, tenantID, cutoff, m.maxAttempts)
		if err != nil {
			m.logger.WithError(err).WithField("tenant_id", tenantID).Error("Stale conversation scan failed")
			continue
		}
		for _, conv := range stale {
			if conv.Opaque {
				// No resolved phone to nudge yet.
				continue
			}
			instance, ok := instanceByAccount[conv.AccountID]
			if !ok {
				continue
			}
			if m.nudge(ctx, instance, conv) {
				sent++
			}
		}
	}
	if sent > 0 {
		m.logger.WithField("sent", sent).Info("Re-engagement sweep finished")
	}
	return sent
}

func (m *ReengagementMonitor) nudge(ctx context.Context, instance string, conv *models.Conversation) bool {
	language := conv.Language
	if history, err := m.store.GetMessageHistory(ctx, conv.ID, 3); err == nil {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == models.RoleUser {
				language = DetectLanguage(history[i].Content)
				break
			}
		}
	}

	msg := m.nextMessage(conv.ContactName, language)

	if err := m.gw.SetPresence(ctx, instance, conv.ContactPhone, gateway.PresenceComposing, 2500); err == nil {
		m.sleep(2500 * time.Millisecond)
	}
	if _, err := m.gw.SendText(ctx, instance, conv.ContactPhone, msg); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"instance": instance,
			"phone":    privacy.MaskPhone(conv.ContactPhone),
		}).Warn("Re-engagement send failed")
		return false
	}

	if err := m.store.IncrementReengagement(ctx, conv.ID); err != nil {
		m.logger.WithError(err).Warn("Failed to bump re-engagement counter")
	}
	if err := m.store.SaveMessage(ctx, &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        msg,
		Metadata:       models.MessageMetadata{Source: "reengagement"},
	}); err != nil {
		m.logger.WithError(err).Warn("Failed to persist re-engagement message")
	}
	m.metrics.ReengagementMessages.Inc()
	return true
}

// nextMessage rotates through the per-language nudge list so neighbours
// in the sweep do not all receive the same text.
func (m *ReengagementMonitor) nextMessage(contactName, language string) string {
	nome := ""
	nomeOuOi := "Oi"
	if first := FirstName(contactName); first != "" {
		nome = " " + first
		nomeOuOi = first
	}

	var msgs []string
	switch language {
	case "en":
		msgs = reengageEN
		if nome == "" {
			nomeOuOi = "Hey"
		}
	case "es":
		msgs = reengageES
		if nome == "" {
			nomeOuOi = "Hola"
		}
	default:
		msgs = reengagePT
	}

	m.mu.Lock()
	msg := msgs[m.idx%len(msgs)]
	m.idx++
	m.mu.Unlock()

	return strings.NewReplacer("{nome}", nome, "{nome_ou_oi}", nomeOuOi).Replace(msg)
}
