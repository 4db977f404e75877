package service

import (
	"context"
	"time"

	"chatfunnel/internal/funnel"
	"chatfunnel/internal/identity"
	"chatfunnel/internal/metrics"
	"chatfunnel/internal/models"
	"chatfunnel/internal/privacy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the pipeline touches per message.
type Store interface {
	GetAccountByInstance(ctx context.Context, instanceName string) (*models.ChannelAccount, *models.Tenant, error)
	GetOrCreateConversation(ctx context.Context, tenantID, accountID, contactPhone, contactName string, opaque bool) (*models.Conversation, error)
	LockConversationLanguage(ctx context.Context, conversationID, tenantID, language string) error
	ResetReengagement(ctx context.Context, conversationID string) error
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessageHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	GetActiveAgentConfig(ctx context.Context, tenantID string) (*models.AgentConfig, error)
}

// IdentityResolver maps opaque contact ids to phone numbers and learns
// mappings from gateway events as they pass by.
type IdentityResolver interface {
	Resolve(ctx context.Context, accountID, instance, opaqueID, pushName string) (string, error)
	LearnFromContactsEvent(ctx context.Context, accountID string, entries []models.GatewayContactData) []identity.LearnedPair
	LearnFromSentMessage(ctx context.Context, accountID, instance string, data *models.GatewayMessageData)
}

// FunnelMachine advances conversations through the sales funnel.
type FunnelMachine interface {
	Load(ctx context.Context, conversationID, tenantID string) (*models.ConversationState, error)
	Evaluate(ctx context.Context, state *models.ConversationState, intent funnel.Intent, recentUserMessages []string) bool
	UpdateGuards(ctx context.Context, state *models.ConversationState, userMessage, assistantReply, contactName string)
}

// Pipeline is the end-to-end inbound message flow: admission, tenant and
// identity resolution, conversation persistence, funnel evaluation, the
// reasoning-engine call, and dispatch of the reply.
type Pipeline struct {
	store    Store
	resolver IdentityResolver
	machine  FunnelMachine
	queue    DeliveryQueue
	sender   *Sender
	engine   ReasoningEngine
	gate     *Gate
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	stall stallFallback
	sleep func(time.Duration)
}

// NewPipeline wires the inbound processing flow.
func NewPipeline(store Store, resolver IdentityResolver, machine FunnelMachine, queue DeliveryQueue, sender *Sender, engine ReasoningEngine, gate *Gate, m *metrics.Metrics, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		resolver: resolver,
		machine:  machine,
		queue:    queue,
		sender:   sender,
		engine:   engine,
		gate:     gate,
		metrics:  m,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// ProcessEvent routes one webhook event. Called from worker goroutines;
// every failure path is absorbed here so a bad event never kills a worker.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *models.GatewayEvent) {
	p.metrics.WebhooksReceived.WithLabelValues(event.Event).Inc()

	switch event.Event {
	case models.EventContactsUpsert, models.EventContactsUpdate:
		p.handleContactsEvent(ctx, event)
	case models.EventMessagesUpsert:
		if event.Data.Key.FromMe {
			p.handleSentMessage(ctx, event)
			return
		}
		p.processIncoming(ctx, event)
	default:
		p.metrics.WebhooksDropped.WithLabelValues("unhandled_event").Inc()
	}
}

func (p *Pipeline) handleContactsEvent(ctx context.Context, event *models.GatewayEvent) {
	account, _, err := p.store.GetAccountByInstance(ctx, event.Instance)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to resolve instance for contacts event")
		return
	}
	if account == nil {
		p.metrics.WebhooksDropped.WithLabelValues("unknown_instance").Inc()
		return
	}

	learned := p.resolver.LearnFromContactsEvent(ctx, account.ID, event.ContactData)
	for _, pair := range learned {
		if err := p.queue.DeliverPendingBatch(ctx, account.ID, event.Instance, pair.OpaqueID, pair.Phone); err != nil {
			p.logger.WithError(err).WithField("opaque_id", privacy.MaskJID(pair.OpaqueID)).Warn("Failed to release pending deliveries")
		}
	}
}

func (p *Pipeline) handleSentMessage(ctx context.Context, event *models.GatewayEvent) {
	account, _, err := p.store.GetAccountByInstance(ctx, event.Instance)
	if err != nil || account == nil {
		return
	}
	p.resolver.LearnFromSentMessage(ctx, account.ID, event.Instance, &event.Data)
}

func (p *Pipeline) processIncoming(ctx context.Context, event *models.GatewayEvent) {
	started := time.Now()
	instance := event.Instance
	data := &event.Data
	log := p.logger.WithField("instance", instance)

	if !p.gate.Admit(ctx, instance, data.Key.ID) {
		p.metrics.WebhooksDropped.WithLabelValues("duplicate").Inc()
		return
	}

	text, source := p.extractContent(ctx, instance, data)
	if text == "" {
		if source == models.SourceAudioFailed {
			log.Warn("Audio transcription failed")
		}
		p.metrics.WebhooksDropped.WithLabelValues(source).Inc()
		return
	}

	contactID := inboundContactID(data)
	if contactID == "" {
		p.metrics.WebhooksDropped.WithLabelValues("no_contact").Inc()
		return
	}

	account, tenant, err := p.store.GetAccountByInstance(ctx, instance)
	if err != nil {
		log.WithError(err).Error("Instance lookup failed")
		return
	}
	if account == nil || !account.Active {
		p.metrics.WebhooksDropped.WithLabelValues("unknown_instance").Inc()
		log.Warn("Unknown or inactive instance")
		return
	}
	if tenant.Status != models.TenantActive {
		p.metrics.WebhooksDropped.WithLabelValues("tenant_suspended").Inc()
		return
	}
	if !tenant.BillingActive {
		p.metrics.WebhooksDropped.WithLabelValues("billing_inactive").Inc()
		return
	}

	if p.gate.Paused(ctx, instance) || p.gate.ChatPaused(ctx, instance, contactID) {
		p.metrics.WebhooksDropped.WithLabelValues("paused").Inc()
		return
	}
	if p.gate.Blocked(ctx, account.ID, contactID) {
		p.metrics.WebhooksDropped.WithLabelValues("blocked").Inc()
		return
	}

	// Identity resolution. An unresolved opaque id still gets a full
	// conversation; the reply parks on the pending-identity queue.
	opaque := models.IsOpaqueJID(contactID)
	sendPhone := contactID
	unresolved := false
	if opaque {
		resolved, err := p.resolver.Resolve(ctx, account.ID, instance, contactID, data.PushName)
		if err != nil {
			log.WithError(err).Warn("Identity resolution error")
		}
		if resolved != "" {
			sendPhone = resolved
		} else {
			unresolved = true
			log.WithField("opaque_id", privacy.MaskJID(contactID)).Warn("Identity unresolved")
		}
	}
	if opaque {
		outcome := "resolved"
		if unresolved {
			outcome = "unresolved"
		}
		p.metrics.IdentityResolutions.WithLabelValues(outcome).Inc()
	}

	storePhone := sendPhone
	if unresolved {
		storePhone = contactID
	}

	contactName := ""
	if IsRealName(data.PushName) {
		contactName = data.PushName
	}

	conv, err := p.store.GetOrCreateConversation(ctx, tenant.ID, account.ID, storePhone, contactName, unresolved)
	if err != nil {
		log.WithError(err).Error("Failed to load conversation")
		return
	}

	language := conv.Language
	if language == "" {
		language = DetectLanguage(text)
		if err := p.store.LockConversationLanguage(ctx, conv.ID, tenant.ID, language); err != nil {
			log.WithError(err).Warn("Failed to lock conversation language")
		}
	}

	userMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        text,
		Metadata:       models.MessageMetadata{Source: source, Forwarded: data.Forwarded(), DisplayName: data.PushName},
	}
	if err := p.store.SaveMessage(ctx, userMsg); err != nil {
		log.WithError(err).Error("Failed to persist user message")
	}
	if err := p.store.ResetReengagement(ctx, conv.ID); err != nil {
		log.WithError(err).Warn("Failed to reset re-engagement counter")
	}
	p.metrics.MessagesProcessed.WithLabelValues(source).Inc()

	if !withinBusinessHours(account.Settings, time.Now().UTC()) {
		p.replyOutsideHours(ctx, account, tenant, instance, contactID, sendPhone, data.PushName, unresolved)
		return
	}

	// Humans read before they type.
	p.sleep(p.sender.ReadDelay())

	agent, err := p.store.GetActiveAgentConfig(ctx, tenant.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to load agent config, using defaults")
		agent = &models.AgentConfig{MaxHistory: 10}
	}

	history, err := p.store.GetMessageHistory(ctx, conv.ID, agent.MaxHistory)
	if err != nil {
		log.WithError(err).Warn("Failed to load message history")
	}

	state, err := p.machine.Load(ctx, conv.ID, tenant.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to load funnel state, using fresh in-memory state")
		state = models.NewConversationState(conv.ID, tenant.ID)
	}

	wantAudio := source == models.SourceAudio && agent.Voice != nil && agent.Voice.Enabled
	reply, err := p.engine.Reply(ctx, &ReplyRequest{
		Conversation: conv,
		State:        state,
		History:      history,
		Language:     language,
		Source:       source,
		Persona:      state.ActivePersona,
		Agent:        agent,
		WantAudio:    wantAudio,
	})
	if err != nil {
		// The stall phrase buys time while the engine recovers. It is
		// never written to history; throwaway text must not become
		// context for future turns.
		stallText := p.stall.next(language)
		log.WithError(err).Warn("Reasoning engine failed, sending stall phrase")
		p.dispatch(ctx, account, tenant, instance, contactID, sendPhone, data.PushName, stallText, "", unresolved)
		return
	}

	assistantMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        reply.Text,
		Metadata: models.MessageMetadata{
			Source:       source,
			Model:        reply.Model,
			InputTokens:  reply.InputTokens,
			OutputTokens: reply.OutputTokens,
			Cost:         reply.Cost,
		},
	}
	if err := p.store.SaveMessage(ctx, assistantMsg); err != nil {
		log.WithError(err).Error("Failed to persist assistant message")
	}

	p.machine.UpdateGuards(ctx, state, text, reply.Text, conv.ContactName)
	from := state.CurrentNode
	if p.machine.Evaluate(ctx, state, funnel.Classify(text), recentUserMessages(history, text)) {
		p.metrics.FunnelTransitions.WithLabelValues(string(from), string(state.CurrentNode)).Inc()
	}

	p.dispatch(ctx, account, tenant, instance, contactID, sendPhone, data.PushName, reply.Text, reply.AudioBase64, unresolved)
	p.metrics.ProcessingDuration.Observe(time.Since(started).Seconds())
}

// dispatch sends the reply or parks it for later, depending on whether
// the contact's identity resolved.
func (p *Pipeline) dispatch(ctx context.Context, account *models.ChannelAccount, tenant *models.Tenant, instance, contactID, sendPhone, pushName, text, audioBase64 string, unresolved bool) {
	if unresolved {
		if err := p.queue.QueuePendingIdentity(ctx, tenant.ID, account.ID, contactID, text, pushName); err != nil {
			p.logger.WithError(err).Error("Failed to park reply on pending-identity queue")
		}

		// One more resolution attempt shortly after; contacts events
		// often land right behind the message that needed them.
		p.sleep(2 * time.Second)
		resolved, err := p.resolver.Resolve(ctx, account.ID, instance, contactID, pushName)
		if err == nil && resolved != "" {
			if err := p.queue.DeliverPendingBatch(ctx, account.ID, instance, contactID, resolved); err != nil {
				p.logger.WithError(err).Warn("Late delivery of pending batch failed")
			}
		}
		return
	}

	kind := "text"
	sent := false
	if audioBase64 != "" {
		kind = "audio"
		sent = p.sender.SendAudio(ctx, instance, tenant.ID, account.ID, sendPhone, text, audioBase64)
	} else {
		sent = p.sender.SendText(ctx, instance, tenant.ID, account.ID, sendPhone, text)
	}
	if sent {
		p.metrics.RepliesSent.WithLabelValues(kind).Inc()
	} else {
		p.metrics.SendFailures.Inc()
	}
}

func (p *Pipeline) replyOutsideHours(ctx context.Context, account *models.ChannelAccount, tenant *models.Tenant, instance, contactID, sendPhone, pushName string, unresolved bool) {
	msg := account.Settings.OutsideHoursMessage
	if msg == "" {
		return
	}
	p.dispatch(ctx, account, tenant, instance, contactID, sendPhone, pushName, msg, "", unresolved)
}

func (p *Pipeline) extractContent(ctx context.Context, instance string, data *models.GatewayMessageData) (string, string) {
	if text := data.Text(); text != "" {
		return text, models.SourceText
	}
	if data.IsAudio() {
		transcript, err := p.engine.Transcribe(ctx, instance, data)
		if err != nil || transcript == "" {
			return "", models.SourceAudioFailed
		}
		return transcript, models.SourceAudio
	}
	return "", models.SourceUnsupported
}

// inboundContactID extracts who the message is from: a bare phone when the
// chat is phone-addressed, the opaque jid when it is not and no phone
// participant is attached.
func inboundContactID(data *models.GatewayMessageData) string {
	remote := data.Key.RemoteJID
	if models.IsPhoneJID(remote) {
		return models.PhoneFromJID(remote)
	}
	if models.IsOpaqueJID(remote) {
		if models.IsPhoneJID(data.Key.Participant) {
			return models.PhoneFromJID(data.Key.Participant)
		}
		return remote
	}
	if p := data.Key.Participant; p != "" {
		return models.PhoneFromJID(p)
	}
	return ""
}

// withinBusinessHours checks the account's "HH:MM" UTC window. Windows
// crossing midnight wrap; an unset window is always open.
func withinBusinessHours(settings models.AccountSettings, now time.Time) bool {
	if settings.BusinessHoursStart == "" || settings.BusinessHoursEnd == "" {
		return true
	}
	start, err1 := time.Parse("15:04", settings.BusinessHoursStart)
	end, err2 := time.Parse("15:04", settings.BusinessHoursEnd)
	if err1 != nil || err2 != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()
	if s <= e {
		return cur >= s && cur <= e
	}
	return cur >= s || cur <= e
}

func recentUserMessages(history []*models.Message, current string) []string {
	var out []string
	for _, m := range history {
		if m.Role == models.RoleUser {
			out = append(out, m.Content)
		}
	}
	if len(out) == 0 || out[len(out)-1] != current {
		out = append(out, current)
	}
	return out
}
