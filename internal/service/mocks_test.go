package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatfunnel/internal/funnel"
	"chatfunnel/internal/identity"
	"chatfunnel/internal/metrics"
	"chatfunnel/internal/models"
	"chatfunnel/pkg/gateway"

	"github.com/sirupsen/logrus"
)

type fakeCache struct {
	mu       sync.Mutex
	values   map[string]string
	counters map[string]int64
	err      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}, counters: map[string]int64{}}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[key]; exists {
		return false, nil
	}
	c.values[key] = value
	return true, nil
}

func (c *fakeCache) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.counters, key)
	return nil
}

func (c *fakeCache) Healthy(context.Context) bool { return c.err == nil }
func (c *fakeCache) Close() error                 { return nil }

type fakeGateway struct {
	mu       sync.Mutex
	sent     []string
	sentTo   []string
	audio    []string
	presence []string
	sendErr  error
	audioErr error
	state    string
	stateErr error
}

func (g *fakeGateway) SendText(_ context.Context, _, phone, text string) (*gateway.SendResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.sent = append(g.sent, text)
	g.sentTo = append(g.sentTo, phone)
	return &gateway.SendResponse{Status: "PENDING"}, nil
}

func (g *fakeGateway) SendAudio(_ context.Context, _, phone, audioBase64 string) (*gateway.SendResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.audioErr != nil {
		return nil, g.audioErr
	}
	g.audio = append(g.audio, audioBase64)
	g.sentTo = append(g.sentTo, phone)
	return &gateway.SendResponse{Status: "PENDING"}, nil
}

func (g *fakeGateway) SetPresence(_ context.Context, _, _, presence string, _ int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.presence = append(g.presence, presence)
	return nil
}

func (g *fakeGateway) FetchContacts(context.Context, string) ([]models.GatewayContact, error) {
	return nil, nil
}

func (g *fakeGateway) FetchAvatar(context.Context, string, string) (string, error) {
	return "", nil
}

func (g *fakeGateway) ConnectionState(_ context.Context, _ string) (string, error) {
	if g.stateErr != nil {
		return "", g.stateErr
	}
	return g.state, nil
}

func (g *fakeGateway) sentMessages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

type queuedEntry struct {
	class       models.QueueClass
	destination string
	content     string
}

type fakeQueue struct {
	mu         sync.Mutex
	entries    []queuedEntry
	batches    []string
	batchErr   error
	enqueueErr error
}

func (q *fakeQueue) QueueFailed(_ context.Context, _, _, phone, content, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.entries = append(q.entries, queuedEntry{class: models.QueueFailedDelivery, destination: phone, content: content})
	return nil
}

func (q *fakeQueue) QueuePendingIdentity(_ context.Context, _, _, opaqueID, content, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.entries = append(q.entries, queuedEntry{class: models.QueuePendingIdentity, destination: opaqueID, content: content})
	return nil
}

func (q *fakeQueue) QueueAdminAlert(_ context.Context, _, _, adminPhone, content, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queuedEntry{class: models.QueueAdminAlert, destination: adminPhone, content: content})
	return nil
}

func (q *fakeQueue) DeliverPendingBatch(_ context.Context, _, _, opaqueID, phone string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.batchErr != nil {
		return q.batchErr
	}
	q.batches = append(q.batches, opaqueID+"->"+phone)
	return nil
}

func (q *fakeQueue) byClass(class models.QueueClass) []queuedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedEntry
	for _, e := range q.entries {
		if e.class == class {
			out = append(out, e)
		}
	}
	return out
}

type fakePipelineStore struct {
	mu            sync.Mutex
	account       *models.ChannelAccount
	tenant        *models.Tenant
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	agent         *models.AgentConfig
	stale         []*models.Conversation
	reengaged     map[string]int
	resets        int
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{
		account: &models.ChannelAccount{
			ID:           "account-1",
			TenantID:     "tenant-1",
			InstanceName: "acme-main",
			Active:       true,
		},
		tenant: &models.Tenant{
			ID:            "tenant-1",
			Slug:          "acme",
			Status:        models.TenantActive,
			BillingActive: true,
		},
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
		agent:         &models.AgentConfig{MaxHistory: 10},
		reengaged:     map[string]int{},
	}
}

func (s *fakePipelineStore) GetAccountByInstance(_ context.Context, instanceName string) (*models.ChannelAccount, *models.Tenant, error) {
	if instanceName != s.account.InstanceName {
		return nil, nil, nil
	}
	return s.account, s.tenant, nil
}

func (s *fakePipelineStore) GetOrCreateConversation(_ context.Context, tenantID, accountID, contactPhone, contactName string, opaque bool) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "|" + contactPhone
	if conv, ok := s.conversations[key]; ok {
		if conv.ContactName == "" && contactName != "" {
			conv.ContactName = contactName
		}
		return conv, nil
	}
	conv := &models.Conversation{
		ID:           fmt.Sprintf("conv-%d", len(s.conversations)+1),
		TenantID:     tenantID,
		AccountID:    accountID,
		ContactPhone: contactPhone,
		ContactName:  contactName,
		Opaque:       opaque,
		Stage:        models.NodeOpening,
	}
	s.conversations[key] = conv
	return conv, nil
}

func (s *fakePipelineStore) LockConversationLanguage(_ context.Context, conversationID, _, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ID == conversationID && conv.Language == "" {
			conv.Language = language
		}
	}
	return nil
}

func (s *fakePipelineStore) ResetReengagement(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *fakePipelineStore) SaveMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.CreatedAt = time.Now().UTC()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *fakePipelineStore) GetMessageHistory(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*models.Message(nil), msgs...), nil
}

func (s *fakePipelineStore) GetActiveAgentConfig(_ context.Context, _ string) (*models.AgentConfig, error) {
	return s.agent, nil
}

func (s *fakePipelineStore) ListActiveAccounts(_ context.Context) ([]*models.ChannelAccount, error) {
	return []*models.ChannelAccount{s.account}, nil
}

func (s *fakePipelineStore) GetStaleConversations(_ context.Context, tenantID string, _ time.Time, _ int) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for _, conv := range s.stale {
		if conv.TenantID == tenantID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (s *fakePipelineStore) IncrementReengagement(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reengaged[conversationID]++
	return nil
}

func (s *fakePipelineStore) savedMessages(conversationID string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Message(nil), s.messages[conversationID]...)
}

type fakeResolver struct {
	mu       sync.Mutex
	phones   map[string]string
	learned  []identity.LearnedPair
	sentSeen int
	calls    int
}

func (r *fakeResolver) Resolve(_ context.Context, _, _, opaqueID, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if phone, ok := r.phones[opaqueID]; ok {
		return phone, nil
	}
	return "", nil
}

func (r *fakeResolver) LearnFromContactsEvent(_ context.Context, _ string, _ []models.GatewayContactData) []identity.LearnedPair {
	return r.learned
}

func (r *fakeResolver) LearnFromSentMessage(_ context.Context, _, _ string, _ *models.GatewayMessageData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentSeen++
}

type fakeMachine struct {
	mu      sync.Mutex
	state   *models.ConversationState
	moved   bool
	guards  int
	intents []funnel.Intent
}

func (m *fakeMachine) Load(_ context.Context, conversationID, tenantID string) (*models.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = models.NewConversationState(conversationID, tenantID)
	}
	return m.state, nil
}

func (m *fakeMachine) Evaluate(_ context.Context, _ *models.ConversationState, intent funnel.Intent, _ []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, intent)
	return m.moved
}

func (m *fakeMachine) UpdateGuards(_ context.Context, _ *models.ConversationState, _, _, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guards++
}

type fakeEngine struct {
	mu             sync.Mutex
	reply          *Reply
	err            error
	transcript     string
	transcribeErr  error
	transcribeSeen int
	requests       []*ReplyRequest
}

func (e *fakeEngine) Reply(_ context.Context, req *ReplyRequest) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	if e.reply != nil {
		return e.reply, nil
	}
	return &Reply{Text: "ok", Model: "test-model"}, nil
}

func (e *fakeEngine) Transcribe(_ context.Context, _ string, _ *models.GatewayMessageData) (string, error) {
	e.mu.Lock()
	e.transcribeSeen++
	e.mu.Unlock()
	if e.transcribeErr != nil {
		return "", e.transcribeErr
	}
	return e.transcript, nil
}

type fakeSweeper struct {
	delivered int
	failed    int
	expired   int64
	resolved  int
	depths    map[models.QueueClass]int
	sweeps    int
}

func (s *fakeSweeper) RetrySweep(context.Context) (int, int) {
	s.sweeps++
	return s.delivered, s.failed
}

func (s *fakeSweeper) ExpireSweep(context.Context) int64 { return s.expired }

func (s *fakeSweeper) ResolvePendingSweep(context.Context) int {
	s.sweeps++
	return s.resolved
}

func (s *fakeSweeper) Depth(_ context.Context, class models.QueueClass) (int, error) {
	return s.depths[class], nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testSenderConfig() models.SenderConfig {
	return models.SenderConfig{
		SplitMaxChars:   80,
		TypingMsPerChar: 0,
		TypingMinMs:     0,
		TypingMaxMs:     0,
		ReadDelayMinMs:  0,
		ReadDelayMaxMs:  0,
		ChunkPauseMinMs: 0,
		ChunkPauseMaxMs: 0,
	}
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *fakePipelineStore
	gw       *fakeGateway
	queue    *fakeQueue
	resolver *fakeResolver
	machine  *fakeMachine
	engine   *fakeEngine
	cache    *fakeCache
	metrics  *metrics.Metrics
}

func newPipelineFixture() *pipelineFixture {
	logger := testLogger()
	store := newFakePipelineStore()
	gw := &fakeGateway{state: gateway.StateOpen}
	q := &fakeQueue{}
	resolver := &fakeResolver{phones: map[string]string{}}
	machine := &fakeMachine{}
	engine := &fakeEngine{}
	c := newFakeCache()
	m := metrics.New()

	sender := NewSender(gw, q, testSenderConfig(), logger)
	sender.sleep = func(time.Duration) {}
	gate := NewGate(c, time.Hour, logger)
	p := NewPipeline(store, resolver, machine, q, sender, engine, gate, m, logger)
	p.sleep = func(time.Duration) {}

	return &pipelineFixture{
		pipeline: p, store: store, gw: gw, queue: q,
		resolver: resolver, machine: machine, engine: engine,
		cache: c, metrics: m,
	}
}

func textEvent(instance, remoteJID, messageID, pushName, text string) *models.GatewayEvent {
	event := &models.GatewayEvent{Event: models.EventMessagesUpsert, Instance: instance}
	event.Data.Key.RemoteJID = remoteJID
	event.Data.Key.ID = messageID
	event.Data.PushName = pushName
	event.Data.Message.Conversation = text
	return event
}

var errGatewayDown = errors.New("gateway unreachable")
