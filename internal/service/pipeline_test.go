package service

import (
	"context"
	"testing"
	"time"

	"chatfunnel/internal/funnel"
	"chatfunnel/internal/identity"
	"chatfunnel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessIncomingHappyPath(t *testing.T) {
	f := newPipelineFixture()
	f.engine.reply = &Reply{Text: "prazer, como posso ajudar?", Model: "sales-v1", InputTokens: 10, OutputTokens: 5}

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "Maria Silva", "oi, tudo bem?"))

	require.Len(t, f.gw.sentMessages(), 1)
	assert.Equal(t, "prazer, como posso ajudar?", f.gw.sentMessages()[0])

	msgs := f.store.savedMessages("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "oi, tudo bem?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "sales-v1", msgs[1].Metadata.Model)
	assert.Equal(t, 10, msgs[1].Metadata.InputTokens)

	assert.Equal(t, 1, f.machine.guards)
	require.Len(t, f.engine.requests, 1)
	assert.Equal(t, models.PersonaPrimary, f.engine.requests[0].Persona)
}

func TestProcessIncomingMarksForwarded(t *testing.T) {
	f := newPipelineFixture()

	event := &models.GatewayEvent{Event: models.EventMessagesUpsert, Instance: "acme-main"}
	event.Data.Key.RemoteJID = "5511999990000@s.whatsapp.net"
	event.Data.Key.ID = "msg-fwd"
	event.Data.Message.ExtendedTextMessage = &struct {
		Text        string                     `json:"text"`
		ContextInfo *models.GatewayContextInfo `json:"contextInfo,omitempty"`
	}{
		Text:        "olha essa promocao que recebi",
		ContextInfo: &models.GatewayContextInfo{IsForwarded: true, ForwardingScore: 2},
	}
	f.pipeline.ProcessEvent(context.Background(), event)

	msgs := f.store.savedMessages("conv-1")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Metadata.Forwarded)
	assert.False(t, msgs[1].Metadata.Forwarded)
}

func TestProcessIncomingLocksLanguageOnFirstMessage(t *testing.T) {
	f := newPipelineFixture()

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "hello, can you help me with my business?"))
	require.Len(t, f.engine.requests, 1)
	assert.Equal(t, "en", f.engine.requests[0].Language)

	// A later Portuguese message keeps the locked language.
	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-2", "", "oi, tudo bem com voce?"))
	require.Len(t, f.engine.requests, 2)
	assert.Equal(t, "en", f.engine.requests[1].Language)
}

func TestProcessIncomingDuplicateDropped(t *testing.T) {
	f := newPipelineFixture()
	event := textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi")

	f.pipeline.ProcessEvent(context.Background(), event)
	f.pipeline.ProcessEvent(context.Background(), event)

	assert.Len(t, f.gw.sentMessages(), 1)
	assert.Len(t, f.store.savedMessages("conv-1"), 2)
}

func TestProcessIncomingUnknownInstanceDropped(t *testing.T) {
	f := newPipelineFixture()

	f.pipeline.ProcessEvent(context.Background(), textEvent("ghost-instance", "5511999990000@s.whatsapp.net", "msg-1", "", "oi"))

	assert.Empty(t, f.gw.sentMessages())
	assert.Empty(t, f.store.conversations)
}

func TestProcessIncomingBillingGate(t *testing.T) {
	f := newPipelineFixture()
	f.store.tenant.BillingActive = false

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi"))

	assert.Empty(t, f.gw.sentMessages())
	assert.Empty(t, f.store.conversations)
}

func TestProcessIncomingSuspendedTenantDropped(t *testing.T) {
	f := newPipelineFixture()
	f.store.tenant.Status = models.TenantSuspended

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi"))

	assert.Empty(t, f.gw.sentMessages())
}

func TestProcessIncomingPausedInstanceDropped(t *testing.T) {
	f := newPipelineFixture()
	require.NoError(t, f.cache.Set(context.Background(), "admin:paused:acme-main", "1", 0))

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi"))

	assert.Empty(t, f.gw.sentMessages())
}

func TestProcessIncomingBlockedContactDropped(t *testing.T) {
	f := newPipelineFixture()
	require.NoError(t, f.cache.Set(context.Background(), "block:account-1:5511999990000", "1", 0))

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi"))

	assert.Empty(t, f.gw.sentMessages())
}

func TestProcessIncomingResolvedOpaqueContact(t *testing.T) {
	f := newPipelineFixture()
	f.resolver.phones["99887766@lid"] = "5511999990000"

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "99887766@lid", "msg-1", "Maria", "oi, quero saber mais"))

	require.Len(t, f.gw.sentMessages(), 1)
	// Conversation is keyed by the resolved phone, not the opaque id.
	conv, ok := f.store.conversations["account-1|5511999990000"]
	require.True(t, ok)
	assert.False(t, conv.Opaque)
}

func TestProcessIncomingUnresolvedOpaqueParksReply(t *testing.T) {
	f := newPipelineFixture()

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "99887766@lid", "msg-1", "Maria", "oi, quero saber mais"))

	assert.Empty(t, f.gw.sentMessages())
	parked := f.queue.byClass(models.QueuePendingIdentity)
	require.Len(t, parked, 1)
	assert.Equal(t, "99887766@lid", parked[0].destination)

	conv, ok := f.store.conversations["account-1|99887766@lid"]
	require.True(t, ok)
	assert.True(t, conv.Opaque)
}

func TestProcessIncomingLateResolutionReleasesBatch(t *testing.T) {
	f := newPipelineFixture()
	// First resolve attempt fails, the retry after parking succeeds.
	calls := 0
	resolver := f.resolver
	f.pipeline.resolver = resolverFunc(func(opaqueID string) (string, error) {
		calls++
		if calls >= 2 {
			return "5511999990000", nil
		}
		return "", nil
	}, resolver)

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "99887766@lid", "msg-1", "", "oi"))

	require.Len(t, f.queue.batches, 1)
	assert.Equal(t, "99887766@lid->5511999990000", f.queue.batches[0])
}

func TestProcessIncomingEngineFailureSendsStallPhrase(t *testing.T) {
	f := newPipelineFixture()
	f.engine.err = errGatewayDown

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi, tudo bem?"))

	require.Len(t, f.gw.sentMessages(), 1)
	assert.Contains(t, stallReplies["pt"], f.gw.sentMessages()[0])

	// Stall phrases never become history.
	msgs := f.store.savedMessages("conv-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestProcessIncomingStallPhrasesRotate(t *testing.T) {
	f := newPipelineFixture()
	f.engine.err = errGatewayDown

	for i := 0; i < 3; i++ {
		f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", string(rune('a'+i)), "", "oi, tudo bem?"))
	}

	sent := f.gw.sentMessages()
	require.Len(t, sent, 3)
	assert.NotEqual(t, sent[0], sent[1])
	assert.NotEqual(t, sent[1], sent[2])
}

func TestProcessIncomingOutsideBusinessHours(t *testing.T) {
	f := newPipelineFixture()
	// A one-minute window two hours from now is always closed.
	now := time.Now().UTC()
	f.store.account.Settings = models.AccountSettings{
		BusinessHoursStart:  now.Add(2 * time.Hour).Format("15:04"),
		BusinessHoursEnd:    now.Add(2*time.Hour + time.Minute).Format("15:04"),
		OutsideHoursMessage: "Estamos fora do horario, volto a falar amanha!",
	}

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "", "oi"))

	require.Len(t, f.gw.sentMessages(), 1)
	assert.Equal(t, "Estamos fora do horario, volto a falar amanha!", f.gw.sentMessages()[0])
	// User message still persisted; the engine is never called.
	assert.Len(t, f.store.savedMessages("conv-1"), 1)
	assert.Empty(t, f.engine.requests)
}

func TestProcessIncomingAudioTranscribedAndVoiceReply(t *testing.T) {
	f := newPipelineFixture()
	f.engine.transcript = "quero saber o preco"
	f.engine.reply = &Reply{Text: "claro, te explico", AudioBase64: "b64-audio"}
	f.store.agent = &models.AgentConfig{MaxHistory: 10, Voice: &models.VoiceConfig{Enabled: true, Voice: "ash"}}

	event := &models.GatewayEvent{Event: models.EventMessagesUpsert, Instance: "acme-main"}
	event.Data.Key.RemoteJID = "5511999990000@s.whatsapp.net"
	event.Data.Key.ID = "msg-1"
	event.Data.Message.AudioMessage = &struct {
		URL             string                     `json:"url"`
		MimeType        string                     `json:"mimetype"`
		DurationSeconds int                        `json:"seconds"`
		ContextInfo     *models.GatewayContextInfo `json:"contextInfo,omitempty"`
	}{URL: "https://cdn/audio.ogg"}

	f.pipeline.ProcessEvent(context.Background(), event)

	require.Len(t, f.gw.audio, 1)
	assert.Equal(t, "b64-audio", f.gw.audio[0])
	require.Len(t, f.engine.requests, 1)
	assert.True(t, f.engine.requests[0].WantAudio)
	msgs := f.store.savedMessages("conv-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "quero saber o preco", msgs[0].Content)
	assert.Equal(t, models.SourceAudio, msgs[0].Metadata.Source)
}

func TestDuplicateAudioNotRetranscribed(t *testing.T) {
	f := newPipelineFixture()
	f.engine.transcript = "quero saber o preco"

	event := &models.GatewayEvent{Event: models.EventMessagesUpsert, Instance: "acme-main"}
	event.Data.Key.RemoteJID = "5511999990000@s.whatsapp.net"
	event.Data.Key.ID = "msg-1"
	event.Data.Message.AudioMessage = &struct {
		URL             string                     `json:"url"`
		MimeType        string                     `json:"mimetype"`
		DurationSeconds int                        `json:"seconds"`
		ContextInfo     *models.GatewayContextInfo `json:"contextInfo,omitempty"`
	}{URL: "https://cdn/audio.ogg"}

	f.pipeline.ProcessEvent(context.Background(), event)
	f.pipeline.ProcessEvent(context.Background(), event)

	// The replay is dropped at admission, before the paid transcription call.
	assert.Equal(t, 1, f.engine.transcribeSeen)
	assert.Len(t, f.gw.sentMessages(), 1)
}

func TestProcessIncomingAudioTranscriptionFailureDropped(t *testing.T) {
	f := newPipelineFixture()
	f.engine.transcribeErr = errGatewayDown

	event := &models.GatewayEvent{Event: models.EventMessagesUpsert, Instance: "acme-main"}
	event.Data.Key.RemoteJID = "5511999990000@s.whatsapp.net"
	event.Data.Key.ID = "msg-1"
	event.Data.Message.AudioMessage = &struct {
		URL             string                     `json:"url"`
		MimeType        string                     `json:"mimetype"`
		DurationSeconds int                        `json:"seconds"`
		ContextInfo     *models.GatewayContextInfo `json:"contextInfo,omitempty"`
	}{URL: "https://cdn/audio.ogg"}

	f.pipeline.ProcessEvent(context.Background(), event)

	assert.Empty(t, f.gw.sentMessages())
	assert.Empty(t, f.store.conversations)
}

func TestContactsEventReleasesParkedReplies(t *testing.T) {
	f := newPipelineFixture()
	f.resolver.learned = []identity.LearnedPair{{OpaqueID: "99887766@lid", Phone: "5511999990000"}}

	f.pipeline.ProcessEvent(context.Background(), &models.GatewayEvent{
		Event:    models.EventContactsUpsert,
		Instance: "acme-main",
		ContactData: []models.GatewayContactData{
			{ID: "99887766@lid", RemoteJID: "5511999990000@s.whatsapp.net", PushName: "Maria"},
		},
	})

	require.Len(t, f.queue.batches, 1)
	assert.Equal(t, "99887766@lid->5511999990000", f.queue.batches[0])
}

func TestSentMessageFeedsIdentityLearning(t *testing.T) {
	f := newPipelineFixture()

	event := textEvent("acme-main", "99887766@lid", "msg-1", "", "any")
	event.Data.Key.FromMe = true
	event.Data.Key.Participant = "5511999990000@s.whatsapp.net"
	f.pipeline.ProcessEvent(context.Background(), event)

	assert.Equal(t, 1, f.resolver.sentSeen)
	assert.Empty(t, f.store.conversations)
}

func TestInboundContactID(t *testing.T) {
	cases := []struct {
		name        string
		remote      string
		participant string
		want        string
	}{
		{"phone chat", "5511999990000@s.whatsapp.net", "", "5511999990000"},
		{"opaque with phone participant", "99887766@lid", "5511999990000@s.whatsapp.net", "5511999990000"},
		{"opaque without participant", "99887766@lid", "", "99887766@lid"},
		{"group participant", "group-123@g.us", "5511988887777@s.whatsapp.net", "5511988887777"},
		{"empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := &models.GatewayMessageData{}
			data.Key.RemoteJID = tc.remote
			data.Key.Participant = tc.participant
			assert.Equal(t, tc.want, inboundContactID(data))
		})
	}
}

func TestWithinBusinessHours(t *testing.T) {
	mk := func(start, end string) models.AccountSettings {
		return models.AccountSettings{BusinessHoursStart: start, BusinessHoursEnd: end}
	}
	at := func(hhmm string) time.Time {
		parsed, err := time.Parse("15:04", hhmm)
		require.NoError(t, err)
		return parsed
	}

	assert.True(t, withinBusinessHours(mk("", ""), at("03:00")))
	assert.True(t, withinBusinessHours(mk("09:00", "18:00"), at("12:00")))
	assert.False(t, withinBusinessHours(mk("09:00", "18:00"), at("20:00")))
	// Window wrapping midnight.
	assert.True(t, withinBusinessHours(mk("22:00", "06:00"), at("23:30")))
	assert.True(t, withinBusinessHours(mk("22:00", "06:00"), at("03:00")))
	assert.False(t, withinBusinessHours(mk("22:00", "06:00"), at("12:00")))
}

func TestRecentUserMessagesIncludesCurrent(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleUser, Content: "primeira"},
		{Role: models.RoleAssistant, Content: "resposta"},
		{Role: models.RoleUser, Content: "segunda"},
	}
	got := recentUserMessages(history, "segunda")
	assert.Equal(t, []string{"primeira", "segunda"}, got)

	got = recentUserMessages(history[:2], "nova")
	assert.Equal(t, []string{"primeira", "nova"}, got)
}

func TestProcessIncomingFunnelTransitionRecorded(t *testing.T) {
	f := newPipelineFixture()
	f.machine.moved = true

	f.pipeline.ProcessEvent(context.Background(), textEvent("acme-main", "5511999990000@s.whatsapp.net", "msg-1", "Maria", "quanto custa o plano?"))

	require.Len(t, f.machine.intents, 1)
	assert.Equal(t, funnel.IntentObjectionPrice, f.machine.intents[0])
}

// resolverFunc adapts a closure into an IdentityResolver for tests that
// need per-call behavior, delegating learning to the wrapped fake.
type resolverFuncT struct {
	fn   func(opaqueID string) (string, error)
	base *fakeResolver
}

func resolverFunc(fn func(opaqueID string) (string, error), base *fakeResolver) *resolverFuncT {
	return &resolverFuncT{fn: fn, base: base}
}

func (r *resolverFuncT) Resolve(_ context.Context, _, _, opaqueID, _ string) (string, error) {
	return r.fn(opaqueID)
}

func (r *resolverFuncT) LearnFromContactsEvent(ctx context.Context, accountID string, entries []models.GatewayContactData) []identity.LearnedPair {
	return r.base.LearnFromContactsEvent(ctx, accountID, entries)
}

func (r *resolverFuncT) LearnFromSentMessage(ctx context.Context, accountID, instance string, data *models.GatewayMessageData) {
	r.base.LearnFromSentMessage(ctx, accountID, instance, data)
}
