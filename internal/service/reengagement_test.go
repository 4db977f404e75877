package service

import (
	"context"
	"testing"
	"time"

	"chatfunnel/internal/metrics"
	"chatfunnel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReengagement(store *fakePipelineStore, gw *fakeGateway) *ReengagementMonitor {
	m := NewReengagementMonitor(store, gw, metrics.New(), time.Minute, 25*time.Minute, 2, testLogger())
	m.sleep = func(time.Duration) {}
	return m
}

func TestReengagementSweepNudgesStaleConversation(t *testing.T) {
	store := newFakePipelineStore()
	gw := &fakeGateway{}
	store.stale = []*models.Conversation{{
		ID:           "conv-1",
		TenantID:     "tenant-1",
		AccountID:    "account-1",
		ContactPhone: "5511999990000",
		ContactName:  "Maria Silva",
		Language:     "pt",
	}}

	monitor := newTestReengagement(store, gw)
	sent := monitor.Sweep(context.Background())

	assert.Equal(t, 1, sent)
	require.Len(t, gw.sentMessages(), 1)
	assert.Contains(t, gw.sentMessages()[0], "Maria")
	assert.Equal(t, 1, store.reengaged["conv-1"])

	// The nudge lands in history so the engine knows it already spoke.
	msgs := store.savedMessages("conv-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "reengagement", msgs[0].Metadata.Source)
}

func TestReengagementSkipsOpaqueConversations(t *testing.T) {
	store := newFakePipelineStore()
	gw := &fakeGateway{}
	store.stale = []*models.Conversation{{
		ID:           "conv-1",
		TenantID:     "tenant-1",
		AccountID:    "account-1",
		ContactPhone: "99887766@lid",
		Opaque:       true,
	}}

	monitor := newTestReengagement(store, gw)
	assert.Equal(t, 0, monitor.Sweep(context.Background()))
	assert.Empty(t, gw.sentMessages())
}

func TestReengagementSendFailureDoesNotBumpCounter(t *testing.T) {
	store := newFakePipelineStore()
	gw := &fakeGateway{sendErr: errGatewayDown}
	store.stale = []*models.Conversation{{
		ID:           "conv-1",
		TenantID:     "tenant-1",
		AccountID:    "account-1",
		ContactPhone: "5511999990000",
	}}

	monitor := newTestReengagement(store, gw)
	assert.Equal(t, 0, monitor.Sweep(context.Background()))
	assert.Zero(t, store.reengaged["conv-1"])
	assert.Empty(t, store.savedMessages("conv-1"))
}

func TestReengagementMessagesRotateAndLocalize(t *testing.T) {
	store := newFakePipelineStore()
	monitor := newTestReengagement(store, &fakeGateway{})

	first := monitor.nextMessage("Maria Silva", "pt")
	second := monitor.nextMessage("Maria Silva", "pt")
	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "Maria")

	en := monitor.nextMessage("", "en")
	assert.NotContains(t, en, "Oi")

	// Business-sounding names never get spoken back.
	anon := monitor.nextMessage("Loja Oficial", "pt")
	assert.NotContains(t, anon, "Loja")
}

func TestReengagementDetectsLanguageFromLastUserMessage(t *testing.T) {
	store := newFakePipelineStore()
	gw := &fakeGateway{}
	store.stale = []*models.Conversation{{
		ID:           "conv-1",
		TenantID:     "tenant-1",
		AccountID:    "account-1",
		ContactPhone: "5511999990000",
		Language:     "pt",
	}}
	store.messages["conv-1"] = []*models.Message{
		{Role: models.RoleUser, Content: "hello, do you have an answer for me please?"},
	}

	monitor := newTestReengagement(store, gw)
	require.Equal(t, 1, monitor.Sweep(context.Background()))

	// First english template mentions "checking in".
	sent := gw.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "checking in")
}
