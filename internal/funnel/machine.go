package funnel

import (
	"context"
	"strings"

	"chatfunnel/internal/models"

	"github.com/sirupsen/logrus"
)

// StateStore is the persistence surface the machine drives.
type StateStore interface {
	GetOrCreateState(ctx context.Context, conversationID, tenantID string) (*models.ConversationState, error)
	TransitionState(ctx context.Context, state *models.ConversationState, to models.Node) error
	SaveGuardData(ctx context.Context, conversationID string, guards models.GuardData) error
}

// Machine evaluates the deterministic conversation funnel. Evaluation is
// purely regex and accumulated facts; the reasoning engine is never
// consulted for a transition.
type Machine struct {
	store  StateStore
	logger *logrus.Logger
}

func NewMachine(store StateStore, logger *logrus.Logger) *Machine {
	return &Machine{store: store, logger: logger}
}

// Load fetches (or lazily creates) the state for a conversation.
func (m *Machine) Load(ctx context.Context, conversationID, tenantID string) (*models.ConversationState, error) {
	return m.store.GetOrCreateState(ctx, conversationID, tenantID)
}

// Evaluate walks the transition table from the current node and applies
// the first transition whose guard passes. At most one hop happens per
// inbound message. A persistence failure is logged and the in-memory
// state still advances, so one bad write cannot wedge the conversation.
func (m *Machine) Evaluate(ctx context.Context, state *models.ConversationState, intent Intent, recentUserMessages []string) bool {
	in := &evalInput{
		guards: state.GuardData,
		intent: intent,
		recent: recentUserMessages,
	}

	for _, t := range transitionTable {
		if t.from != state.CurrentNode {
			continue
		}
		if !t.guard(in) {
			continue
		}

		m.logger.WithFields(logrus.Fields{
			"conversation_id": state.ConversationID,
			"from":            t.from,
			"to":              t.to,
			"guard":           t.name,
			"intent":          intent,
		}).Info("Funnel transition")

		if err := m.store.TransitionState(ctx, state, t.to); err != nil {
			m.logger.WithError(err).WithField("conversation_id", state.ConversationID).
				Error("Failed to persist transition")
			state.PreviousNode = state.CurrentNode
			state.CurrentNode = t.to
			state.ActivePersona = models.PersonaForNode(t.to)
			state.TransitionCount++
		}
		return true
	}
	return false
}

// UpdateGuards folds the latest exchange into the guard facts. Facts only
// accumulate; nothing ever unsets them. The write is skipped when nothing
// changed, and a failed write keeps the in-memory copy so the next
// evaluation still sees the facts.
func (m *Machine) UpdateGuards(ctx context.Context, state *models.ConversationState, userMessage, assistantReply, contactName string) {
	updated := state.GuardData

	if contactName != "" {
		updated.HasName = true
	}
	if MentionsBusinessType(userMessage) {
		updated.HasBusinessType = true
	}
	if MentionsPainPoint(userMessage) {
		updated.HasPainPoint = true
	}
	if strings.Contains(assistantReply, "?") {
		updated.QuestionCount++
	}

	if updated == state.GuardData {
		return
	}
	state.GuardData = updated

	if err := m.store.SaveGuardData(ctx, state.ConversationID, updated); err != nil {
		m.logger.WithError(err).WithField("conversation_id", state.ConversationID).
			Error("Failed to persist guard data")
	}
}
