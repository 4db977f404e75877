package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatfunnel/internal/models"

	"github.com/google/uuid"
)

// GetOrCreateState loads the funnel state for a conversation, creating the
// fixed initial state the first time a conversation is evaluated.
func (d *Database) GetOrCreateState(ctx context.Context, conversationID, tenantID string) (*models.ConversationState, error) {
	state, err := d.getState(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	initial := models.NewConversationState(conversationID, tenantID)
	initial.ID = uuid.NewString()
	_, err = d.exec(ctx, `
		INSERT INTO conversation_states (id, conversation_id, tenant_id, current_node, active_persona)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO NOTHING
	`, initial.ID, conversationID, tenantID, initial.CurrentNode, initial.ActivePersona)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation state: %w", err)
	}

	// Re-read in case a concurrent evaluator won the insert.
	state, err = d.getState(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("conversation state missing after create for %s", conversationID)
	}
	return state, nil
}

func (d *Database) getState(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	query := `
		SELECT id, conversation_id, tenant_id, current_node, previous_node,
		       active_persona, guard_data, transition_count, updated_at
		FROM conversation_states
		WHERE conversation_id = ?
	`
	s := &models.ConversationState{}
	var guardJSON string
	err := d.queryRow(ctx, query, conversationID).Scan(
		&s.ID, &s.ConversationID, &s.TenantID, &s.CurrentNode, &s.PreviousNode,
		&s.ActivePersona, &guardJSON, &s.TransitionCount, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	if err := json.Unmarshal([]byte(guardJSON), &s.GuardData); err != nil {
		return nil, fmt.Errorf("failed to decode guard data: %w", err)
	}
	return s, nil
}

// TransitionState moves a conversation to a new node. The state row and
// the conversation's stage column change in one transaction so the two
// never disagree.
func (d *Database) TransitionState(ctx context.Context, state *models.ConversationState, to models.Node) error {
	if !to.Valid() {
		return fmt.Errorf("invalid funnel node %q", to)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	persona := models.PersonaForNode(to)
	_, err = tx.ExecContext(ctx, d.rebind(`
		UPDATE conversation_states
		SET previous_node = current_node, current_node = ?, active_persona = ?,
		    transition_count = transition_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE conversation_id = ?
	`), to, persona, state.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation state: %w", err)
	}

	_, err = tx.ExecContext(ctx, d.rebind(`
		UPDATE conversations SET stage = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`), to, state.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation stage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	state.PreviousNode = state.CurrentNode
	state.CurrentNode = to
	state.ActivePersona = persona
	state.TransitionCount++
	return nil
}

// SaveGuardData persists the accumulated guard facts for a conversation.
func (d *Database) SaveGuardData(ctx context.Context, conversationID string, guards models.GuardData) error {
	payload, err := json.Marshal(guards)
	if err != nil {
		return fmt.Errorf("failed to encode guard data: %w", err)
	}
	_, err = d.exec(ctx, `
		UPDATE conversation_states SET guard_data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE conversation_id = ?
	`, string(payload), conversationID)
	if err != nil {
		return fmt.Errorf("failed to save guard data: %w", err)
	}
	return nil
}
