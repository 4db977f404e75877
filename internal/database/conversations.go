package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatfunnel/internal/models"

	"github.com/google/uuid"
)

// GetOrCreateConversation returns the canonical conversation for
// (account, contact phone), creating it if absent. The upsert keeps
// creation idempotent under concurrent callers: the unique index decides
// who wins and everyone reads the same row back.
func (d *Database) GetOrCreateConversation(ctx context.Context, tenantID, accountID, contactPhone, contactName string, opaque bool) (*models.Conversation, error) {
	phone, err := d.encryptor.EncryptForLookupIfEnabled(contactPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt contact phone: %w", err)
	}
	name, err := d.encryptor.EncryptIfEnabled(contactName)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt contact name: %w", err)
	}

	query := `
		INSERT INTO conversations (id, tenant_id, account_id, contact_phone, contact_name, opaque)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, contact_phone) DO UPDATE SET
			contact_name = CASE WHEN excluded.contact_name != '' THEN excluded.contact_name ELSE conversations.contact_name END,
			last_message_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := d.exec(ctx, query, uuid.NewString(), tenantID, accountID, phone, name, opaque); err != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}

	return d.getConversationByContact(ctx, accountID, phone)
}

func (d *Database) getConversationByContact(ctx context.Context, accountID, encryptedPhone string) (*models.Conversation, error) {
	query := `
		SELECT id, tenant_id, account_id, contact_phone, contact_name, opaque, stage, language,
		       last_message_at, reengagement_count, created_at, updated_at
		FROM conversations
		WHERE account_id = ? AND contact_phone = ?
	`
	return d.scanConversation(d.queryRow(ctx, query, accountID, encryptedPhone))
}

// GetConversation fetches a conversation by id, or nil when absent.
func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, tenant_id, account_id, contact_phone, contact_name, opaque, stage, language,
		       last_message_at, reengagement_count, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	conv, err := d.scanConversation(d.queryRow(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return conv, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var phone, name string
	err := row.Scan(
		&conv.ID, &conv.TenantID, &conv.AccountID, &phone, &name,
		&conv.Opaque, &conv.Stage, &conv.Language, &conv.LastMessageAt,
		&conv.ReengagementCount, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if conv.ContactPhone, err = d.encryptor.DecryptIfEnabled(phone); err != nil {
		return nil, fmt.Errorf("failed to decrypt contact phone: %w", err)
	}
	if conv.ContactName, err = d.encryptor.DecryptIfEnabled(name); err != nil {
		return nil, fmt.Errorf("failed to decrypt contact name: %w", err)
	}
	return conv, nil
}

// LockConversationLanguage stores the detected language, but only when no
// language has been locked yet; the first detection wins for good.
func (d *Database) LockConversationLanguage(ctx context.Context, conversationID, tenantID, language string) error {
	query := `
		UPDATE conversations
		SET language = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND tenant_id = ? AND language = ''
	`
	if _, err := d.exec(ctx, query, language, conversationID, tenantID); err != nil {
		return fmt.Errorf("failed to lock conversation language: %w", err)
	}
	return nil
}

// ResetReengagement clears the re-engagement counter. Called on every
// inbound user message.
func (d *Database) ResetReengagement(ctx context.Context, conversationID string) error {
	query := `
		UPDATE conversations
		SET reengagement_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := d.exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("failed to reset reengagement counter: %w", err)
	}
	return nil
}

// IncrementReengagement bumps the re-engagement attempt counter.
func (d *Database) IncrementReengagement(ctx context.Context, conversationID string) error {
	query := `
		UPDATE conversations
		SET reengagement_count = reengagement_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := d.exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("failed to increment reengagement counter: %w", err)
	}
	return nil
}

// GetStaleConversations finds conversations whose latest message is from
// the contact and older than the cutoff, excluding closed funnels and
// conversations already re-engaged too often.
func (d *Database) GetStaleConversations(ctx context.Context, tenantID string, olderThan time.Time, maxReengagement int) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.tenant_id, c.account_id, c.contact_phone, c.contact_name, c.opaque, c.stage,
		       c.language, c.last_message_at, c.reengagement_count, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.tenant_id = ?
		  AND c.stage != 'closed'
		  AND c.reengagement_count < ?
		  AND c.last_message_at < ?
		  AND (SELECT m.role FROM messages m
		       WHERE m.conversation_id = c.id
		       ORDER BY m.created_at DESC LIMIT 1) = 'user'
		ORDER BY c.last_message_at ASC
	`
	rows, err := d.query(ctx, query, tenantID, maxReengagement, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv, err := d.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// SaveMessage appends one immutable message row.
func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	content, err := d.encryptor.EncryptIfEnabled(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt message content: %w", err)
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, metadata)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := d.exec(ctx, query, msg.ID, msg.ConversationID, msg.Role, content, string(meta)); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetMessageHistory returns the last N messages of a conversation,
// oldest first.
func (d *Database) GetMessageHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := d.query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query message history: %w", err)
	}
	defer rows.Close()

	var history []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var content, meta string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &content, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Content, err = d.encryptor.DecryptIfEnabled(content); err != nil {
			return nil, fmt.Errorf("failed to decrypt message content: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &msg.Metadata); err != nil {
			msg.Metadata = models.MessageMetadata{}
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
