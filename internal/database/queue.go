package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatfunnel/internal/models"

	"github.com/google/uuid"
)

// EnqueueDelivery stores an outbound message for a later attempt. The
// entry id is assigned here and written back to the struct.
func (d *Database) EnqueueDelivery(ctx context.Context, e *models.QueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode queue metadata: %w", err)
	}
	encDest, err := d.encryptor.EncryptForLookupIfEnabled(e.Destination)
	if err != nil {
		return fmt.Errorf("failed to encrypt destination: %w", err)
	}
	encContent, err := d.encryptor.EncryptIfEnabled(e.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt queued content: %w", err)
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = time.Now().UTC()
	}

	_, err = d.exec(ctx, `
		INSERT INTO delivery_queue
			(id, tenant_id, account_id, destination, content, class,
			 attempts, max_attempts, next_attempt_at, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.AccountID, encDest, encContent, e.Class,
		e.Attempts, e.MaxAttempts, e.NextAttemptAt.UTC(), models.QueueStatusPending, string(meta))
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	e.Status = models.QueueStatusPending
	return nil
}

const queueSelectColumns = `
	q.id, q.tenant_id, q.account_id, q.destination, q.content, q.class,
	q.attempts, q.max_attempts, q.next_attempt_at, q.status, q.metadata,
	q.created_at, q.updated_at, a.instance_name
`

// ClaimEligible returns pending entries of one class whose next attempt is
// due, oldest first, joined with the gateway instance that should send
// them. Entries that burned through their attempts are left for the
// expiry sweep.
func (d *Database) ClaimEligible(ctx context.Context, class models.QueueClass, limit int) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + queueSelectColumns + `
		FROM delivery_queue q
		JOIN channel_accounts a ON a.id = q.account_id
		WHERE q.status = ? AND q.class = ? AND q.next_attempt_at <= ? AND q.attempts < q.max_attempts
		ORDER BY q.next_attempt_at ASC
		LIMIT ?
	`
	rows, err := d.query(ctx, query, models.QueueStatusPending, class, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entries: %w", err)
	}
	defer rows.Close()
	return d.scanQueueEntries(rows)
}

// PendingForDestination lists every pending entry of one class addressed
// to a destination, oldest first. Used to replay a pending-identity
// backlog as one batch once the identity resolves.
func (d *Database) PendingForDestination(ctx context.Context, accountID, destination string, class models.QueueClass) ([]*models.QueueEntry, error) {
	encDest, err := d.encryptor.EncryptForLookupIfEnabled(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt destination: %w", err)
	}
	query := `
		SELECT ` + queueSelectColumns + `
		FROM delivery_queue q
		JOIN channel_accounts a ON a.id = q.account_id
		WHERE q.account_id = ? AND q.destination = ? AND q.status = ? AND q.class = ?
		ORDER BY q.created_at ASC
	`
	rows, err := d.query(ctx, query, accountID, encDest, models.QueueStatusPending, class)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deliveries: %w", err)
	}
	defer rows.Close()
	return d.scanQueueEntries(rows)
}

// PendingIdentityBacklog returns the distinct opaque destinations still
// awaiting resolution, up to limit, oldest backlog first.
func (d *Database) PendingIdentityBacklog(ctx context.Context, limit int) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + queueSelectColumns + `
		FROM delivery_queue q
		JOIN channel_accounts a ON a.id = q.account_id
		WHERE q.status = ? AND q.class = ?
		ORDER BY q.created_at ASC
		LIMIT ?
	`
	rows, err := d.query(ctx, query, models.QueueStatusPending, models.QueuePendingIdentity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity backlog: %w", err)
	}
	defer rows.Close()
	entries, err := d.scanQueueEntries(rows)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var distinct []*models.QueueEntry
	for _, e := range entries {
		key := e.AccountID + "|" + e.Destination
		if seen[key] {
			continue
		}
		seen[key] = true
		distinct = append(distinct, e)
	}
	return distinct, nil
}

// MarkDelivered flips entries to their terminal delivered status in one
// statement, so a resolved batch lands atomically.
func (d *Database) MarkDelivered(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, models.QueueStatusDelivered)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE delivery_queue SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (` + placeholders + `)`
	if _, err := d.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark entries delivered: %w", err)
	}
	return nil
}

// BumpAttempt records a failed attempt and reschedules the entry with
// exponential backoff from the base interval. The last error is kept in
// entry metadata for operators.
func (d *Database) BumpAttempt(ctx context.Context, id, lastError string, base time.Duration) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	var metaJSON string
	err = tx.QueryRowContext(ctx,
		d.rebind(`SELECT attempts, metadata FROM delivery_queue WHERE id = ?`), id,
	).Scan(&attempts, &metaJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("queue entry %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read queue entry: %w", err)
	}

	meta := map[string]string{}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		meta = map[string]string{}
	}
	meta[models.QueueMetaLastError] = lastError
	metaOut, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode queue metadata: %w", err)
	}

	next := time.Now().UTC().Add(base * (1 << uint(attempts)))
	_, err = tx.ExecContext(ctx, d.rebind(`
		UPDATE delivery_queue
		SET attempts = attempts + 1, next_attempt_at = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`), next, string(metaOut), id)
	if err != nil {
		return fmt.Errorf("failed to bump queue attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attempt bump: %w", err)
	}
	return nil
}

// ExpireOlderThan marks pending entries created before the cutoff as
// expired and returns how many were swept.
func (d *Database) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.exec(ctx, `
		UPDATE delivery_queue SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND created_at < ?
	`, models.QueueStatusExpired, models.QueueStatusPending, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired entries: %w", err)
	}
	return n, nil
}

// CountPending returns the pending backlog size per class, for gauges.
func (d *Database) CountPending(ctx context.Context, class models.QueueClass) (int, error) {
	var n int
	err := d.queryRow(ctx,
		`SELECT COUNT(*) FROM delivery_queue WHERE status = ? AND class = ?`,
		models.QueueStatusPending, class,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

func (d *Database) scanQueueEntries(rows *sql.Rows) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	for rows.Next() {
		e := &models.QueueEntry{}
		var dest, content, metaJSON string
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.AccountID, &dest, &content, &e.Class,
			&e.Attempts, &e.MaxAttempts, &e.NextAttemptAt, &e.Status, &metaJSON,
			&e.CreatedAt, &e.UpdatedAt, &e.InstanceName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if e.Destination, err = d.encryptor.DecryptIfEnabled(dest); err != nil {
			return nil, fmt.Errorf("failed to decrypt destination: %w", err)
		}
		if e.Content, err = d.encryptor.DecryptIfEnabled(content); err != nil {
			return nil, fmt.Errorf("failed to decrypt queued content: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			e.Metadata = map[string]string{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
