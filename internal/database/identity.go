package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatfunnel/internal/models"

	"github.com/google/uuid"
)

// GetIdentityMapping fetches the resolved mapping for an opaque id within
// one channel account, or nil when none exists.
func (d *Database) GetIdentityMapping(ctx context.Context, accountID, opaqueID string) (*models.IdentityMapping, error) {
	encOpaque, err := d.encryptor.EncryptForLookupIfEnabled(opaqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt opaque id: %w", err)
	}

	query := `
		SELECT id, account_id, opaque_id, phone, source, display_name, created_at, updated_at
		FROM identity_mappings
		WHERE account_id = ? AND opaque_id = ?
	`
	m := &models.IdentityMapping{}
	var opaque, phone string
	err = d.queryRow(ctx, query, accountID, encOpaque).Scan(
		&m.ID, &m.AccountID, &opaque, &phone, &m.Source, &m.DisplayName,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity mapping: %w", err)
	}

	if m.OpaqueID, err = d.encryptor.DecryptIfEnabled(opaque); err != nil {
		return nil, fmt.Errorf("failed to decrypt opaque id: %w", err)
	}
	if m.Phone, err = d.encryptor.DecryptIfEnabled(phone); err != nil {
		return nil, fmt.Errorf("failed to decrypt mapped phone: %w", err)
	}
	return m, nil
}

// SaveIdentityMapping persists a resolved mapping, honoring source trust:
// a write whose source ranks below the stored mapping's source is skipped
// and reports saved=false. The check and write share one transaction so
// concurrent writers cannot interleave between them.
func (d *Database) SaveIdentityMapping(ctx context.Context, m *models.IdentityMapping) (bool, error) {
	encOpaque, err := d.encryptor.EncryptForLookupIfEnabled(m.OpaqueID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt opaque id: %w", err)
	}
	encPhone, err := d.encryptor.EncryptForLookupIfEnabled(m.Phone)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt mapped phone: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingSource models.ResolutionSource
	err = tx.QueryRowContext(ctx,
		d.rebind(`SELECT source FROM identity_mappings WHERE account_id = ? AND opaque_id = ?`),
		m.AccountID, encOpaque,
	).Scan(&existingSource)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, d.rebind(`
			INSERT INTO identity_mappings (id, account_id, opaque_id, phone, source, display_name)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, opaque_id) DO UPDATE SET
				phone = excluded.phone,
				source = excluded.source,
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE identity_mappings.display_name END,
				updated_at = CURRENT_TIMESTAMP
		`), uuid.NewString(), m.AccountID, encOpaque, encPhone, m.Source, m.DisplayName)
		if err != nil {
			return false, fmt.Errorf("failed to insert identity mapping: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("failed to check existing mapping: %w", err)
	default:
		if m.Source.Priority() < existingSource.Priority() {
			return false, nil
		}
		_, err = tx.ExecContext(ctx, d.rebind(`
			UPDATE identity_mappings
			SET phone = ?, source = ?,
			    display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
			    updated_at = CURRENT_TIMESTAMP
			WHERE account_id = ? AND opaque_id = ?
		`), encPhone, m.Source, m.DisplayName, m.DisplayName, m.AccountID, encOpaque)
		if err != nil {
			return false, fmt.Errorf("failed to update identity mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit identity mapping: %w", err)
	}
	return true, nil
}

// PhoneMappedElsewhere reports whether a phone is already mapped to a
// different opaque id through a source more reliable than correlation.
// Used as a safety check before accepting a correlation guess.
func (d *Database) PhoneMappedElsewhere(ctx context.Context, accountID, phone, opaqueID string) (bool, error) {
	encPhone, err := d.encryptor.EncryptForLookupIfEnabled(phone)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt phone: %w", err)
	}
	encOpaque, err := d.encryptor.EncryptForLookupIfEnabled(opaqueID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt opaque id: %w", err)
	}

	query := `
		SELECT COUNT(*)
		FROM identity_mappings
		WHERE account_id = ? AND phone = ? AND opaque_id != ? AND source != ?
	`
	var n int
	if err := d.queryRow(ctx, query, accountID, encPhone, encOpaque, models.SourceCorrelation).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check phone mapping: %w", err)
	}
	return n > 0, nil
}

// UpsertGatewayContacts refreshes the local copy of the gateway's contact
// table for one account.
func (d *Database) UpsertGatewayContacts(ctx context.Context, accountID string, contacts []models.GatewayContact) error {
	query := `
		INSERT INTO gateway_contacts (account_id, jid, display_name, avatar_url, cached_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (account_id, jid) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			cached_at = CURRENT_TIMESTAMP
	`
	for _, c := range contacts {
		if c.JID == "" {
			continue
		}
		if _, err := d.exec(ctx, query, accountID, c.JID, c.DisplayName, c.AvatarURL); err != nil {
			return fmt.Errorf("failed to upsert gateway contact: %w", err)
		}
	}
	return nil
}

// GetGatewayContact returns the cached gateway contact for one jid.
func (d *Database) GetGatewayContact(ctx context.Context, accountID, jid string) (*models.GatewayContact, error) {
	query := `
		SELECT account_id, jid, display_name, avatar_url, cached_at
		FROM gateway_contacts
		WHERE account_id = ? AND jid = ?
	`
	c := &models.GatewayContact{}
	err := d.queryRow(ctx, query, accountID, jid).Scan(
		&c.AccountID, &c.JID, &c.DisplayName, &c.AvatarURL, &c.CachedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway contact: %w", err)
	}
	return c, nil
}

// FindPhoneByAvatar scans the cached contact table for a phone-addressed
// contact sharing the avatar signature. Signatures ignore signed query
// parameters, so the comparison happens here rather than in SQL.
func (d *Database) FindPhoneByAvatar(ctx context.Context, accountID, avatarURL string) (string, error) {
	if avatarURL == "" {
		return "", nil
	}
	query := `
		SELECT jid, avatar_url
		FROM gateway_contacts
		WHERE account_id = ? AND avatar_url != '' AND jid LIKE '%@s.whatsapp.net'
	`
	rows, err := d.query(ctx, query, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to query contacts by avatar: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var jid, url string
		if err := rows.Scan(&jid, &url); err != nil {
			return "", err
		}
		if models.SameAvatar(url, avatarURL) {
			return models.PhoneFromJID(jid), nil
		}
	}
	return "", rows.Err()
}

// FindUniquePhoneByName returns the phone of the single phone-addressed
// contact carrying the display name. Ambiguous names resolve to nothing.
func (d *Database) FindUniquePhoneByName(ctx context.Context, accountID, displayName string) (string, error) {
	if displayName == "" {
		return "", nil
	}
	query := `
		SELECT jid
		FROM gateway_contacts
		WHERE account_id = ? AND display_name = ? AND jid LIKE '%@s.whatsapp.net'
	`
	rows, err := d.query(ctx, query, accountID, displayName)
	if err != nil {
		return "", fmt.Errorf("failed to query contacts by name: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var jid string
		if err := rows.Scan(&jid); err != nil {
			return "", err
		}
		matches = append(matches, jid)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", nil
	}
	return models.PhoneFromJID(matches[0]), nil
}

// CorrelateByTimestamp attempts the last-resort resolution strategy:
// align the opaque conversation's recent inbound timestamps with
// phone-addressed traffic in the same account. A candidate is accepted
// only when it appears alongside a majority of the samples and no other
// phone does.
func (d *Database) CorrelateByTimestamp(ctx context.Context, accountID, opaqueID string, window time.Duration, minSamples, sampleLimit int) (string, error) {
	encOpaque, err := d.encryptor.EncryptForLookupIfEnabled(opaqueID)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt opaque id: %w", err)
	}

	var convID string
	err = d.queryRow(ctx,
		`SELECT id FROM conversations WHERE account_id = ? AND contact_phone = ? AND opaque = TRUE`,
		accountID, encOpaque,
	).Scan(&convID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find opaque conversation: %w", err)
	}

	rows, err := d.query(ctx, `
		SELECT created_at FROM messages
		WHERE conversation_id = ? AND role = 'user'
		ORDER BY created_at DESC LIMIT ?
	`, convID, sampleLimit)
	if err != nil {
		return "", fmt.Errorf("failed to query opaque message timestamps: %w", err)
	}
	defer rows.Close()

	var samples []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return "", err
		}
		samples = append(samples, ts)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(samples) < minSamples {
		return "", nil
	}

	counts := map[string]int{}
	for _, ts := range samples {
		phones, err := d.phonesActiveAround(ctx, accountID, convID, ts, window)
		if err != nil {
			return "", err
		}
		for _, p := range phones {
			counts[p]++
		}
	}

	minMatches := minSamples
	if majority := len(samples)/2 + 1; majority > minMatches {
		minMatches = majority
	}
	var candidate string
	for phone, count := range counts {
		if count < minMatches {
			continue
		}
		if candidate != "" {
			// More than one phone clears the bar; too ambiguous to trust.
			return "", nil
		}
		candidate = phone
	}
	if candidate == "" {
		return "", nil
	}

	mapped, err := d.PhoneMappedElsewhere(ctx, accountID, candidate, opaqueID)
	if err != nil {
		return "", err
	}
	if mapped {
		return "", nil
	}
	return candidate, nil
}

func (d *Database) phonesActiveAround(ctx context.Context, accountID, excludeConvID string, ts time.Time, window time.Duration) ([]string, error) {
	query := `
		SELECT DISTINCT c.contact_phone
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.account_id = ? AND c.opaque = FALSE AND c.id != ?
		  AND m.created_at BETWEEN ? AND ?
	`
	rows, err := d.query(ctx, query, accountID, excludeConvID, ts.Add(-window).UTC(), ts.Add(window).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query correlated traffic: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var enc string
		if err := rows.Scan(&enc); err != nil {
			return nil, err
		}
		phone, err := d.encryptor.DecryptIfEnabled(enc)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt correlated phone: %w", err)
		}
		phones = append(phones, phone)
	}
	return phones, rows.Err()
}
