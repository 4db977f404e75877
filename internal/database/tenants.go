package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatfunnel/internal/constants"
	"chatfunnel/internal/models"

	"github.com/google/uuid"
)

// GetAccountByInstance resolves a gateway instance name to its channel
// account and owning tenant. Every webhook passes through here first;
// unknown instances return nil so callers can drop the event.
func (d *Database) GetAccountByInstance(ctx context.Context, instanceName string) (*models.ChannelAccount, *models.Tenant, error) {
	query := `
		SELECT a.id, a.tenant_id, a.instance_name, a.active, a.settings, a.created_at,
		       t.id, t.slug, t.status, t.billing_active, t.created_at
		FROM channel_accounts a
		JOIN tenants t ON t.id = a.tenant_id
		WHERE a.instance_name = ?
	`
	acct := &models.ChannelAccount{}
	tenant := &models.Tenant{}
	var settingsJSON string
	err := d.queryRow(ctx, query, instanceName).Scan(
		&acct.ID, &acct.TenantID, &acct.InstanceName, &acct.Active, &settingsJSON, &acct.CreatedAt,
		&tenant.ID, &tenant.Slug, &tenant.Status, &tenant.BillingActive, &tenant.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve instance %s: %w", instanceName, err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &acct.Settings); err != nil {
		return nil, nil, fmt.Errorf("failed to decode account settings: %w", err)
	}
	return acct, tenant, nil
}

// ListActiveAccounts returns every account whose tenant is active, for the
// background loops that sweep per-account work.
func (d *Database) ListActiveAccounts(ctx context.Context) ([]*models.ChannelAccount, error) {
	query := `
		SELECT a.id, a.tenant_id, a.instance_name, a.active, a.settings, a.created_at
		FROM channel_accounts a
		JOIN tenants t ON t.id = a.tenant_id
		WHERE a.active = TRUE AND t.status = ?
	`
	rows, err := d.query(ctx, query, models.TenantActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.ChannelAccount
	for rows.Next() {
		a := &models.ChannelAccount{}
		var settingsJSON string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.InstanceName, &a.Active, &settingsJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if err := json.Unmarshal([]byte(settingsJSON), &a.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode account settings: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateTenant and CreateAccount exist for bootstrap tooling and tests.
func (d *Database) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.Status == "" {
		t.Status = models.TenantActive
	}
	_, err := d.exec(ctx, `
		INSERT INTO tenants (id, slug, status, billing_active) VALUES (?, ?, ?, ?)
	`, t.ID, t.Slug, t.Status, t.BillingActive)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (d *Database) CreateAccount(ctx context.Context, a *models.ChannelAccount) error {
	settings, err := json.Marshal(a.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode account settings: %w", err)
	}
	_, err = d.exec(ctx, `
		INSERT INTO channel_accounts (id, tenant_id, instance_name, active, settings)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.TenantID, a.InstanceName, a.Active, string(settings))
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetActiveAgentConfig returns the active reasoning-engine configuration
// for a tenant. Tenants without one get a usable default instead of an
// error; the pipeline must never stall on missing config.
func (d *Database) GetActiveAgentConfig(ctx context.Context, tenantID string) (*models.AgentConfig, error) {
	var configJSON string
	err := d.queryRow(ctx, `
		SELECT config FROM agent_configs
		WHERE tenant_id = ? AND active = TRUE
		ORDER BY updated_at DESC LIMIT 1
	`, tenantID).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return &models.AgentConfig{MaxHistory: constants.DefaultMaxHistory}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}
	cfg := &models.AgentConfig{}
	if err := json.Unmarshal([]byte(configJSON), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode agent config: %w", err)
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = constants.DefaultMaxHistory
	}
	return cfg, nil
}

// SaveAgentConfig stores a tenant's agent configuration and marks it active.
func (d *Database) SaveAgentConfig(ctx context.Context, tenantID string, cfg *models.AgentConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	_, err = d.exec(ctx, `
		INSERT INTO agent_configs (id, tenant_id, active, config)
		VALUES (?, ?, TRUE, ?)
	`, uuid.New().String(), tenantID, string(configJSON))
	if err != nil {
		return fmt.Errorf("failed to save agent config: %w", err)
	}
	return nil
}

// SetTenantBilling toggles the billing gate for a tenant.
func (d *Database) SetTenantBilling(ctx context.Context, tenantID string, active bool) error {
	_, err := d.exec(ctx, `UPDATE tenants SET billing_active = ? WHERE id = ?`, active, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant billing: %w", err)
	}
	return nil
}
