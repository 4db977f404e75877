package database

import (
	"context"
	"testing"

	"chatfunnel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAccountByInstance(t *testing.T) {
	db := newTestDB(t)
	tenant, account := seedAccount(t, db)
	ctx := context.Background()

	gotAccount, gotTenant, err := db.GetAccountByInstance(ctx, "acme-main")
	require.NoError(t, err)
	require.NotNil(t, gotAccount)
	require.NotNil(t, gotTenant)
	assert.Equal(t, account.ID, gotAccount.ID)
	assert.Equal(t, tenant.ID, gotTenant.ID)
	assert.True(t, gotTenant.BillingActive)

	gotAccount, gotTenant, err = db.GetAccountByInstance(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, gotAccount)
	assert.Nil(t, gotTenant)
}

func TestAccountSettingsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	tenant, _ := seedAccount(t, db)
	ctx := context.Background()

	require.NoError(t, db.CreateAccount(ctx, &models.ChannelAccount{
		ID:           "account-hours",
		TenantID:     tenant.ID,
		InstanceName: "acme-hours",
		Active:       true,
		Settings: models.AccountSettings{
			BusinessHoursStart:  "09:00",
			BusinessHoursEnd:    "18:00",
			OutsideHoursMessage: "We are closed, back at 9am.",
		},
	}))

	got, _, err := db.GetAccountByInstance(ctx, "acme-hours")
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.Settings.BusinessHoursStart)
	assert.Equal(t, "We are closed, back at 9am.", got.Settings.OutsideHoursMessage)
}

func TestListActiveAccounts(t *testing.T) {
	db := newTestDB(t)
	tenant, _ := seedAccount(t, db)
	ctx := context.Background()

	suspended := &models.Tenant{ID: "tenant-2", Slug: "dormant", Status: models.TenantSuspended, BillingActive: false}
	require.NoError(t, db.CreateTenant(ctx, suspended))
	require.NoError(t, db.CreateAccount(ctx, &models.ChannelAccount{
		ID: "account-2", TenantID: suspended.ID, InstanceName: "dormant-main", Active: true,
	}))
	require.NoError(t, db.CreateAccount(ctx, &models.ChannelAccount{
		ID: "account-3", TenantID: tenant.ID, InstanceName: "acme-disabled", Active: false,
	}))

	accounts, err := db.ListActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acme-main", accounts[0].InstanceName)
}

func TestSetTenantBilling(t *testing.T) {
	db := newTestDB(t)
	tenant, _ := seedAccount(t, db)
	ctx := context.Background()

	require.NoError(t, db.SetTenantBilling(ctx, tenant.ID, false))
	_, gotTenant, err := db.GetAccountByInstance(ctx, "acme-main")
	require.NoError(t, err)
	assert.False(t, gotTenant.BillingActive)
}

func TestAgentConfigDefaultWhenMissing(t *testing.T) {
	db := newTestDB(t)
	tenant, _ := seedAccount(t, db)
	ctx := context.Background()

	cfg, err := db.GetActiveAgentConfig(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 10, cfg.MaxHistory)
	assert.Nil(t, cfg.Voice)
}

func TestAgentConfigRoundTrip(t *testing.T) {
	db := newTestDB(t)
	tenant, _ := seedAccount(t, db)
	ctx := context.Background()

	require.NoError(t, db.SaveAgentConfig(ctx, tenant.ID, &models.AgentConfig{
		Model:      "sales-v2",
		MaxHistory: 6,
		Voice:      &models.VoiceConfig{Enabled: true, Voice: "ash", Speed: 1.1},
	}))

	cfg, err := db.GetActiveAgentConfig(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales-v2", cfg.Model)
	assert.Equal(t, 6, cfg.MaxHistory)
	require.NotNil(t, cfg.Voice)
	assert.True(t, cfg.Voice.Enabled)
	assert.Equal(t, "ash", cfg.Voice.Voice)
}
