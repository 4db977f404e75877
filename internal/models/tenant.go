package models

import "time"

// TenantStatus gates whether a tenant's messages are processed at all.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is one isolated customer of the shared gateway deployment.
type Tenant struct {
	ID            string       `json:"id"`
	Slug          string       `json:"slug"`
	Status        TenantStatus `json:"status"`
	BillingActive bool         `json:"billing_active"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ChannelAccount binds a gateway instance to a tenant. Instance names are
// unique across the deployment; everything downstream is scoped by the
// account id resolved from them.
type ChannelAccount struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	InstanceName string          `json:"instance_name"`
	Active       bool            `json:"active"`
	Settings     AccountSettings `json:"settings"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AccountSettings is per-account behavior stored as a JSON column.
// Business hours use "HH:MM" in UTC; both empty means always open.
type AccountSettings struct {
	BusinessHoursStart  string `json:"business_hours_start,omitempty"`
	BusinessHoursEnd    string `json:"business_hours_end,omitempty"`
	OutsideHoursMessage string `json:"outside_hours_message,omitempty"`
}

// AgentConfig is the reasoning-engine configuration active for a tenant.
// The core only reads history sizing and voice preferences from it; prompt
// content is the engine's business.
type AgentConfig struct {
	Model       string       `json:"model"`
	MaxHistory  int          `json:"max_history"`
	Voice       *VoiceConfig `json:"voice,omitempty"`
	DisplayName string       `json:"display_name,omitempty"`
}

// VoiceConfig enables audio replies for audio inbound messages.
type VoiceConfig struct {
	Enabled bool    `json:"enabled"`
	Voice   string  `json:"voice"`
	Speed   float64 `json:"speed"`
}
