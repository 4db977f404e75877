package models

import "time"

// QueueClass partitions delivery-queue entries by why they are waiting.
type QueueClass string

const (
	// QueueFailedDelivery holds replies whose immediate send failed.
	QueueFailedDelivery QueueClass = "failed_delivery"
	// QueuePendingIdentity holds replies addressed to an opaque id the
	// resolver could not map to a phone number yet.
	QueuePendingIdentity QueueClass = "pending_identity"
	// QueueAdminAlert holds operator alerts raised by the health monitor.
	QueueAdminAlert QueueClass = "admin_alert"
)

// QueueStatus is the lifecycle state of a queue entry. Delivered and
// expired are terminal.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusDelivered QueueStatus = "delivered"
	QueueStatusExpired   QueueStatus = "expired"
)

// QueueEntry is one pending outbound delivery.
type QueueEntry struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	AccountID     string            `json:"account_id"`
	Destination   string            `json:"destination"` // phone or unresolved opaque id
	Content       string            `json:"content"`
	Class         QueueClass        `json:"class"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	Status        QueueStatus       `json:"status"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`

	// InstanceName is joined from the owning channel account when entries
	// are claimed, so the sweep can address the gateway directly.
	InstanceName string `json:"instance_name,omitempty"`
}

// Queue entry metadata keys.
const (
	QueueMetaOpaqueID    = "opaque_id"
	QueueMetaDisplayName = "display_name"
	QueueMetaLastError   = "last_error"
	QueueMetaAlertKind   = "alert_kind"
)
