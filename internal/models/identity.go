package models

import (
	"strings"
	"time"
)

// ResolutionSource labels the strategy that produced an identity mapping.
// Sources carry a trust priority: a mapping saved by a high-trust source
// is never overwritten by a lower-trust one.
type ResolutionSource string

const (
	SourceManual           ResolutionSource = "manual"
	SourceContactsEvent    ResolutionSource = "contacts_event"
	SourceSentAvatar       ResolutionSource = "sent_avatar"
	SourceDirectoryAvatar  ResolutionSource = "directory_avatar"
	SourceDirectoryName    ResolutionSource = "directory_name"
	SourceSentName         ResolutionSource = "sent_name"
	SourceInternalContacts ResolutionSource = "internal_contacts"
	SourceCorrelation      ResolutionSource = "correlation"
)

var sourcePriority = map[ResolutionSource]int{
	SourceManual:           100,
	SourceContactsEvent:    90,
	SourceSentAvatar:       80,
	SourceDirectoryAvatar:  70,
	SourceDirectoryName:    60,
	SourceSentName:         50,
	SourceInternalContacts: 40,
	SourceCorrelation:      10,
}

// Priority returns the numeric trust rank of the source. Unknown sources
// rank lowest so they can never clobber an existing mapping.
func (s ResolutionSource) Priority() int {
	return sourcePriority[s]
}

// IdentityMapping associates a gateway-side opaque contact id with a
// resolved phone number, scoped strictly per channel account.
type IdentityMapping struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"account_id"`
	OpaqueID    string           `json:"opaque_id"`
	Phone       string           `json:"phone"`
	Source      ResolutionSource `json:"source"`
	DisplayName string           `json:"display_name"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// GatewayContact is one entry of the gateway's contact directory, cached
// locally so the internal-table resolution strategies have data to match
// against even when the live directory is unreachable.
type GatewayContact struct {
	AccountID   string    `json:"account_id"`
	JID         string    `json:"jid"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CachedAt    time.Time `json:"cached_at"`
}

const (
	phoneJIDSuffix  = "@s.whatsapp.net"
	opaqueJIDSuffix = "@lid"
)

// IsOpaqueJID reports whether the gateway id is an anonymized list id
// rather than a phone-addressed one.
func IsOpaqueJID(jid string) bool {
	return strings.Contains(jid, opaqueJIDSuffix)
}

// IsPhoneJID reports whether the gateway id carries a real phone number.
func IsPhoneJID(jid string) bool {
	return strings.Contains(jid, phoneJIDSuffix)
}

// PhoneFromJID strips the gateway suffix from a phone-addressed id.
func PhoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// AvatarSignature normalizes an avatar URL for content comparison by
// dropping signed/ephemeral query parameters.
func AvatarSignature(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

// SameAvatar compares two avatar URLs by signature. Empty URLs never match.
func SameAvatar(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return AvatarSignature(a) == AvatarSignature(b)
}
