package models

import "time"

// Node is one stage of the deterministic conversation funnel.
type Node string

const (
	NodeOpening   Node = "opening"
	NodeDiscovery Node = "discovery"
	NodeEducation Node = "education"
	NodeProposal  Node = "proposal"
	NodeClosing   Node = "closing"
	NodeTechnical Node = "technical"
	NodeBilling   Node = "billing"
	NodeClosed    Node = "closed"
)

// AllNodes is the closed set of funnel stages. Transitions never move a
// conversation outside this set.
var AllNodes = []Node{
	NodeOpening, NodeDiscovery, NodeEducation, NodeProposal,
	NodeClosing, NodeTechnical, NodeBilling, NodeClosed,
}

// Valid reports whether n belongs to the fixed node set.
func (n Node) Valid() bool {
	for _, known := range AllNodes {
		if n == known {
			return true
		}
	}
	return false
}

// Responder persona ids consumed by the reasoning engine. Entering a
// specialist node reassigns the active persona; the contact is never told.
const (
	PersonaPrimary   = "primary"
	PersonaTechnical = "technical"
	PersonaBilling   = "billing"
)

// PersonaForNode maps a funnel node to the responder persona that should
// answer while the conversation sits in that node.
func PersonaForNode(n Node) string {
	switch n {
	case NodeTechnical:
		return PersonaTechnical
	case NodeBilling:
		return PersonaBilling
	default:
		return PersonaPrimary
	}
}

// GuardData is the small accumulated fact bag guards evaluate against.
// Persisted as a JSON column; zero value means nothing is known yet.
type GuardData struct {
	HasName         bool `json:"has_name,omitempty"`
	HasBusinessType bool `json:"has_business_type,omitempty"`
	HasPainPoint    bool `json:"has_pain_point,omitempty"`
	QuestionCount   int  `json:"question_count,omitempty"`
}

// ConversationState tracks where one conversation sits in the funnel.
// Created lazily on first evaluation; never deleted.
type ConversationState struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	TenantID        string    `json:"tenant_id"`
	CurrentNode     Node      `json:"current_node"`
	PreviousNode    Node      `json:"previous_node"`
	ActivePersona   string    `json:"active_persona"`
	GuardData       GuardData `json:"guard_data"`
	TransitionCount int       `json:"transition_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewConversationState returns the fixed initial state for a conversation.
func NewConversationState(conversationID, tenantID string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		TenantID:       tenantID,
		CurrentNode:    NodeOpening,
		ActivePersona:  PersonaPrimary,
	}
}
