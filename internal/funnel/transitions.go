package funnel

import "chatfunnel/internal/models"

// evalInput is everything a guard may inspect: accumulated guard data,
// the classified intent of the triggering message, and recent user
// messages newest last.
type evalInput struct {
	guards models.GuardData
	intent Intent
	recent []string
}

// lastUser returns up to n of the most recent user messages.
func (in *evalInput) lastUser(n int) []string {
	if len(in.recent) <= n {
		return in.recent
	}
	return in.recent[len(in.recent)-n:]
}

func (in *evalInput) anyRecent(n int, match func(string) bool) bool {
	for _, msg := range in.lastUser(n) {
		if match(msg) {
			return true
		}
	}
	return false
}

type guardFunc func(*evalInput) bool

type transition struct {
	name  string
	from  models.Node
	to    models.Node
	guard guardFunc
}

// transitionTable is evaluated top to bottom from the current node; the
// first guard that passes wins. Reordering entries changes behavior.
var transitionTable = []transition{
	{"opening_qualified", models.NodeOpening, models.NodeDiscovery, guardOpeningQualified},
	{"opening_technical", models.NodeOpening, models.NodeTechnical, guardTechnicalIntent},
	{"opening_billing", models.NodeOpening, models.NodeBilling, guardBillingIntent},
	{"discovery_pain_found", models.NodeDiscovery, models.NodeEducation, guardDiscoveryDone},
	{"discovery_technical", models.NodeDiscovery, models.NodeTechnical, guardTechnicalIntent},
	{"discovery_billing", models.NodeDiscovery, models.NodeBilling, guardBillingIntent},
	{"education_interest", models.NodeEducation, models.NodeProposal, guardExplicitInterest},
	{"proposal_closing", models.NodeProposal, models.NodeClosing, guardClosingSignal},
	{"proposal_requalify", models.NodeProposal, models.NodeDiscovery, guardObjection},
	{"closing_confirmed", models.NodeClosing, models.NodeClosed, guardDealConfirmed},
	{"technical_resolved", models.NodeTechnical, models.NodeDiscovery, guardSpecialistDone},
	{"billing_resolved", models.NodeBilling, models.NodeDiscovery, guardSpecialistDone},
}

// guardOpeningQualified passes once the contact's name and line of
// business are both known.
func guardOpeningQualified(in *evalInput) bool {
	hasBusiness := in.guards.HasBusinessType ||
		in.anyRecent(4, MentionsBusinessType)
	return in.guards.HasName && hasBusiness
}

func guardTechnicalIntent(in *evalInput) bool { return in.intent.IsTechnical() }

func guardBillingIntent(in *evalInput) bool { return in.intent.IsBilling() }

// guardDiscoveryDone passes when a pain point surfaced, or enough probing
// questions went unanswered that the funnel should move on anyway.
func guardDiscoveryDone(in *evalInput) bool {
	hasPain := in.guards.HasPainPoint || in.anyRecent(6, MentionsPainPoint)
	return hasPain || in.guards.QuestionCount >= 3
}

func guardExplicitInterest(in *evalInput) bool {
	return in.intent == IntentProposal || in.anyRecent(4, mentionsInterest)
}

func guardClosingSignal(in *evalInput) bool { return in.intent == IntentClosing }

func guardObjection(in *evalInput) bool { return in.intent.IsObjection() }

func guardDealConfirmed(in *evalInput) bool { return in.anyRecent(4, mentionsDeal) }

func guardSpecialistDone(in *evalInput) bool { return in.anyRecent(4, mentionsResolved) }
