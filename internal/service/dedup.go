package service

import (
	"context"
	"fmt"
	"time"

	"chatfunnel/internal/cache"

	"github.com/sirupsen/logrus"
)

// Gate answers the admission questions asked of every inbound event:
// have we seen it, is the instance or chat paused, is the contact blocked.
// All checks degrade safely when the shared cache is down: dedup fails
// open (process rather than drop), pause and block fail closed (neither).
type Gate struct {
	cache    cache.Store
	logger   *logrus.Logger
	dedupTTL time.Duration
}

// NewGate creates an admission gate backed by the shared cache.
func NewGate(store cache.Store, dedupTTL time.Duration, logger *logrus.Logger) *Gate {
	return &Gate{cache: store, logger: logger, dedupTTL: dedupTTL}
}

// Admit claims an event id for processing. The first caller wins; replays
// within the TTL are rejected. Cache errors admit the event, a duplicate
// reply beats a dropped lead.
func (g *Gate) Admit(ctx context.Context, instance, eventID string) bool {
	if eventID == "" {
		return true
	}
	key := fmt.Sprintf("dedup:%s:%s", instance, eventID)
	claimed, err := g.cache.SetNX(ctx, key, "1", g.dedupTTL)
	if err != nil {
		g.logger.WithError(err).WithField("event_id", eventID).Warn("Dedup check failed, admitting event")
		return true
	}
	return claimed
}

// Paused reports whether the operator paused the whole instance.
func (g *Gate) Paused(ctx context.Context, instance string) bool {
	return g.flagSet(ctx, fmt.Sprintf("admin:paused:%s", instance))
}

// ChatPaused reports whether the operator paused one chat, typically to
// take it over manually.
func (g *Gate) ChatPaused(ctx context.Context, instance, phone string) bool {
	return g.flagSet(ctx, fmt.Sprintf("admin:pausedchat:%s:%s", instance, phone))
}

// Blocked reports whether the contact is on the account's block list.
func (g *Gate) Blocked(ctx context.Context, accountID, contact string) bool {
	return g.flagSet(ctx, fmt.Sprintf("block:%s:%s", accountID, contact))
}

func (g *Gate) flagSet(ctx context.Context, key string) bool {
	_, found, err := g.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	return found
}
