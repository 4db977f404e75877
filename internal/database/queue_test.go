package database

import (
	"context"
	"testing"
	"time"

	"chatfunnel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueTestEntry(t *testing.T, db *Database, account *models.ChannelAccount, dest string, class models.QueueClass) *models.QueueEntry {
	t.Helper()
	e := &models.QueueEntry{
		TenantID:    account.TenantID,
		AccountID:   account.ID,
		Destination: dest,
		Content:     "queued reply",
		Class:       class,
		MaxAttempts: 5,
	}
	require.NoError(t, db.EnqueueDelivery(context.Background(), e))
	return e
}

func TestEnqueueAndClaim(t *testing.T) {
	db := newTestDB(t)
	_, account := seedAccount(t, db)
	ctx := context.Background()

	e := enqueueTestEntry(t, db, account, "5511999990000", models.QueueFailedDelivery)

	claimed, err := db.ClaimEligible(ctx, models.QueueFailedDelivery, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, e.ID, claimed[0].ID)
	assert.Equal(t, "5511999990000", claimed[0].Destination)
	assert.Equal(t, "queued reply", claimed[0].Content)
	assert.Equal(t, "acme-main", claimed[0].InstanceName)

	// Other classes see nothing.
	other, err := db.ClaimEligible(ctx, models.QueuePendingIdentity, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBumpAttemptBackoff(t *testing.T) {
	db := newTestDB(t)
	_, account := seedAccount(t, db)
	ctx := context.Background()

	e := enqueueTestEntry(t, db, account, "5511999990000", models.QueueFailedDelivery)

	before := time.Now().UTC()
	require.NoError(t, db.BumpAttempt(ctx, e.ID, "gateway timeout", 30*time.Second))

	// Rescheduled in the future, so no longer claimable.
	claimed, err := db.ClaimEligible(ctx, models.QueueFailedDelivery, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	var attempts int
	var next time.Time
	var meta string
	err = db.queryRow(ctx, `SELECT attempts, next_attempt_at, metadata FROM delivery_queue WHERE id = ?`, e.ID).
		Scan(&attempts, &next, &meta)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, next.After(before.Add(29*time.Second)))
	assert.True(t, next.Before(before.Add(31*time.Second)))
	assert.Contains(t, meta, "gateway timeout")

	// Second failure doubles the delay.
	require.NoError(t, db.BumpAttempt(ctx, e.ID, "still down", 30*time.Second))
	err = db.queryRow(ctx, `SELECT attempts, next_attempt_at FROM delivery_queue WHERE id = ?`, e.ID).
		Scan(&attempts, &next)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, next.After(before.Add(59*time.Second)))
}

func TestClaimSkipsExhaustedEntries(t *testing.T) {
	db := newTestDB(t)
	_, account := seedAccount(t, db)
	ctx := context.Background()

	e := enqueueTestEntry(t, db, account, "5511999990000", models.QueueFailedDelivery)
	_, err := db.exec(ctx, `UPDATE delivery_queue SET attempts = max_attempts WHERE id = ?`, e.ID)
	require.NoError(t, err)

	claimed, err := db.ClaimEligible(ctx, models.QueueFailedDelivery, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkDeliveredBatch(t *testing.T) {
	db := newTestDB(t)
	_, account := seedAccount(t, db)
	ctx := context.Background()

	a := enqueueTestEntry(t, db, account, "111@lid", models.QueuePendingIdentity)
	b := enqueueTestEntry(t, db, account, "111@lid", models.QueuePendingIdentity)
	c := enqueueTestEntry(t, db, account, "222@lid", models.QueuePendingIdentity)

	require.NoError(t, db.MarkDelivered(ctx, a.ID, b.ID))

	remaining, err := db.PendingForDestination(ctx, account.ID, "111@lid", models.QueuePendingIdentity)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	still, err := db.PendingForDestination(ctx, account.ID, "222@lid", models.QueuePendingIdentity)
	require.NoError(t, err)
	require.Len(t, still, 1)
	assert.Equal(t, c.ID, still[0].ID)

	require.NoError(t, db.MarkDelivered(ctx))
}

func TestPendingIdentityBacklogDistinct(t *testing.T) {
	db := newTestDB(t)
	_, account := seedAccount(t, db)
	ctx := context.Background()

	enqueueTestEntry(t, db, account, "111@lid", models.QueuePendingIdentity)
	enqueueTestEntry(t, db, account, "111@lid", models.QueuePendingIdentity)
	enqueueTestEntry(t, db, account, "222@lid", models.QueuePendingIdentity)

	backlog, err := db.PendingIdentityBacklog(ctx, 50)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	dests := []string{backlog[0].Destination, backlog[1].Destination}
	assert.Contains(t, dests, "111@lid")
	assert.Contains(t, dests, "222@lid")
}

func TestExpireOlderThan(t *testing.T) {
	db := newTestDB(t)
	_, account := seedAccount(t, db)
	ctx := context.Background()

	enqueueTestEntry(t, db, account, "5511999990000", models.QueueFailedDelivery)
	enqueueTestEntry(t, db, account, "5511888880000", models.QueueFailedDelivery)

	n, err := db.ExpireOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	claimed, err := db.ClaimEligible(ctx, models.QueueFailedDelivery, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	count, err := db.CountPending(ctx, models.QueueFailedDelivery)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
