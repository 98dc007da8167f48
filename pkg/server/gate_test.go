package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedwire/feedwire/pkg/database"
)

func gateTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "gate_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createGateUser(t *testing.T, db *database.DB, username string) int64 {
	t.Helper()
	id, err := db.CreateUser(username, "hash")
	require.NoError(t, err)
	return id
}

func TestGateOpenRecipientAllowsAnyone(t *testing.T) {
	db := gateTestDB(t)
	gate := NewGate(db)

	sender := createGateUser(t, db, "alice")
	recipient := createGateUser(t, db, "bob")

	allowed, err := gate.MayMessage(sender, recipient)
	require.NoError(t, err)
	assert.True(t, allowed, "dm_follow_only off means anyone may message")
}

func TestGateFollowOnlyBlocksStranger(t *testing.T) {
	db := gateTestDB(t)
	gate := NewGate(db)

	sender := createGateUser(t, db, "alice")
	recipient := createGateUser(t, db, "bob")
	require.NoError(t, db.SetDMFollowOnly(recipient, true))

	allowed, err := gate.MayMessage(sender, recipient)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGateFollowOnlyAllowsFollowedSender(t *testing.T) {
	db := gateTestDB(t)
	gate := NewGate(db)

	sender := createGateUser(t, db, "alice")
	recipient := createGateUser(t, db, "bob")
	require.NoError(t, db.SetDMFollowOnly(recipient, true))

	// The recipient follows the sender; the reverse edge is irrelevant
	require.NoError(t, db.CreateFollow(recipient, sender))

	allowed, err := gate.MayMessage(sender, recipient)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGateFollowDirectionMatters(t *testing.T) {
	db := gateTestDB(t)
	gate := NewGate(db)

	sender := createGateUser(t, db, "alice")
	recipient := createGateUser(t, db, "bob")
	require.NoError(t, db.SetDMFollowOnly(recipient, true))

	// Sender follows recipient, not the other way around. Still blocked.
	require.NoError(t, db.CreateFollow(sender, recipient))

	allowed, err := gate.MayMessage(sender, recipient)
	require.NoError(t, err)
	assert.False(t, allowed, "only the recipient's outgoing follow unlocks the gate")
}

func TestGateRevokedFollowClosesConversation(t *testing.T) {
	db := gateTestDB(t)
	gate := NewGate(db)

	sender := createGateUser(t, db, "alice")
	recipient := createGateUser(t, db, "bob")
	require.NoError(t, db.SetDMFollowOnly(recipient, true))
	require.NoError(t, db.CreateFollow(recipient, sender))

	allowed, err := gate.MayMessage(sender, recipient)
	require.NoError(t, err)
	require.True(t, allowed)

	// Each send re-evaluates; an unfollow takes effect immediately
	require.NoError(t, db.DeleteFollow(recipient, sender))

	allowed, err = gate.MayMessage(sender, recipient)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGateUnknownRecipientDefaultsOpen(t *testing.T) {
	db := gateTestDB(t)
	gate := NewGate(db)

	sender := createGateUser(t, db, "alice")

	// An absent preference row reads as unrestricted. Whether the
	// recipient exists is the send pipeline's concern, not the gate's.
	allowed, err := gate.MayMessage(sender, 9999)
	require.NoError(t, err)
	assert.True(t, allowed)
}
