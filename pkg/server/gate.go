package server

import (
	"fmt"

	"github.com/feedwire/feedwire/pkg/database"
)

// Gate decides whether a sender may message a recipient. A recipient can
// restrict incoming messages to users they follow (dm_follow_only); with the
// preference unset, anyone may message them.
//
// The decision is evaluated fresh on every send. The follow graph and the
// preference are both mutable, so caching a verdict across sends would let a
// revoked follow keep a conversation open.
type Gate struct {
	db *database.DB
}

// NewGate creates a relationship gate over the given store
func NewGate(db *database.DB) *Gate {
	return &Gate{db: db}
}

// MayMessage reports whether sender is permitted to message recipient.
// Blocked iff the recipient restricts messages to follows AND the recipient
// does not follow the sender. An absent recipient preference reads as
// unrestricted; the gate never fails a send over a missing row.
func (g *Gate) MayMessage(senderID, recipientID int64) (bool, error) {
	followOnly, err := g.db.GetDMPreference(recipientID)
	if err != nil {
		return false, fmt.Errorf("gate: preference lookup: %w", err)
	}
	if !followOnly {
		return true, nil
	}

	follows, err := g.db.FollowExists(recipientID, senderID)
	if err != nil {
		return false, fmt.Errorf("gate: follow lookup: %w", err)
	}
	return follows, nil
}
