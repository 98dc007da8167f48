package server

import (
	"github.com/feedwire/feedwire/pkg/protocol"
)

// DeliveryResult classifies the outcome of a best-effort notification.
type DeliveryResult int

const (
	// Delivered: the event was written to a live connection.
	Delivered DeliveryResult = iota
	// NotConnected: the user had no registered connection; event dropped.
	NotConnected
	// WriteFailed: a registered connection existed but the write failed.
	WriteFailed
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NotConnected:
		return "not_connected"
	case WriteFailed:
		return "write_failed"
	}
	return "unknown"
}

// Dispatcher pushes asynchronous events to connected users. Delivery is
// fire-and-forget: there is no queueing and no retry, and the result is
// consumed only for logging and metrics. The mutation that triggered a
// notification has already committed, so a failed push must never be
// reported to that caller as an error.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics
}

// NewDispatcher creates a dispatcher over the given presence registry
func NewDispatcher(registry *Registry, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
	}
}

// Notify sends one event to a user's registered connection, if there is one.
func (d *Dispatcher) Notify(userID int64, ev protocol.ServerEvent) DeliveryResult {
	sess, ok := d.registry.Lookup(userID)
	if !ok {
		d.record(NotConnected)
		return NotConnected
	}

	if err := sess.Conn.WriteEvent(ev); err != nil {
		// The connection is likely dead; its read loop will notice and
		// unregister it. A registry entry pointing at a dead transport is
		// cleaned up there, not here.
		debugLog.Printf("Session %d (user %d): notify write failed: %v", sess.ID, userID, err)
		d.record(WriteFailed)
		return WriteFailed
	}

	d.record(Delivered)
	return Delivered
}

// Broadcast sends one event to every registered connection. Used for the
// feed_update push after a new post.
func (d *Dispatcher) Broadcast(ev protocol.ServerEvent) {
	for _, sess := range d.registry.Sessions() {
		if err := sess.Conn.WriteEvent(ev); err != nil {
			debugLog.Printf("Session %d (user %d): broadcast write failed: %v", sess.ID, sess.UserID, err)
			d.record(WriteFailed)
			continue
		}
		d.record(Delivered)
	}
}

func (d *Dispatcher) record(result DeliveryResult) {
	if d.metrics != nil {
		d.metrics.RecordDelivery(result.String())
	}
}
