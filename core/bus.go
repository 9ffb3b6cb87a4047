package core

// Bus is the publish/subscribe fan-out used for session monitoring and
// intervention signaling. Publishing must never block the turn loop:
// implementations drop messages for slow subscribers rather than applying
// backpressure.
type Bus interface {
	// Publish delivers an event to all subscribers of the session channel
	// and the global channel.
	Publish(sessionID string, ev Event)
	// Subscribe returns a channel of events for one session plus a cancel
	// function that must be called to release the subscription.
	Subscribe(sessionID string) (<-chan Event, func())
	// SubscribeAll returns a channel observing every session.
	SubscribeAll() (<-chan Event, func())
}
