package synctrigger

import "context"

// Event is delivered to a subscribed handler when its tag fires.
type Event struct {
	Tag string
}

// Handler processes one sync event. The trigger waits for the handler to
// return; a non-nil error keeps the tag registered so it fires again on the
// next opportunity.
type Handler func(ctx context.Context, ev Event) error

// Trigger is the host-provided background-sync facility.
type Trigger interface {
	// Register requests a future callback for the tag. Implementations may
	// fail (closed trigger, host refusal); callers treat failure as
	// non-fatal.
	Register(ctx context.Context, tag string) error

	// Subscribe installs the handler invoked when the tag fires. The last
	// subscription for a tag wins.
	Subscribe(tag string, h Handler)
}
