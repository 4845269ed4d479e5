package cosim

import (
	"context"
	"time"
)

// Federate is a session with the time-coordination service.
//
// Registration happens before EnterExecutingMode. After that the only
// blocking call is RequestTime, which returns once every participating
// federate agrees the requested instant may be entered. Values delivered by
// a grant are visible through the Inputs returned by RegisterSubscription.
type Federate interface {
	Name() string
	RegisterPublication(key string) (*Publication, error)
	RegisterSubscription(key string) (*Input, error)
	EnterExecutingMode(ctx context.Context) error
	// RequestTime blocks until the coordinator grants t and returns the
	// granted time. Requests must be non-decreasing.
	RequestTime(ctx context.Context, t time.Duration) (time.Duration, error)
	Finalize(ctx context.Context) error
	// Abort tears down the whole co-simulation: every peer's pending and
	// future requests fail.
	Abort(ctx context.Context, cause error) error
}

// Sender delivers a publication value to the coordination service.
type Sender interface {
	Send(key, value string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(key, value string) error

// Send calls f(key, value).
func (f SenderFunc) Send(key, value string) error { return f(key, value) }

// Publication is a registered output channel.
type Publication struct {
	key    string
	sender Sender
}

// NewPublication binds a channel key to the sender that relays its values.
func NewPublication(key string, sender Sender) *Publication {
	return &Publication{key: key, sender: sender}
}

// Key returns the channel key.
func (p *Publication) Key() string { return p.key }

// Publish sends value on the channel.
func (p *Publication) Publish(value string) error {
	return p.sender.Send(p.key, value)
}
