package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/NREL/dss-cosim/cosim"
	"github.com/NREL/dss-cosim/cosim/broker"
)

// Federate is a cosim.Federate that talks to a Server over NATS.
//
// Each call is one request. Registration, publish, finalize and abort are
// bounded by the configured timeout; EnterExecutingMode and RequestTime wait
// for the slowest peer and are bounded only by the caller's context.
type Federate struct {
	conn    *nats.Conn
	prefix  string
	name    string
	timeout time.Duration
	inputs  map[string]*cosim.Input
}

var _ cosim.Federate = (*Federate)(nil)

// ErrNoBroker is returned when no coordination server listens on the prefix.
var ErrNoBroker = errors.New("no coordination server")

// NewFederate joins the co-simulation served under prefix.
func NewFederate(ctx context.Context, conn *nats.Conn, prefix, name string, timeout time.Duration) (*Federate, error) {
	if timeout <= 0 {
		timeout = cosim.DefaultTimeout
	}
	f := &Federate{
		conn:    conn,
		prefix:  prefix,
		name:    name,
		timeout: timeout,
		inputs:  make(map[string]*cosim.Input),
	}
	if _, err := f.call(ctx, OpJoin, request{}); err != nil {
		return nil, fmt.Errorf("joining as %s: %w", name, err)
	}
	return f, nil
}

// Name returns the federate name.
func (f *Federate) Name() string { return f.name }

// RegisterPublication registers key as owned by this federate.
func (f *Federate) RegisterPublication(key string) (*cosim.Publication, error) {
	if _, err := f.call(context.Background(), OpPub, request{Key: key}); err != nil {
		return nil, err
	}
	return cosim.NewPublication(key, cosim.SenderFunc(func(key, value string) error {
		_, err := f.call(context.Background(), OpPublish, request{Key: key, Value: value})
		return err
	})), nil
}

// RegisterSubscription subscribes to key and returns its mailbox.
func (f *Federate) RegisterSubscription(key string) (*cosim.Input, error) {
	if in, ok := f.inputs[key]; ok {
		return in, nil
	}
	if _, err := f.call(context.Background(), OpSub, request{Key: key}); err != nil {
		return nil, err
	}
	in := cosim.NewInput(key)
	f.inputs[key] = in
	return in, nil
}

// EnterExecutingMode waits for every expected federate.
func (f *Federate) EnterExecutingMode(ctx context.Context) error {
	_, err := f.call(ctx, OpEnter, request{})
	return err
}

// RequestTime blocks until t is granted and delivers the granted values.
func (f *Federate) RequestTime(ctx context.Context, t time.Duration) (time.Duration, error) {
	r, err := f.call(ctx, OpTime, request{TimeNS: int64(t)})
	if err != nil {
		return 0, err
	}
	g := r.grant()
	broker.Deliver(f.inputs, g.Values)
	return g.Time, nil
}

// Finalize leaves the co-simulation.
func (f *Federate) Finalize(ctx context.Context) error {
	_, err := f.call(ctx, OpFinalize, request{})
	return err
}

// Abort tears down the co-simulation for every federate.
func (f *Federate) Abort(ctx context.Context, cause error) error {
	_, err := f.call(ctx, OpAbort, request{Cause: cause.Error()})
	return err
}

func (f *Federate) call(ctx context.Context, op string, req request) (reply, error) {
	if !waits(op) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req.Federate = f.name
	msg, err := f.conn.RequestWithContext(ctx, Subject(f.prefix, op), marshal(req))
	if errors.Is(err, nats.ErrNoResponders) {
		return reply{}, fmt.Errorf("%s request: %w on %q", op, ErrNoBroker, f.prefix)
	}
	if err != nil {
		return reply{}, fmt.Errorf("%s request: %w", op, err)
	}
	var r reply
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return reply{}, fmt.Errorf("decoding %s reply: %w", op, err)
	}
	if err := r.err(); err != nil {
		return reply{}, err
	}
	return r, nil
}

// waits reports whether op blocks on peers in the broker.
func waits(op string) bool {
	return op == OpEnter || op == OpTime
}
