package broker

import (
	"context"
	"time"

	"github.com/NREL/dss-cosim/cosim"
)

// LocalFederate is a cosim.Federate backed by a Core in the same process.
type LocalFederate struct {
	core   *Core
	name   string
	inputs map[string]*cosim.Input
}

var _ cosim.Federate = (*LocalFederate)(nil)

// NewLocalFederate joins core under name.
func NewLocalFederate(core *Core, name string) (*LocalFederate, error) {
	if err := core.Join(name); err != nil {
		return nil, err
	}
	return &LocalFederate{core: core, name: name, inputs: make(map[string]*cosim.Input)}, nil
}

// Name returns the federate name.
func (f *LocalFederate) Name() string { return f.name }

// RegisterPublication registers key as owned by this federate.
func (f *LocalFederate) RegisterPublication(key string) (*cosim.Publication, error) {
	if err := f.core.AddPublication(f.name, key); err != nil {
		return nil, err
	}
	return cosim.NewPublication(key, cosim.SenderFunc(func(key, value string) error {
		return f.core.Publish(f.name, key, value)
	})), nil
}

// RegisterSubscription subscribes to key and returns its mailbox.
func (f *LocalFederate) RegisterSubscription(key string) (*cosim.Input, error) {
	if in, ok := f.inputs[key]; ok {
		return in, nil
	}
	if err := f.core.AddSubscription(f.name, key); err != nil {
		return nil, err
	}
	in := cosim.NewInput(key)
	f.inputs[key] = in
	return in, nil
}

// EnterExecutingMode waits for every expected federate.
func (f *LocalFederate) EnterExecutingMode(ctx context.Context) error {
	return f.core.EnterExecuting(ctx, f.name)
}

// RequestTime blocks until t is granted and delivers the values the grant
// carries into the matching inputs.
func (f *LocalFederate) RequestTime(ctx context.Context, t time.Duration) (time.Duration, error) {
	grant, err := f.core.RequestTime(ctx, f.name, t)
	if err != nil {
		return 0, err
	}
	Deliver(f.inputs, grant.Values)
	return grant.Time, nil
}

// Finalize leaves the co-simulation.
func (f *LocalFederate) Finalize(context.Context) error {
	return f.core.Finalize(f.name)
}

// Abort tears down the co-simulation for every federate.
func (f *LocalFederate) Abort(_ context.Context, cause error) error {
	f.core.Abort(f.name, cause)
	return nil
}

// Deliver copies granted values into their inputs. Values for keys without a
// local input are dropped.
func Deliver(inputs map[string]*cosim.Input, values map[string]string) {
	for key, value := range values {
		if in, ok := inputs[key]; ok {
			in.Deliver(value)
		}
	}
}
