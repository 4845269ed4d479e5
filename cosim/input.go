package cosim

// Input is the receiving end of a subscription: the last delivered value plus
// an unconsumed marker. It is polled once per step by a single goroutine; the
// federate implementation delivers values from the same goroutine after a
// time grant, so no locking is needed.
type Input struct {
	key     string
	value   string
	updated bool
}

// NewInput returns an empty input for the given channel key.
func NewInput(key string) *Input {
	return &Input{key: key}
}

// Key returns the channel key.
func (in *Input) Key() string { return in.key }

// Deliver stores a new value and marks it unconsumed. A later delivery before
// the next read replaces the earlier one.
func (in *Input) Deliver(value string) {
	in.value = value
	in.updated = true
}

// IsUpdated reports whether a value arrived since the last read.
func (in *Input) IsUpdated() bool { return in.updated }

// Value returns the last delivered value and marks it consumed.
func (in *Input) Value() string {
	in.updated = false
	return in.value
}

// Poll returns the value and true if it is unconsumed, consuming it;
// otherwise it returns "" and false.
func (in *Input) Poll() (string, bool) {
	if !in.updated {
		return "", false
	}
	return in.Value(), true
}
