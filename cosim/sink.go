package cosim

import "context"

// Sink persists a finished run. Write is called exactly once per federate,
// after the final step; implementations store the whole dataset or nothing.
type Sink interface {
	Write(ctx context.Context, ds *Dataset) error
	Close() error
}

// DiscardSink drops every dataset. Useful when a federate's output is not wanted.
type DiscardSink struct{}

func (DiscardSink) Write(context.Context, *Dataset) error { return nil }
func (DiscardSink) Close() error                          { return nil }
