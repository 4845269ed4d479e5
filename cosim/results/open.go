// Package results persists finished co-simulation datasets. Open picks the
// sink from the target: a directory path, a postgres:// DSN or a
// mongodb:// URI.
package results

import (
	"context"
	"strings"

	"github.com/NREL/dss-cosim/cosim"
)

// Open returns the sink for target. Empty targets fall back to the default
// results directory.
func Open(ctx context.Context, target string) (cosim.Sink, error) {
	switch {
	case target == "":
		return NewCSVSink(cosim.DefaultResults), nil
	case hasScheme(target, "postgres", "postgresql"):
		return NewPostgresSink(ctx, target)
	case hasScheme(target, "mongodb", "mongodb+srv"):
		return NewMongoSink(ctx, target)
	default:
		return NewCSVSink(target), nil
	}
}

func hasScheme(target string, schemes ...string) bool {
	lower := strings.ToLower(target)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s+"://") {
			return true
		}
	}
	return false
}
