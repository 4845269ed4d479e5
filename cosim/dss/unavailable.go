//go:build !altdss

package dss

import "fmt"

func init() {
	newEngine = func() (engine, error) {
		return nil, fmt.Errorf("%w: rebuild with -tags altdss and the DSS C-API installed", ErrBackendUnavailable)
	}
}
