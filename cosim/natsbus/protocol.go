// Package natsbus exposes a broker.Core over NATS request/reply so federates
// can run in separate processes. Every operation is one request on
// <prefix>.<op> with a JSON body; the reply carries either the result or an
// error code that maps back onto the broker's sentinel errors.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NREL/dss-cosim/cosim/broker"
)

// Operation subjects, relative to the configured prefix.
const (
	OpJoin     = "join"
	OpPub      = "pub"
	OpSub      = "sub"
	OpEnter    = "enter"
	OpPublish  = "publish"
	OpTime     = "time"
	OpFinalize = "finalize"
	OpAbort    = "abort"
)

// Subject returns the subject for op under prefix.
func Subject(prefix, op string) string { return prefix + "." + op }

type request struct {
	Federate string `json:"federate"`
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	// TimeNS is the requested time in nanoseconds since the scenario start.
	TimeNS int64  `json:"time_ns,omitempty"`
	Cause  string `json:"cause,omitempty"`
}

type reply struct {
	Error  string            `json:"error,omitempty"`
	Code   string            `json:"code,omitempty"`
	TimeNS int64             `json:"time_ns,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"unknown_federate", broker.ErrUnknownFederate},
	{"duplicate_federate", broker.ErrDuplicateFederate},
	{"too_many_federates", broker.ErrTooManyFederates},
	{"time_regression", broker.ErrTimeRegression},
	{"not_owner", broker.ErrNotOwner},
	{"duplicate_publication", broker.ErrDuplicatePublication},
	{"not_executing", broker.ErrNotExecuting},
	{"finalized", broker.ErrFinalized},
	{"aborted", broker.ErrAborted},
	{"canceled", context.Canceled},
	{"deadline_exceeded", context.DeadlineExceeded},
}

// ErrRemote is wrapped around broker errors that carry no known code.
var ErrRemote = errors.New("broker error")

func errorReply(err error) reply {
	r := reply{Error: err.Error()}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			r.Code = c.code
			break
		}
	}
	return r
}

// err rebuilds the broker error so callers can test it with errors.Is.
func (r reply) err() error {
	if r.Error == "" {
		return nil
	}
	for _, c := range errorCodes {
		if c.code == r.Code {
			return fmt.Errorf("%w: %s", c.err, r.Error)
		}
	}
	return fmt.Errorf("%w: %s", ErrRemote, r.Error)
}

func grantReply(g broker.Grant) reply {
	return reply{TimeNS: int64(g.Time), Values: g.Values}
}

func (r reply) grant() broker.Grant {
	return broker.Grant{Time: time.Duration(r.TimeNS), Values: r.Values}
}

func marshal(v interface{}) []byte {
	// request and reply hold only strings, integers and string maps
	data, _ := json.Marshal(v)
	return data
}
