package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/NREL/dss-cosim/cosim/broker"
)

// Server answers coordination requests for one Core.
type Server struct {
	conn   *nats.Conn
	core   *broker.Core
	prefix string
	log    *logrus.Entry

	mu     sync.Mutex
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds core to conn under prefix. Call Start to begin serving.
func NewServer(conn *nats.Conn, prefix string, core *broker.Core, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		conn:   conn,
		core:   core,
		prefix: prefix,
		log:    log.WithField("component", "natsbus"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to every operation subject and flushes so clients that
// connect afterwards are guaranteed to reach the server.
func (s *Server) Start() error {
	handlers := map[string]func(request) reply{
		OpJoin: func(r request) reply {
			return s.result(s.core.Join(r.Federate))
		},
		OpPub: func(r request) reply {
			return s.result(s.core.AddPublication(r.Federate, r.Key))
		},
		OpSub: func(r request) reply {
			return s.result(s.core.AddSubscription(r.Federate, r.Key))
		},
		OpPublish: func(r request) reply {
			return s.result(s.core.Publish(r.Federate, r.Key, r.Value))
		},
		OpFinalize: func(r request) reply {
			return s.result(s.core.Finalize(r.Federate))
		},
		OpAbort: func(r request) reply {
			s.core.Abort(r.Federate, errors.New(r.Cause))
			return reply{}
		},
	}
	blocking := map[string]func(request) reply{
		OpEnter: func(r request) reply {
			return s.result(s.core.EnterExecuting(s.ctx, r.Federate))
		},
		OpTime: func(r request) reply {
			g, err := s.core.RequestTime(s.ctx, r.Federate, time.Duration(r.TimeNS))
			if err != nil {
				return errorReply(err)
			}
			return grantReply(g)
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for op, h := range handlers {
		if err := s.subscribe(op, h, false); err != nil {
			return err
		}
	}
	for op, h := range blocking {
		if err := s.subscribe(op, h, true); err != nil {
			return err
		}
	}
	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	s.log.WithField("prefix", s.prefix).Info("Coordination server listening")
	return nil
}

// subscribe registers h on op. Blocking handlers run on their own goroutine
// so one federate waiting for a grant does not stall the subject.
func (s *Server) subscribe(op string, h func(request) reply, blocking bool) error {
	sub, err := s.conn.Subscribe(Subject(s.prefix, op), func(msg *nats.Msg) {
		var req request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, reply{Error: fmt.Sprintf("decoding %s request: %v", op, err)})
			return
		}
		if !blocking {
			s.respond(msg, h(req))
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.respond(msg, h(req))
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", op, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Server) result(err error) reply {
	if err != nil {
		return errorReply(err)
	}
	return reply{}
}

func (s *Server) respond(msg *nats.Msg, r reply) {
	if err := msg.Respond(marshal(r)); err != nil {
		s.log.WithError(err).WithField("subject", msg.Subject).Warn("Failed to send reply")
	}
}

// Close stops serving. Requests still blocked in the core are released with
// context.Canceled.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && first == nil {
			first = err
		}
	}
	s.subs = nil
	s.cancel()
	s.wg.Wait()
	return first
}
