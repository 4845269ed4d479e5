// Package broker implements conservative time coordination for a fixed set of
// federates: a time request is granted only once no peer can still publish
// anything earlier, and values published between grants are relayed to
// subscribers at their next grant.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownFederate      = errors.New("unknown federate")
	ErrDuplicateFederate    = errors.New("federate already joined")
	ErrTooManyFederates     = errors.New("all expected federates have joined")
	ErrTimeRegression       = errors.New("requested time is earlier than a previous request")
	ErrNotOwner             = errors.New("federate does not own the publication")
	ErrDuplicatePublication = errors.New("publication key already registered")
	ErrNotExecuting         = errors.New("federate is not in executing mode")
	ErrFinalized            = errors.New("federate has finalized")
	ErrAborted              = errors.New("co-simulation aborted")
)

// Grant is the answer to a time request: the granted time plus every value
// published on the federate's subscriptions since its previous grant, last
// value per key.
type Grant struct {
	Time   time.Duration
	Values map[string]string
}

type member struct {
	name      string
	seq       int
	entered   bool
	finalized bool
	last      time.Duration
	pending   *timeRequest
	queued    map[string]string
}

// Core is the in-memory coordination service. It is safe for concurrent use
// by any number of federate goroutines.
type Core struct {
	mu       sync.Mutex
	expected int
	log      *logrus.Entry

	members  map[string]*member
	order    []*member
	owners   map[string]string
	subs     map[string][]*member
	requests *requestHeap

	entered   int
	executing chan struct{}
	done      chan struct{}
	err       error
}

// NewCore creates a core that waits for expected federates before any of
// them may enter executing mode.
func NewCore(expected int, log *logrus.Entry) *Core {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Core{
		expected:  expected,
		log:       log.WithField("component", "broker"),
		members:   make(map[string]*member),
		owners:    make(map[string]string),
		subs:      make(map[string][]*member),
		requests:  newRequestHeap(),
		executing: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Expected returns the number of federates the core waits for.
func (c *Core) Expected() int { return c.expected }

// Join admits a federate by name.
func (c *Core) Join(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, ok := c.members[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFederate, name)
	}
	if len(c.order) >= c.expected {
		return fmt.Errorf("%w: %s rejected, expected %d", ErrTooManyFederates, name, c.expected)
	}
	m := &member{name: name, seq: len(c.order), queued: make(map[string]string)}
	c.members[name] = m
	c.order = append(c.order, m)
	c.log.WithField("federate", name).Infof("Federate joined (%d/%d)", len(c.order), c.expected)
	return nil
}

// AddPublication registers key as owned by federate name. Keys are global.
func (c *Core) AddPublication(name, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.memberLocked(name); err != nil {
		return err
	}
	if owner, ok := c.owners[key]; ok {
		return fmt.Errorf("%w: %s owned by %s", ErrDuplicatePublication, key, owner)
	}
	c.owners[key] = name
	return nil
}

// AddSubscription registers federate name as a subscriber of key. The
// publisher may register later.
func (c *Core) AddSubscription(name, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.memberLocked(name)
	if err != nil {
		return err
	}
	for _, s := range c.subs[key] {
		if s == m {
			return nil
		}
	}
	c.subs[key] = append(c.subs[key], m)
	return nil
}

// EnterExecuting blocks until every expected federate has entered.
// Cancelling ctx while waiting aborts the co-simulation.
func (c *Core) EnterExecuting(ctx context.Context, name string) error {
	c.mu.Lock()
	m, err := c.memberLocked(name)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !m.entered {
		m.entered = true
		c.entered++
		if c.entered == c.expected {
			c.warnUnpublishedLocked()
			close(c.executing)
			c.log.Infof("All %d federates entered executing mode", c.expected)
		}
	}
	c.mu.Unlock()

	select {
	case <-c.executing:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		c.abort(name, ctx.Err())
		return ctx.Err()
	}
}

func (c *Core) warnUnpublishedLocked() {
	keys := make([]string, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, ok := c.owners[key]; !ok {
			c.log.WithField("key", key).Warn("Subscription has no publisher; it will never update")
		}
	}
}

// Publish queues value for every subscriber of key. Only the owner may publish.
func (c *Core) Publish(name, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.executingLocked(name)
	if err != nil {
		return err
	}
	if c.owners[key] != m.name {
		return fmt.Errorf("%w: %s publishing %s", ErrNotOwner, name, key)
	}
	for _, s := range c.subs[key] {
		if !s.finalized {
			s.queued[key] = value
		}
	}
	return nil
}

// RequestTime blocks until t is granted. A pending request is granted once
// every other active federate is itself blocked in a request for a time at
// or after t. Cancelling ctx while waiting finalizes the federate so its
// peers can keep advancing.
func (c *Core) RequestTime(ctx context.Context, name string, t time.Duration) (Grant, error) {
	c.mu.Lock()
	m, err := c.executingLocked(name)
	if err != nil {
		c.mu.Unlock()
		return Grant{}, err
	}
	if t < m.last {
		c.mu.Unlock()
		return Grant{}, fmt.Errorf("%w: %s requested %s after %s", ErrTimeRegression, name, t, m.last)
	}
	m.last = t
	r := &timeRequest{member: m, time: t, reply: make(chan grantResult, 1)}
	m.pending = r
	c.requests.schedule(r)
	c.grantLocked()
	c.mu.Unlock()

	select {
	case res := <-r.reply:
		return res.grant, res.err
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		select {
		case res := <-r.reply:
			// granted concurrently with the cancellation
			return res.grant, res.err
		default:
		}
		c.requests.remove(r)
		m.pending = nil
		c.finalizeLocked(m)
		return Grant{}, ctx.Err()
	}
}

// grantLocked grants the earliest pending requests once every active
// federate is blocked. Ties at the earliest time are granted together in
// join order.
func (c *Core) grantLocked() {
	if c.requests.Len() == 0 || c.requests.Len() < c.activeLocked() {
		return
	}
	t := c.requests.peek().time
	for next := c.requests.peek(); next != nil && next.time == t; next = c.requests.peek() {
		r := c.requests.popNext()
		m := r.member
		m.pending = nil
		values := m.queued
		m.queued = make(map[string]string)
		r.reply <- grantResult{grant: Grant{Time: r.time, Values: values}}
		c.log.WithFields(logrus.Fields{
			"federate": m.name,
			"time":     r.time,
			"values":   len(values),
		}).Debug("Granted time")
	}
}

func (c *Core) activeLocked() int {
	n := 0
	for _, m := range c.order {
		if !m.finalized {
			n++
		}
	}
	return n
}

// Finalize removes the federate from coordination. Finalizing twice is a no-op.
func (c *Core) Finalize(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFederate, name)
	}
	if m.finalized {
		return nil
	}
	if m.pending != nil {
		c.requests.remove(m.pending)
		m.pending.reply <- grantResult{err: ErrFinalized}
		m.pending = nil
	}
	c.finalizeLocked(m)
	return nil
}

func (c *Core) finalizeLocked(m *member) {
	m.finalized = true
	m.queued = nil
	c.log.WithField("federate", m.name).Info("Federate finalized")
	if c.activeLocked() == 0 && len(c.order) == c.expected {
		c.closeLocked(nil)
		return
	}
	c.grantLocked()
}

// Abort fails every pending and future operation with ErrAborted.
func (c *Core) Abort(name string, cause error) {
	c.abort(name, cause)
}

func (c *Core) abort(name string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	err := fmt.Errorf("%w by %s: %v", ErrAborted, name, cause)
	c.log.WithError(cause).WithField("federate", name).Error("Co-simulation aborted")
	for r := c.requests.popNext(); r != nil; r = c.requests.popNext() {
		r.member.pending = nil
		r.reply <- grantResult{err: err}
	}
	c.closeLocked(err)
}

func (c *Core) closeLocked(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}

// Done is closed once every federate has finalized or the run was aborted.
func (c *Core) Done() <-chan struct{} { return c.done }

// Err returns the abort cause, or nil.
func (c *Core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until Done and returns the abort cause, if any.
func (c *Core) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) memberLocked(name string) (*member, error) {
	if c.err != nil {
		return nil, c.err
	}
	m, ok := c.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFederate, name)
	}
	if m.finalized {
		return nil, fmt.Errorf("%w: %s", ErrFinalized, name)
	}
	return m, nil
}

func (c *Core) executingLocked(name string) (*member, error) {
	m, err := c.memberLocked(name)
	if err != nil {
		return nil, err
	}
	select {
	case <-c.executing:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotExecuting, name)
	}
	if !m.entered {
		return nil, fmt.Errorf("%w: %s", ErrNotExecuting, name)
	}
	return m, nil
}
