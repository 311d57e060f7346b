// Package sync keeps a per-view result set consistent with the server by
// re-fetching whole collections whenever the change channel signals an
// invalidation.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"armory/api/internal/normalize"
	"armory/api/internal/notify"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fetcher pulls the full, already-normalized collection. The controller
// never patches: every successful fetch replaces the result set wholesale.
type Fetcher func(ctx context.Context) ([]normalize.Record, error)

var ErrAlreadyStarted = errors.New("controller already started")

// Controller is the per-view state machine: it owns the materialized result
// set, issues the initial fetch, holds exactly one subscription on the
// collection, and re-fetches on every invalidation.
//
// Concurrency discipline:
//   - at most one fetch in flight; events during flight coalesce into a
//     single follow-up fetch;
//   - fetch results carry a generation token and apply in issue order, so a
//     stale result can never overwrite a newer one;
//   - Stop tears the subscription down unconditionally and marks the
//     controller closed, which discards any in-flight result on arrival.
type Controller struct {
	collection string
	fetch      Fetcher
	channel    notify.Channel

	mu       gosync.Mutex
	state    State
	records  []normalize.Record
	lastErr  error
	sub      *notify.Subscription
	cancel   context.CancelFunc
	ctx      context.Context
	inflight bool
	pending  bool
	gen      uint64
	applied  uint64
	closed   bool
}

func NewController(collection string, fetch Fetcher, channel notify.Channel) *Controller {
	return &Controller{
		collection: collection,
		fetch:      fetch,
		channel:    channel,
		state:      StateIdle,
	}
}

// Start subscribes and issues the initial fetch. It is one-shot: a second
// Start cannot leak a second subscription.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle || c.closed {
		return ErrAlreadyStarted
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.channel != nil {
		sub, err := c.channel.Subscribe(c.ctx, c.collection, func(notify.Event) {
			c.Invalidate()
		})
		if err != nil {
			c.cancel()
			return fmt.Errorf("subscribe %s: %w", c.collection, err)
		}
		c.sub = sub
	}

	c.state = StateLoading
	c.startFetchLocked()
	return nil
}

// Invalidate schedules a re-fetch. Change events land here, including the
// synthetic catch-up event the channel emits after a broker outage, since
// changes published while it was down are gone. Redundant calls are
// harmless.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state == StateIdle {
		return
	}
	if c.inflight {
		c.pending = true
		return
	}
	c.state = StateLoading
	c.startFetchLocked()
}

func (c *Controller) startFetchLocked() {
	c.inflight = true
	c.gen++
	go c.runFetch(c.gen)
}

func (c *Controller) runFetch(gen uint64) {
	records, err := c.fetch(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A result that arrives after teardown, or behind a newer applied
	// fetch, is discarded without any state transition.
	if c.closed || gen <= c.applied {
		return
	}
	c.inflight = false

	if err != nil {
		// Keep the last good result set; only flag the failure.
		c.state = StateError
		c.lastErr = err
	} else {
		c.records = records
		c.applied = gen
		c.state = StateReady
		c.lastErr = nil
	}

	if c.pending {
		c.pending = false
		c.state = StateLoading
		c.startFetchLocked()
	}
}

// Stop is the unmount path: unconditional teardown, even mid-fetch.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed
	c.pending = false
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// Snapshot returns the current result set, state, and error indicator. The
// slice is copied so callers cannot race the controller.
func (c *Controller) Snapshot() ([]normalize.Record, State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]normalize.Record, len(c.records))
	copy(records, c.records)
	return records, c.state, c.lastErr
}

func (c *Controller) Collection() string {
	return c.collection
}
