package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"armory/api/internal/normalize"
	"armory/api/internal/notify"
)

// fakeChannel dispatches events synchronously and records subscription
// lifecycle for leak assertions.
type fakeChannel struct {
	mu         gosync.Mutex
	handlers   map[string][]func(notify.Event)
	subscribed int
	closed     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]func(notify.Event))}
}

func (f *fakeChannel) Publish(_ context.Context, event notify.Event) error {
	f.mu.Lock()
	handlers := append([]func(notify.Event){}, f.handlers[event.Collection]...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
	return nil
}

func (f *fakeChannel) Subscribe(_ context.Context, collection string, onEvent func(notify.Event)) (*notify.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed++
	index := len(f.handlers[collection])
	f.handlers[collection] = append(f.handlers[collection], onEvent)
	return notify.NewSubscription(collection, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed++
		f.handlers[collection][index] = func(notify.Event) {}
	}), nil
}

func (f *fakeChannel) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func productRecord(id string) normalize.Record {
	return normalize.Record{"id": id, "name": "item-" + id}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitialFetchPopulatesResultSet(t *testing.T) {
	channel := newFakeChannel()
	fetch := func(context.Context) ([]normalize.Record, error) {
		return []normalize.Record{productRecord("p-1")}, nil
	}

	c := NewController("products", fetch, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, "ready state", func() bool {
		_, state, _ := c.Snapshot()
		return state == StateReady
	})

	records, _, err := c.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error indicator: %v", err)
	}
	if len(records) != 1 || records[0]["id"] != "p-1" {
		t.Fatalf("unexpected result set: %v", records)
	}
}

func TestStartIsOneShot(t *testing.T) {
	c := NewController("products", func(context.Context) ([]normalize.Record, error) {
		return nil, nil
	}, newFakeChannel())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestChangeEventTriggersRefetch(t *testing.T) {
	channel := newFakeChannel()
	var mu gosync.Mutex
	calls := 0
	fetch := func(context.Context) ([]normalize.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return []normalize.Record{productRecord("p-1")}, nil
		}
		return []normalize.Record{productRecord("p-1"), productRecord("p-2")}, nil
	}

	c := NewController("products", fetch, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, "initial ready", func() bool {
		records, state, _ := c.Snapshot()
		return state == StateReady && len(records) == 1
	})

	channel.Publish(context.Background(), notify.Event{Collection: "products", Kind: notify.KindInsert})

	waitFor(t, "refetched result set", func() bool {
		records, state, _ := c.Snapshot()
		return state == StateReady && len(records) == 2
	})
}

func TestEventsDuringFlightCoalesceIntoOneFetch(t *testing.T) {
	channel := newFakeChannel()
	release := make(chan struct{})
	var mu gosync.Mutex
	calls := 0
	fetch := func(context.Context) ([]normalize.Record, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
		}
		return []normalize.Record{productRecord("p-1")}, nil
	}

	c := NewController("products", fetch, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	// Two events land while the initial fetch is still blocked.
	channel.Publish(context.Background(), notify.Event{Collection: "products", Kind: notify.KindInsert})
	channel.Publish(context.Background(), notify.Event{Collection: "products", Kind: notify.KindUpdate})
	close(release)

	waitFor(t, "coalesced follow-up to settle", func() bool {
		_, state, _ := c.Snapshot()
		mu.Lock()
		defer mu.Unlock()
		return state == StateReady && calls == 2
	})

	// No third fetch may trail in afterwards.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected exactly 2 fetches (initial + one follow-up), got %d", calls)
	}
}

func TestStopDuringFlightDiscardsResult(t *testing.T) {
	channel := newFakeChannel()
	release := make(chan struct{})
	fetch := func(context.Context) ([]normalize.Record, error) {
		<-release
		return []normalize.Record{productRecord("late")}, nil
	}

	c := NewController("products", fetch, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.Stop()
	close(release)

	time.Sleep(50 * time.Millisecond)
	records, state, _ := c.Snapshot()
	if len(records) != 0 {
		t.Fatalf("late fetch result applied after Stop: %v", records)
	}
	if state != StateClosed {
		t.Fatalf("expected closed state, got %v", state)
	}
	if channel.closedCount() != 1 {
		t.Fatalf("expected subscription torn down once, got %d", channel.closedCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	channel := newFakeChannel()
	c := NewController("products", func(context.Context) ([]normalize.Record, error) {
		return nil, nil
	}, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop()
	c.Stop()
	if channel.closedCount() != 1 {
		t.Fatalf("expected one teardown, got %d", channel.closedCount())
	}
}

func TestFailedRefreshKeepsLastGoodResultSet(t *testing.T) {
	channel := newFakeChannel()
	var mu gosync.Mutex
	calls := 0
	fetch := func(context.Context) ([]normalize.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return []normalize.Record{productRecord("p-1")}, nil
		case 2:
			return nil, errors.New("store unavailable")
		default:
			return []normalize.Record{productRecord("p-2")}, nil
		}
	}

	c := NewController("products", fetch, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, "initial ready", func() bool {
		_, state, _ := c.Snapshot()
		return state == StateReady
	})

	channel.Publish(context.Background(), notify.Event{Collection: "products", Kind: notify.KindUpdate})
	waitFor(t, "error state", func() bool {
		_, state, _ := c.Snapshot()
		return state == StateError
	})

	records, _, err := c.Snapshot()
	if err == nil {
		t.Fatal("expected an error indicator")
	}
	if len(records) != 1 || records[0]["id"] != "p-1" {
		t.Fatalf("failed refresh must keep the last good result set, got %v", records)
	}

	// The next successful fetch clears the indicator and fully replaces.
	channel.Publish(context.Background(), notify.Event{Collection: "products", Kind: notify.KindUpdate})
	waitFor(t, "recovery", func() bool {
		records, state, err := c.Snapshot()
		return state == StateReady && err == nil && len(records) == 1 && records[0]["id"] == "p-2"
	})
}

func TestStaleFetchResultIsDiscarded(t *testing.T) {
	var mu gosync.Mutex
	calls := 0
	fetch := func(context.Context) ([]normalize.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return []normalize.Record{productRecord("current")}, nil
		}
		return []normalize.Record{productRecord("replacement")}, nil
	}

	c := NewController("products", fetch, newFakeChannel())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, "initial ready", func() bool {
		_, state, _ := c.Snapshot()
		return state == StateReady
	})

	// A fetch from an older generation resolving after a newer one has
	// applied must be discarded without any transition.
	c.runFetch(0)

	records, state, err := c.Snapshot()
	if state != StateReady || err != nil {
		t.Fatalf("stale result changed state: %v, %v", state, err)
	}
	if len(records) != 1 || records[0]["id"] != "current" {
		t.Fatalf("stale result overwrote the applied set: %v", records)
	}

	// The generation counter is unharmed: a real invalidation still applies.
	c.Invalidate()
	waitFor(t, "replacement applied", func() bool {
		records, state, _ := c.Snapshot()
		return state == StateReady && len(records) == 1 && records[0]["id"] == "replacement"
	})
}

func TestInvalidateAfterReconnectForcesRefetch(t *testing.T) {
	channel := newFakeChannel()
	var mu gosync.Mutex
	calls := 0
	fetch := func(context.Context) ([]normalize.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return []normalize.Record{productRecord("p-1")}, nil
	}

	c := NewController("products", fetch, channel)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, "initial ready", func() bool {
		_, state, _ := c.Snapshot()
		return state == StateReady
	})

	// A direct invalidation behaves like one incoming change event.
	c.Invalidate()
	waitFor(t, "reconnect refetch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}
