package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ugchub/internal/domain"
)

type memSource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memSource) add(evts ...domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, evts...)
	s.mu.Unlock()
}

func (s *memSource) EventsAfter(_ context.Context, after int64, _ string, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.ID > after {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// signalBroker wraps a Hub, reports each successful subscribe and can be
// told to refuse new subscriptions.
type signalBroker struct {
	*Hub
	refuse     atomic.Bool
	subscribed chan struct{}
}

func (b *signalBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if b.refuse.Load() {
		return nil, errors.New("broker unavailable")
	}
	sub, err := b.Hub.Subscribe(ctx, topic)
	if err == nil {
		b.subscribed <- struct{}{}
	}
	return sub, err
}

func evt(id int64) domain.Event {
	return domain.Event{ID: id, Type: "message.sent", CreatorID: "cre-1", AnalystID: "ana-1"}
}

func waitFor(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func waitSubscribed(t *testing.T, b *signalBroker) {
	t.Helper()
	select {
	case <-b.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}
}

func startFollower(t *testing.T, f *Follower, cursor int64) (<-chan domain.Event, context.CancelFunc) {
	t.Helper()
	out := make(chan domain.Event, 32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx, cursor, func(e domain.Event) error {
			out <- e
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return out, cancel
}

func TestTopics(t *testing.T) {
	got := Topics(domain.Event{ActorID: "ana-1", CreatorID: "cre-1", AnalystID: "ana-1"})
	assert.Equal(t, []string{Topic("cre-1"), Topic("ana-1")}, got)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	for i := 0; i <= subscriberBuffer; i++ {
		require.NoError(t, h.Publish(context.Background(), "t", evt(int64(i+1))))
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("slow subscriber should be dropped")
	}
	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Publish(context.Background(), "t", evt(1)), ErrClosed)
}

func TestFollowerDeliversPushedEventsOnce(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	f := &Follower{Broker: b, Source: src, ActorID: "cre-1", PollInterval: time.Hour}
	out, _ := startFollower(t, f, 0)
	waitSubscribed(t, b)

	ctx := context.Background()
	topic := Topic("cre-1")
	require.NoError(t, b.Publish(ctx, topic, evt(1)))
	require.NoError(t, b.Publish(ctx, topic, evt(2)))
	require.NoError(t, b.Publish(ctx, topic, evt(1)))
	require.NoError(t, b.Publish(ctx, topic, evt(3)))

	assert.EqualValues(t, 1, waitFor(t, out).ID)
	assert.EqualValues(t, 2, waitFor(t, out).ID)
	assert.EqualValues(t, 3, waitFor(t, out).ID)
}

func TestFollowerFillsGapWhenPushesArriveOutOfOrder(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	f := &Follower{Broker: b, Source: src, ActorID: "cre-1", PollInterval: time.Hour}
	out, _ := startFollower(t, f, 0)
	waitSubscribed(t, b)

	ctx := context.Background()
	topic := Topic("cre-1")
	src.add(evt(1), evt(2))
	require.NoError(t, b.Publish(ctx, topic, evt(2)))
	require.NoError(t, b.Publish(ctx, topic, evt(1)))

	assert.EqualValues(t, 1, waitFor(t, out).ID)
	assert.EqualValues(t, 2, waitFor(t, out).ID)
	select {
	case e := <-out:
		t.Fatalf("unexpected duplicate delivery of %d", e.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFollowerDeliversLatePushBelowCursor(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	f := &Follower{Broker: b, Source: src, ActorID: "cre-1", PollInterval: time.Hour}
	out, _ := startFollower(t, f, 0)
	waitSubscribed(t, b)

	ctx := context.Background()
	topic := Topic("cre-1")
	// event 1 commits after event 2 is already visible
	src.add(evt(2))
	require.NoError(t, b.Publish(ctx, topic, evt(2)))
	assert.EqualValues(t, 2, waitFor(t, out).ID)

	src.add(evt(1))
	require.NoError(t, b.Publish(ctx, topic, evt(1)))
	assert.EqualValues(t, 1, waitFor(t, out).ID)
	require.NoError(t, b.Publish(ctx, topic, evt(2)))
	select {
	case e := <-out:
		t.Fatalf("unexpected duplicate delivery of %d", e.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFollowerNeverRedeliversAtOrBelowStartCursor(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	f := &Follower{Broker: b, Source: src, ActorID: "cre-1", PollInterval: time.Hour}
	out, _ := startFollower(t, f, 5)
	waitSubscribed(t, b)

	ctx := context.Background()
	topic := Topic("cre-1")
	require.NoError(t, b.Publish(ctx, topic, evt(5)))
	require.NoError(t, b.Publish(ctx, topic, evt(6)))
	assert.EqualValues(t, 6, waitFor(t, out).ID)
}

func TestFollowerCatchesUpFromCursorOnSubscribe(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	src.add(evt(4), evt(5), evt(6))
	f := &Follower{Broker: b, Source: src, ActorID: "cre-1", PollInterval: time.Hour}
	out, _ := startFollower(t, f, 4)
	waitSubscribed(t, b)

	assert.EqualValues(t, 5, waitFor(t, out).ID)
	assert.EqualValues(t, 6, waitFor(t, out).ID)
}

func TestFollowerFallsBackToPollingAndResubscribes(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	var fallbacks atomic.Int32
	f := &Follower{
		Broker:       b,
		Source:       src,
		ActorID:      "cre-1",
		PollInterval: 10 * time.Millisecond,
		OnFallback:   func() { fallbacks.Add(1) },
	}
	out, _ := startFollower(t, f, 0)
	waitSubscribed(t, b)

	b.refuse.Store(true)
	b.Disconnect(Topic("cre-1"))
	src.add(evt(1), evt(2), evt(3))

	assert.EqualValues(t, 1, waitFor(t, out).ID)
	assert.EqualValues(t, 2, waitFor(t, out).ID)
	assert.EqualValues(t, 3, waitFor(t, out).ID)
	assert.GreaterOrEqual(t, fallbacks.Load(), int32(1))

	b.refuse.Store(false)
	waitSubscribed(t, b)
	src.add(evt(4))
	require.NoError(t, b.Publish(context.Background(), Topic("cre-1"), evt(3)))
	require.NoError(t, b.Publish(context.Background(), Topic("cre-1"), evt(4)))
	assert.EqualValues(t, 4, waitFor(t, out).ID)

	select {
	case e := <-out:
		t.Fatalf("unexpected duplicate delivery of %d", e.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFollowerStopsWhenDeliverFails(t *testing.T) {
	b := &signalBroker{Hub: NewHub(), subscribed: make(chan struct{}, 4)}
	src := &memSource{}
	src.add(evt(1))
	f := &Follower{Broker: b, Source: src, ActorID: "cre-1", PollInterval: time.Hour}
	boom := errors.New("client gone")
	err := f.Run(context.Background(), 0, func(domain.Event) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, f.Cursor())
}
