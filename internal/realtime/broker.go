package realtime

import (
	"context"
	"errors"

	"ugchub/internal/domain"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker closed")

// Broker fans committed events out to live subscribers.
type Broker interface {
	Publish(ctx context.Context, topic string, evt domain.Event) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription delivers events for one topic. Done is closed when the
// subscription is lost, after which C receives nothing more.
type Subscription interface {
	C() <-chan domain.Event
	Done() <-chan struct{}
	Close() error
}

// Topic is the per-actor topic both parties of an event are notified on.
func Topic(actorID string) string {
	return "ugchub:actor:" + actorID
}

// Topics returns the distinct topics an event is published to.
func Topics(evt domain.Event) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range []string{evt.CreatorID, evt.AnalystID, evt.ActorID} {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Topic(id))
	}
	return out
}
