package realtime

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ugchub/internal/domain"
	"ugchub/internal/retry"
)

const (
	DefaultPollInterval = 15 * time.Second
	defaultBatch        = 100
	// seenWindow bounds how many delivered ids are remembered above the floor.
	seenWindow = 1024
)

// Source reads the persisted event log visible to an actor.
type Source interface {
	EventsAfter(ctx context.Context, afterID int64, actorID string, limit int) ([]domain.Event, error)
}

// Follower streams an actor's events. It consumes the broker subscription
// while it is up and polls Source from its cursor while it is down. Pushes may
// arrive out of id order: a push that skips past the cursor first drains the
// log, and a late push below the cursor is still delivered unless its id was
// already seen. No event is delivered twice.
type Follower struct {
	Broker       Broker
	Source       Source
	ActorID      string
	PollInterval time.Duration
	Logger       *zap.Logger
	// OnFallback is called each time the follower switches to polling.
	OnFallback func()

	cursor int64
	floor  int64
	seen   map[int64]struct{}
	order  []int64
}

// deliverError marks failures of the caller's deliver func, which end Run.
type deliverError struct{ err error }

func (e deliverError) Error() string { return e.err.Error() }
func (e deliverError) Unwrap() error { return e.err }

// Cursor returns the highest delivered event id.
func (f *Follower) Cursor() int64 { return f.cursor }

// Run delivers events with id > cursor until ctx ends or deliver fails.
func (f *Follower) Run(ctx context.Context, cursor int64, deliver func(domain.Event) error) error {
	f.cursor = cursor
	f.floor = cursor
	f.seen = make(map[int64]struct{})
	f.order = f.order[:0]
	logger := f.logger()
	interval := f.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	topic := Topic(f.ActorID)
	for {
		sub, err := f.Broker.Subscribe(ctx, topic)
		if err == nil {
			err = f.poll(ctx, deliver)
			if err == nil {
				err = f.consume(ctx, sub, deliver)
			}
			sub.Close()
			var de deliverError
			if errors.As(err, &de) {
				return de.err
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("realtime: subscription lost, polling", zap.String("actor_id", f.ActorID), zap.Int64("cursor", f.cursor))
		} else {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("realtime: subscribe failed, polling", zap.String("actor_id", f.ActorID), zap.Error(err))
		}
		if f.OnFallback != nil {
			f.OnFallback()
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if err := f.poll(ctx, deliver); err != nil {
			var de deliverError
			if errors.As(err, &de) {
				return de.err
			}
			logger.Warn("realtime: poll failed", zap.String("actor_id", f.ActorID), zap.Error(err))
		}
	}
}

// consume returns nil when the subscription drops or ctx ends.
func (f *Follower) consume(ctx context.Context, sub Subscription, deliver func(domain.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case evt := <-sub.C():
			if evt.ID > f.cursor+1 {
				if err := f.poll(ctx, deliver); err != nil {
					var de deliverError
					if errors.As(err, &de) {
						return err
					}
					f.logger().Warn("realtime: gap poll failed", zap.String("actor_id", f.ActorID), zap.Error(err))
				}
			}
			if err := f.emit(evt, deliver); err != nil {
				return err
			}
		}
	}
}

// poll drains the log from the cursor in batches.
func (f *Follower) poll(ctx context.Context, deliver func(domain.Event) error) error {
	for {
		var batch []domain.Event
		err := retry.Do(ctx, retry.Default, func(ctx context.Context) error {
			var err error
			batch, err = f.Source.EventsAfter(ctx, f.cursor, f.ActorID, defaultBatch)
			return err
		})
		if err != nil {
			return err
		}
		for _, evt := range batch {
			if err := f.emit(evt, deliver); err != nil {
				return err
			}
		}
		if len(batch) < defaultBatch {
			return nil
		}
	}
}

func (f *Follower) emit(evt domain.Event, deliver func(domain.Event) error) error {
	if evt.ID <= f.floor {
		return nil
	}
	if _, ok := f.seen[evt.ID]; ok {
		return nil
	}
	if err := deliver(evt); err != nil {
		return deliverError{err: err}
	}
	f.remember(evt.ID)
	if evt.ID > f.cursor {
		f.cursor = evt.ID
	}
	return nil
}

// remember records a delivered id. Once the window is full the oldest id is
// forgotten and becomes the floor.
func (f *Follower) remember(id int64) {
	if f.seen == nil {
		f.seen = make(map[int64]struct{})
	}
	f.seen[id] = struct{}{}
	f.order = append(f.order, id)
	if len(f.order) <= seenWindow {
		return
	}
	old := f.order[0]
	f.order = f.order[1:]
	delete(f.seen, old)
	if old > f.floor {
		f.floor = old
	}
}

func (f *Follower) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
