package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ugchub/internal/catalog"
	"ugchub/internal/domain"
	"ugchub/internal/events"
	"ugchub/internal/metrics"
	"ugchub/internal/notify"
	"ugchub/internal/realtime"
	"ugchub/internal/repo"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps so
// text ordering matches time ordering.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// ErrConflict signals a write that collides with existing state.
var ErrConflict = errors.New("conflict")

// ValidationError reports invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Catalog   catalog.Catalog
	Logger    *zap.Logger
	Broker    realtime.Broker
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
	NewID     func() string
}

func New(conn *sql.DB, dialect string, cat catalog.Catalog, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:        conn,
		Repo:      repo.Repo{DB: conn, Dialect: dialect},
		Events:    events.Writer{Dialect: dialect},
		Catalog:   cat,
		Logger:    logger,
		Broker:    realtime.NewHub(),
		Publisher: notify.Nop{},
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(TimeLayout)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// appendEvent stamps the writer clock with the engine clock.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, entry events.Entry) (domain.Event, error) {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, entry)
}

// publish pushes committed events to realtime subscribers and the outbound
// publisher. Failures are logged; the write already succeeded.
func (e Engine) publish(ctx context.Context, evts ...domain.Event) {
	for _, evt := range evts {
		if e.Broker != nil {
			for _, topic := range realtime.Topics(evt) {
				if err := e.Broker.Publish(ctx, topic, evt); err != nil {
					e.logger().Warn("realtime publish failed", zap.String("topic", topic), zap.Int64("event_id", evt.ID), zap.Error(err))
				}
			}
		}
		if e.Publisher != nil {
			err := e.Publisher.Publish(ctx, evt)
			if err != nil {
				e.logger().Warn("outbound publish failed", zap.String("type", evt.Type), zap.Int64("event_id", evt.ID), zap.Error(err))
			}
			e.Metrics.EventPublished(evt.Type, err)
		}
	}
}

// LatestEventID is the cursor a new realtime follower starts from.
func (e Engine) LatestEventID(ctx context.Context) (int64, error) {
	return e.Repo.LatestEventID(ctx)
}

func wrapNotFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
	}
	return err
}
