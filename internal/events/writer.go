package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ugchub/internal/db"
	"ugchub/internal/domain"
)

const (
	ApplicationSubmitted = "application.submitted"
	ApplicationDecided   = "application.decided"
	OpportunityCreated   = "opportunity.created"
	TemplateApplied      = "template.applied"
	DeliverableUpdated   = "deliverable.updated"
	DeliverableOverdue   = "deliverable.overdue"
	MessageSent          = "message.sent"
	ThreadDetailsSaved   = "thread.details_saved"
	OnboardingSubmitted  = "onboarding.submitted"
)

type Writer struct {
	Dialect string
	Now     func() time.Time
}

type EventPayload map[string]any

// Entry describes one event row. CreatorID and AnalystID name the parties
// allowed to see it.
type Entry struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	CreatorID  string
	AnalystID  string
	Payload    EventPayload
}

// Append inserts the event inside tx and returns the stored row with its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		TS:         ts,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		CreatorID:  e.CreatorID,
		AnalystID:  e.AnalystID,
		Payload:    string(data),
	}
	err = tx.QueryRowContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,creator_id,analyst_id,payload_json) VALUES (?,?,?,?,?,?,?,?) RETURNING id`),
		ts, e.Type, e.EntityKind, nullable(e.EntityID), e.ActorID, nullable(e.CreatorID), nullable(e.AnalystID), evt.Payload).Scan(&evt.ID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
