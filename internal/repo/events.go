package repo

import (
	"context"
	"database/sql"

	"ugchub/internal/domain"
)

// EventsAfter returns up to limit events with id > afterID where actorID is a
// party (creator or analyst) of the event, oldest first.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, actorID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,COALESCE(creator_id,''),COALESCE(analyst_id,''),payload_json
FROM events WHERE id > ?`
	args := []any{afterID}
	if actorID != "" {
		query += ` AND (creator_id=? OR analyst_id=?)`
		args = append(args, actorID, actorID)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.CreatorID, &e.AnalystID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// HasEvent reports whether an event of the given type exists for an entity.
func (r Repo) HasEvent(ctx context.Context, evtType, entityKind, entityID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT 1 FROM events WHERE type=? AND entity_kind=? AND entity_id=? LIMIT 1`), evtType, entityKind, entityID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
