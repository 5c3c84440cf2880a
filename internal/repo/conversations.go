package repo

import (
	"context"
	"database/sql"

	"ugchub/internal/domain"
)

const conversationColumns = `id,analyst_id,creator_id,opportunity_id,last_message_at,custom_title,tags_json,created_at`

func (r Repo) InsertConversation(ctx context.Context, tx *sql.Tx, c domain.Conversation) error {
	tags, err := marshalStrings(c.Tags)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, r.q(`INSERT INTO conversations(`+conversationColumns+`) VALUES (?,?,?,?,?,?,?,?)`),
		c.ID, nullable(c.AnalystID), nullable(c.CreatorID), nullable(c.OpportunityID), nullableStringPtr(c.LastMessageAt),
		nullable(c.CustomTitle), tags, c.CreatedAt)
	return err
}

func scanConversation(row interface{ Scan(...any) error }) (domain.Conversation, error) {
	var c domain.Conversation
	var analystID, creatorID, opportunityID, lastMessageAt, title, tags sql.NullString
	if err := row.Scan(&c.ID, &analystID, &creatorID, &opportunityID, &lastMessageAt, &title, &tags, &c.CreatedAt); err != nil {
		return c, err
	}
	c.AnalystID = analystID.String
	c.CreatorID = creatorID.String
	c.OpportunityID = opportunityID.String
	c.CustomTitle = title.String
	if lastMessageAt.Valid {
		v := lastMessageAt.String
		c.LastMessageAt = &v
	}
	var err error
	c.Tags, err = unmarshalStrings(tags)
	return c, err
}

func (r Repo) GetConversation(ctx context.Context, tx *sql.Tx, id string) (domain.Conversation, error) {
	c, err := scanConversation(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+conversationColumns+` FROM conversations WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// FindConversation returns the conversation opened for an opportunity between
// two parties.
func (r Repo) FindConversation(ctx context.Context, tx *sql.Tx, analystID, creatorID, opportunityID string) (domain.Conversation, error) {
	c, err := scanConversation(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+conversationColumns+` FROM conversations WHERE analyst_id=? AND creator_id=? AND opportunity_id=? LIMIT 1`),
		analystID, creatorID, opportunityID))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListConversations returns the rows where actorID is either party, in
// creation order. An empty actorID lists every row.
func (r Repo) ListConversations(ctx context.Context, actorID string) ([]domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	var args []any
	if actorID != "" {
		query += ` WHERE analyst_id=? OR creator_id=?`
		args = append(args, actorID, actorID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListPairConversations returns every row between one analyst and one creator.
func (r Repo) ListPairConversations(ctx context.Context, analystID, creatorID string) ([]domain.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+conversationColumns+` FROM conversations WHERE analyst_id=? AND creator_id=? ORDER BY created_at ASC, id ASC`),
		analystID, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateConversationDetails(ctx context.Context, tx *sql.Tx, id, customTitle string, tags []string) error {
	tagsJSON, err := marshalStrings(tags)
	if err != nil {
		return err
	}
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE conversations SET custom_title=?, tags_json=? WHERE id=?`), nullable(customTitle), tagsJSON, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation records the time of the latest message.
func (r Repo) TouchConversation(ctx context.Context, tx *sql.Tx, id, at string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE conversations SET last_message_at=? WHERE id=?`), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := r.on(tx).ExecContext(ctx, r.q(`INSERT INTO messages(id,conversation_id,sender_id,content,created_at) VALUES (?,?,?,?,?)`),
		m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt)
	return err
}

// MessagesFor loads the messages of the given conversations ordered by
// created_at, keyed by conversation id.
func (r Repo) MessagesFor(ctx context.Context, conversationIDs []string) (map[string][]domain.Message, error) {
	out := map[string][]domain.Message{}
	if len(conversationIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(conversationIDs))
	for _, id := range conversationIDs {
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,conversation_id,sender_id,content,created_at FROM messages WHERE conversation_id IN (`+placeholders(len(args))+`) ORDER BY created_at ASC, id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, rows.Err()
}
