package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ugchub/internal/domain"
	"ugchub/internal/engine/auth"
	"ugchub/internal/events"
	"ugchub/internal/inbox"
	"ugchub/internal/tagset"
)

// StartConversation opens a conversation row between the actor and a
// counterpart outside any opportunity.
func (e Engine) StartConversation(ctx context.Context, actor auth.Actor, counterpartID string) (domain.Conversation, error) {
	if strings.TrimSpace(counterpartID) == "" {
		return domain.Conversation{}, ValidationError{Field: "counterpart_id", Message: "required"}
	}
	c := domain.Conversation{ID: e.newID(), CreatedAt: e.stamp()}
	switch actor.Role {
	case domain.RoleAnalyst:
		c.AnalystID, c.CreatorID = actor.ID, counterpartID
	case domain.RoleCreator:
		c.AnalystID, c.CreatorID = counterpartID, actor.ID
	default:
		return domain.Conversation{}, auth.ForbiddenError{ActorID: actor.ID, Action: "start conversations"}
	}
	if err := e.Repo.InsertConversation(ctx, nil, c); err != nil {
		return domain.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// SendMessage appends a message to a conversation and bumps its
// last_message_at.
func (e Engine) SendMessage(ctx context.Context, actor auth.Actor, conversationID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ValidationError{Field: "content", Message: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	conv, err := e.Repo.GetConversation(ctx, tx, conversationID)
	if err != nil {
		return domain.Message{}, wrapNotFound("conversation", conversationID, err)
	}
	if err := auth.RequireParty(actor, "send messages", conv.CreatorID, conv.AnalystID); err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{
		ID:             e.newID(),
		ConversationID: conv.ID,
		SenderID:       actor.ID,
		Content:        content,
		CreatedAt:      e.stamp(),
	}
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := e.Repo.TouchConversation(ctx, tx, conv.ID, m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.MessageSent, EntityKind: "message", EntityID: m.ID,
		ActorID: actor.ID, CreatorID: conv.CreatorID, AnalystID: conv.AnalystID,
		Payload: events.EventPayload{"conversation_id": conv.ID},
	})
	if err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	e.publish(ctx, evt)
	return m, nil
}

// ListThreads returns the actor's inbox: one thread per counterpart, most
// recent first.
func (e Engine) ListThreads(ctx context.Context, actor auth.Actor) ([]domain.Thread, error) {
	actorID := actor.ID
	if actor.IsSystem() {
		actorID = ""
	}
	convs, err := e.Repo.ListConversations(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for _, c := range inbox.Incomplete(convs) {
		e.logger().Warn("skipping conversation without both parties",
			zap.String("conversation_id", c.ID), zap.String("analyst_id", c.AnalystID), zap.String("creator_id", c.CreatorID))
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	msgs, err := e.Repo.MessagesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	approved, err := e.Repo.ApprovedApplications(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return inbox.Unify(convs, msgs, approved), nil
}

// ThreadMessages returns the merged history of every conversation between an
// analyst and a creator.
func (e Engine) ThreadMessages(ctx context.Context, actor auth.Actor, analystID, creatorID string) ([]domain.Message, error) {
	if err := auth.RequireParty(actor, "read messages", creatorID, analystID); err != nil {
		return nil, err
	}
	convs, err := e.Repo.ListPairConversations(ctx, analystID, creatorID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	msgs, err := e.Repo.MessagesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	return inbox.History(ids, msgs), nil
}

// SaveThreadDetails sets a conversation's custom title and its tags, parsed
// from a comma-separated string and capped at tagset.Max.
func (e Engine) SaveThreadDetails(ctx context.Context, actor auth.Actor, conversationID, customTitle, tagsCSV string) (domain.Conversation, error) {
	tags := tagset.Parse(tagsCSV)
	title := strings.TrimSpace(customTitle)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback()
	conv, err := e.Repo.GetConversation(ctx, tx, conversationID)
	if err != nil {
		return domain.Conversation{}, wrapNotFound("conversation", conversationID, err)
	}
	if err := auth.RequireParty(actor, "edit conversations", conv.CreatorID, conv.AnalystID); err != nil {
		return domain.Conversation{}, err
	}
	if err := e.Repo.UpdateConversationDetails(ctx, tx, conv.ID, title, tags); err != nil {
		return domain.Conversation{}, err
	}
	conv.CustomTitle = title
	conv.Tags = tags
	evt, err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.ThreadDetailsSaved, EntityKind: "conversation", EntityID: conv.ID,
		ActorID: actor.ID, CreatorID: conv.CreatorID, AnalystID: conv.AnalystID,
		Payload: events.EventPayload{"custom_title": title, "tags": tags},
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, err
	}
	e.publish(ctx, evt)
	return conv, nil
}
