package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ugchub/internal/db"
	"ugchub/internal/domain"
	"ugchub/internal/migrate"
	"ugchub/internal/repo"
)

const ts = "2025-01-01T10:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	return repo.Repo{DB: conn, Dialect: db.SQLite}
}

func seedApproved(t *testing.T, r repo.Repo) domain.Application {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertOpportunity(ctx, nil, domain.Opportunity{
		ID: "opp-1", AnalystID: "ana-1", Title: "Campanha verão", Deadline: "2025-02-01", Status: "open", CreatedAt: ts,
	}))
	app := domain.Application{ID: "app-1", OpportunityID: "opp-1", CreatorID: "cre-1", Status: domain.ApplicationPending, CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, r.InsertApplication(ctx, nil, app))
	require.NoError(t, r.UpdateApplicationStatus(ctx, nil, app.ID, domain.ApplicationApproved, ts))
	app.Status = domain.ApplicationApproved
	return app
}

func TestApprovedApplicationsJoinsAnalyst(t *testing.T) {
	r := newRepo(t)
	seedApproved(t, r)
	ctx := context.Background()

	got, err := r.ApprovedApplications(ctx, "ana-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ApprovedApplication{
		ID: "app-1", OpportunityID: "opp-1", OpportunityTitle: "Campanha verão",
		CreatorID: "cre-1", AnalystID: "ana-1", Deadline: "2025-02-01",
	}, got[0])

	got, err = r.ApprovedApplications(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDuplicateApplicationRejected(t *testing.T) {
	r := newRepo(t)
	seedApproved(t, r)
	err := r.InsertApplication(context.Background(), nil, domain.Application{
		ID: "app-2", OpportunityID: "opp-1", CreatorID: "cre-1", Status: domain.ApplicationPending, CreatedAt: ts, UpdatedAt: ts,
	})
	assert.Error(t, err)
}

func TestDeliverableRoundTripAndPatch(t *testing.T) {
	r := newRepo(t)
	seedApproved(t, r)
	ctx := context.Background()
	hours := 2.5
	first := domain.Deliverable{
		ID: "d-1", ApplicationID: "app-1", OpportunityID: "opp-1", CreatorID: "cre-1", AnalystID: "ana-1",
		TemplateID: "ugc-video", Title: "Roteiro", DueDate: "2025-01-08", Priority: 1, EstimatedHours: &hours,
		Status: domain.StatusPending, CreatedAt: ts, UpdatedAt: ts,
	}
	dep := "d-1"
	second := first
	second.ID, second.Title, second.DueDate, second.DependsOn, second.EstimatedHours = "d-2", "Gravação", "2025-01-05", &dep, nil
	require.NoError(t, r.InsertDeliverable(ctx, nil, first))
	require.NoError(t, r.InsertDeliverable(ctx, nil, second))

	list, err := r.ListDeliverables(ctx, repo.DeliverableFilters{ApplicationID: "app-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d-2", list[0].ID, "ordered by due date")
	require.NotNil(t, list[0].DependsOn)
	assert.Equal(t, "d-1", *list[0].DependsOn)
	require.NotNil(t, list[1].EstimatedHours)
	assert.InDelta(t, 2.5, *list[1].EstimatedHours, 0.0001)

	status := domain.StatusSubmitted
	tags := []string{"a", "b"}
	require.NoError(t, r.UpdateDeliverable(ctx, nil, "d-1", repo.DeliverablePatch{Status: &status, Tags: &tags}, "2025-01-02T00:00:00Z"))
	got, err := r.GetDeliverable(ctx, nil, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.Equal(t, "2025-01-02T00:00:00Z", got.UpdatedAt)

	err = r.UpdateDeliverable(ctx, nil, "missing", repo.DeliverablePatch{Status: &status}, ts)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	open, err := r.ListDeliverables(ctx, repo.DeliverableFilters{Statuses: []string{domain.StatusPending, domain.StatusInProgress}, DueBefore: "2025-01-06"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "d-2", open[0].ID)
}

func TestInvalidDeliverableStatusRejectedByStore(t *testing.T) {
	r := newRepo(t)
	seedApproved(t, r)
	err := r.InsertDeliverable(context.Background(), nil, domain.Deliverable{
		ID: "d-x", ApplicationID: "app-1", OpportunityID: "opp-1", CreatorID: "cre-1", AnalystID: "ana-1",
		Title: "x", DueDate: "2025-01-08", Priority: 3, Status: "overdue", CreatedAt: ts, UpdatedAt: ts,
	})
	assert.Error(t, err)
}

func TestConversationsAndMessages(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertConversation(ctx, nil, domain.Conversation{ID: "c-1", AnalystID: "ana-1", CreatorID: "cre-1", OpportunityID: "opp-1", CreatedAt: ts}))
	require.NoError(t, r.InsertConversation(ctx, nil, domain.Conversation{ID: "c-2", AnalystID: "ana-1", CreatorID: "cre-1", CreatedAt: "2025-01-02T00:00:00Z"}))
	require.NoError(t, r.InsertConversation(ctx, nil, domain.Conversation{ID: "c-3", AnalystID: "ana-2", CreatorID: "cre-2", CreatedAt: ts}))

	require.NoError(t, r.InsertMessage(ctx, nil, domain.Message{ID: "m-2", ConversationID: "c-2", SenderID: "cre-1", Content: "oi", CreatedAt: "2025-01-03T00:00:00Z"}))
	require.NoError(t, r.InsertMessage(ctx, nil, domain.Message{ID: "m-1", ConversationID: "c-1", SenderID: "ana-1", Content: "olá", CreatedAt: "2025-01-02T00:00:00Z"}))
	require.NoError(t, r.TouchConversation(ctx, nil, "c-2", "2025-01-03T00:00:00Z"))

	convs, err := r.ListConversations(ctx, "cre-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Nil(t, convs[0].LastMessageAt)
	require.NotNil(t, convs[1].LastMessageAt)
	assert.Equal(t, "2025-01-03T00:00:00Z", *convs[1].LastMessageAt)

	found, err := r.FindConversation(ctx, nil, "ana-1", "cre-1", "opp-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", found.ID)

	msgs, err := r.MessagesFor(ctx, []string{"c-1", "c-2"})
	require.NoError(t, err)
	assert.Len(t, msgs["c-1"], 1)
	assert.Len(t, msgs["c-2"], 1)

	require.NoError(t, r.UpdateConversationDetails(ctx, nil, "c-1", "Verão", []string{"vip"}))
	c, err := r.GetConversation(ctx, nil, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Verão", c.CustomTitle)
	assert.Equal(t, []string{"vip"}, c.Tags)

	assert.ErrorIs(t, r.TouchConversation(ctx, nil, "nope", ts), repo.ErrNotFound)
}

func TestAPIKeysByHash(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	hash := repo.HashAPIKey(" secret ")
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k-1", ActorID: "ana-1", Role: domain.RoleAnalyst, KeyHash: hash}))
	key, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("secret"))
	require.NoError(t, err)
	assert.Equal(t, "ana-1", key.ActorID)
	assert.Equal(t, domain.RoleAnalyst, key.Role)

	_, err = r.GetAPIKeyByHash(ctx, "unknown")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.Error(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k-2", ActorID: "x", Role: "admin", KeyHash: "h"}))
}
