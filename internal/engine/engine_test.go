package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ugchub/internal/catalog"
	"ugchub/internal/db"
	"ugchub/internal/domain"
	"ugchub/internal/engine"
	"ugchub/internal/engine/auth"
	"ugchub/internal/events"
	"ugchub/internal/migrate"
	"ugchub/internal/planner"
	"ugchub/internal/realtime"
	"ugchub/internal/repo"
)

var (
	analyst  = auth.Actor{ID: "ana-1", Role: domain.RoleAnalyst}
	analyst2 = auth.Actor{ID: "ana-2", Role: domain.RoleAnalyst}
	creator  = auth.Actor{ID: "cre-1", Role: domain.RoleCreator}
	creator2 = auth.Actor{ID: "cre-2", Role: domain.RoleCreator}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *clock
}

// clock advances one second per reading so stored timestamps are ordered.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))

	eng := engine.New(conn, db.SQLite, catalog.Default(), nil)
	clk := &clock{t: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)}
	eng.Now = clk.Now
	n := 0
	eng.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return testEnv{Engine: eng, Ctx: context.Background(), clock: clk}
}

func (env testEnv) approvedApplication(t *testing.T, title string, c auth.Actor) domain.Application {
	t.Helper()
	opp, err := env.Engine.CreateOpportunity(env.Ctx, analyst, engine.CreateOpportunityOptions{Title: title, BudgetCents: 150000})
	require.NoError(t, err)
	app, err := env.Engine.Apply(env.Ctx, c, engine.ApplyOptions{OpportunityID: opp.ID, Pitch: "adoro a marca"})
	require.NoError(t, err)
	app, err = env.Engine.DecideApplication(env.Ctx, analyst, engine.DecideOptions{ApplicationID: app.ID, Decision: domain.ApplicationApproved})
	require.NoError(t, err)
	return app
}

func TestApplyTemplateChainsDependenciesAndDueDates(t *testing.T) {
	env := newTestEnv(t)
	app := env.approvedApplication(t, "Campanha verão", creator)

	views, err := env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{
		ApplicationID: app.ID, TemplateID: "ugc-video", StartDate: "2025-01-28",
	})
	require.NoError(t, err)

	tpl, err := catalog.Default().Get("ugc-video")
	require.NoError(t, err)
	require.Len(t, views, len(tpl.Specs))
	start, _ := planner.ParseDate("2025-01-28")
	for i, spec := range tpl.Specs {
		assert.Equal(t, start.AddDate(0, 0, spec.DaysFromStart).Format(planner.DateLayout), views[i].DueDate, "spec %d", i)
		assert.Equal(t, domain.StatusPending, views[i].Status)
		assert.Equal(t, app.CreatorID, views[i].CreatorID)
		assert.Equal(t, analyst.ID, views[i].AnalystID)
		if i == 0 {
			assert.Nil(t, views[i].DependsOn)
			continue
		}
		require.NotNil(t, views[i].DependsOn, "spec %d", i)
		assert.Equal(t, views[i-1].ID, *views[i].DependsOn)
	}
	// 2025-01-28 + 7 crosses the month boundary
	assert.Equal(t, "2025-02-04", views[2].DueDate)

	stored, err := env.Engine.ListDeliverables(env.Ctx, creator, engine.DeliverableQuery{ApplicationID: app.ID})
	require.NoError(t, err)
	assert.Len(t, stored, len(tpl.Specs))

	applied, err := env.Engine.Repo.HasEvent(env.Ctx, events.TemplateApplied, "application", app.ID)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestApplyTemplateIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	app := env.approvedApplication(t, "Campanha inverno", creator)

	// the third draft reuses the second id and violates the primary key
	calls := 0
	env.Engine.NewID = func() string {
		calls++
		if calls >= 2 {
			return "dup"
		}
		return "first"
	}
	_, err := env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{
		ApplicationID: app.ID, TemplateID: "ugc-video", StartDate: "2025-01-01",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert deliverable 2")

	stored, err := env.Engine.Repo.ListDeliverables(env.Ctx, repo.DeliverableFilters{ApplicationID: app.ID})
	require.NoError(t, err)
	assert.Empty(t, stored)
	applied, err := env.Engine.Repo.HasEvent(env.Ctx, events.TemplateApplied, "application", app.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApplyTemplateRequiresApprovedApplicationAndOwner(t *testing.T) {
	env := newTestEnv(t)
	opp, err := env.Engine.CreateOpportunity(env.Ctx, analyst, engine.CreateOpportunityOptions{Title: "Pending"})
	require.NoError(t, err)
	app, err := env.Engine.Apply(env.Ctx, creator, engine.ApplyOptions{OpportunityID: opp.ID})
	require.NoError(t, err)

	_, err = env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{ApplicationID: app.ID, TemplateID: "ugc-video"})
	var verr engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	approved := env.approvedApplication(t, "Approved", creator2)
	_, err = env.Engine.ApplyTemplate(env.Ctx, analyst2, engine.ApplyTemplateOptions{ApplicationID: approved.ID, TemplateID: "ugc-video"})
	assert.True(t, auth.IsForbidden(err))

	_, err = env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{ApplicationID: approved.ID, TemplateID: "nope"})
	assert.ErrorIs(t, err, catalog.ErrTemplateNotFound)
}

func TestOverdueIsDerivedNotStored(t *testing.T) {
	env := newTestEnv(t)
	app := env.approvedApplication(t, "Atrasada", creator)
	_, err := env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{
		ApplicationID: app.ID, TemplateID: "social-photo", StartDate: "2024-12-01",
	})
	require.NoError(t, err)

	views, err := env.Engine.ListDeliverables(env.Ctx, analyst, engine.DeliverableQuery{ApplicationID: app.ID})
	require.NoError(t, err)
	require.NotEmpty(t, views)
	for _, v := range views {
		assert.Equal(t, planner.DisplayOverduePending, v.DisplayStatus)
		assert.Equal(t, domain.StatusPending, v.Status)
	}

	status, err := env.Engine.ProjectStatus(env.Ctx, creator, app.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.ProjectOverdue, status.Status)
	assert.Equal(t, len(views), status.Overdue)

	n, err := env.Engine.SweepOverdue(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, len(views), n)
	n, err = env.Engine.SweepOverdue(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "each deliverable is reported once")

	stored, err := env.Engine.Repo.ListDeliverables(env.Ctx, repo.DeliverableFilters{ApplicationID: app.ID})
	require.NoError(t, err)
	for _, d := range stored {
		assert.Equal(t, domain.StatusPending, d.Status)
	}
}

func TestProjectStatusCompleted(t *testing.T) {
	env := newTestEnv(t)
	app := env.approvedApplication(t, "Rápida", creator)
	views, err := env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{
		ApplicationID: app.ID, TemplateID: "review-unboxing", StartDate: "2025-01-10",
	})
	require.NoError(t, err)
	approved := domain.StatusApproved
	for _, v := range views {
		_, err := env.Engine.UpdateDeliverable(env.Ctx, analyst, engine.UpdateDeliverableOptions{ID: v.ID, Status: &approved})
		require.NoError(t, err)
	}
	status, err := env.Engine.ProjectStatus(env.Ctx, analyst, app.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.ProjectCompleted, status.Status)
	assert.Equal(t, 1.0, status.CompletionRatio)
}

func TestUpdateDeliverable(t *testing.T) {
	env := newTestEnv(t)
	app := env.approvedApplication(t, "Campanha", creator)
	views, err := env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{
		ApplicationID: app.ID, TemplateID: "ugc-video", StartDate: "2025-01-10",
	})
	require.NoError(t, err)
	id := views[0].ID

	bad := "overdue_pending"
	_, err = env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: id, Status: &bad})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)

	prio := 9
	_, err = env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: id, Priority: &prio})
	assert.ErrorAs(t, err, &verr)

	inProgress := domain.StatusInProgress
	_, err = env.Engine.UpdateDeliverable(env.Ctx, creator2, engine.UpdateDeliverableOptions{ID: id, Status: &inProgress})
	assert.True(t, auth.IsForbidden(err))

	var raw []string
	for i := 0; i < 15; i++ {
		raw = append(raw, fmt.Sprintf("t%d", i%12))
	}
	v, err := env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: id, Status: &inProgress, Tags: &raw})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, v.Status)
	assert.Equal(t, planner.DisplayInProgress, v.DisplayStatus)
	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}, v.Tags)

	feedback := "capriche na luz"
	rejected := domain.StatusRejected
	v, err = env.Engine.UpdateDeliverable(env.Ctx, analyst, engine.UpdateDeliverableOptions{ID: id, Status: &rejected, Feedback: &feedback})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, v.Status)
	assert.Equal(t, "capriche na luz", v.Feedback)

	_, err = env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: "missing", Status: &inProgress})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCreatorCannotReviewOwnDeliverables(t *testing.T) {
	env := newTestEnv(t)
	app := env.approvedApplication(t, "Fotos", creator)
	views, err := env.Engine.ApplyTemplate(env.Ctx, analyst, engine.ApplyTemplateOptions{
		ApplicationID: app.ID, TemplateID: "social-photo", StartDate: "2025-01-10",
	})
	require.NoError(t, err)
	id := views[0].ID

	for _, s := range []string{domain.StatusApproved, domain.StatusRejected, domain.StatusPending} {
		s := s
		_, err := env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: id, Status: &s})
		assert.True(t, auth.IsForbidden(err), s)
	}
	feedback := "ok"
	_, err = env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: id, Feedback: &feedback})
	assert.True(t, auth.IsForbidden(err))
	prio := 1
	_, err = env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: id, Priority: &prio})
	assert.True(t, auth.IsForbidden(err))

	submitted := domain.StatusSubmitted
	for _, v := range views {
		_, err := env.Engine.UpdateDeliverable(env.Ctx, creator, engine.UpdateDeliverableOptions{ID: v.ID, Status: &submitted})
		require.NoError(t, err)
	}
	status, err := env.Engine.ProjectStatus(env.Ctx, creator, app.ID)
	require.NoError(t, err)
	assert.NotEqual(t, planner.ProjectCompleted, status.Status)
	assert.Equal(t, 0, status.Approved)

	stored, err := env.Engine.Repo.GetDeliverable(env.Ctx, nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	assert.Empty(t, stored.Feedback)
}

func TestApplicationFlow(t *testing.T) {
	env := newTestEnv(t)
	opp, err := env.Engine.CreateOpportunity(env.Ctx, analyst, engine.CreateOpportunityOptions{Title: "Lançamento", Deadline: "2025-02-01"})
	require.NoError(t, err)

	_, err = env.Engine.CreateOpportunity(env.Ctx, creator, engine.CreateOpportunityOptions{Title: "x"})
	assert.True(t, auth.IsForbidden(err))
	_, err = env.Engine.CreateOpportunity(env.Ctx, analyst, engine.CreateOpportunityOptions{Title: "x", Deadline: "01/02/2025"})
	var verr engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	app, err := env.Engine.Apply(env.Ctx, creator, engine.ApplyOptions{OpportunityID: opp.ID})
	require.NoError(t, err)
	_, err = env.Engine.Apply(env.Ctx, creator, engine.ApplyOptions{OpportunityID: opp.ID})
	assert.ErrorIs(t, err, engine.ErrConflict)
	_, err = env.Engine.Apply(env.Ctx, creator2, engine.ApplyOptions{OpportunityID: opp.ID})
	require.NoError(t, err)

	_, err = env.Engine.DecideApplication(env.Ctx, analyst2, engine.DecideOptions{ApplicationID: app.ID, Decision: domain.ApplicationApproved})
	assert.True(t, auth.IsForbidden(err))
	_, err = env.Engine.DecideApplication(env.Ctx, analyst, engine.DecideOptions{ApplicationID: app.ID, Decision: "maybe"})
	assert.ErrorAs(t, err, &verr)

	_, err = env.Engine.DecideApplication(env.Ctx, analyst, engine.DecideOptions{ApplicationID: app.ID, Decision: domain.ApplicationApproved})
	require.NoError(t, err)
	_, err = env.Engine.DecideApplication(env.Ctx, analyst, engine.DecideOptions{ApplicationID: app.ID, Decision: domain.ApplicationRejected})
	assert.ErrorIs(t, err, engine.ErrConflict)

	conv, err := env.Engine.Repo.FindConversation(env.Ctx, nil, analyst.ID, creator.ID, opp.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)

	all, err := env.Engine.ListApplications(env.Ctx, analyst, opp.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	own, err := env.Engine.ListApplications(env.Ctx, creator2, opp.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, creator2.ID, own[0].CreatorID)
}

func TestThreadsUnifyDuplicateConversations(t *testing.T) {
	env := newTestEnv(t)
	first := env.approvedApplication(t, "Campanha A", creator)
	second := env.approvedApplication(t, "Campanha B", creator)
	env.approvedApplication(t, "Campanha C", creator2)
	direct, err := env.Engine.StartConversation(env.Ctx, creator, analyst.ID)
	require.NoError(t, err)

	convs, err := env.Engine.Repo.ListPairConversations(env.Ctx, analyst.ID, creator.ID)
	require.NoError(t, err)
	require.Len(t, convs, 3)

	_, err = env.Engine.SendMessage(env.Ctx, analyst, convs[0].ID, "bem-vinda!")
	require.NoError(t, err)
	_, err = env.Engine.SendMessage(env.Ctx, creator, direct.ID, "obrigada")
	require.NoError(t, err)
	last, err := env.Engine.SendMessage(env.Ctx, analyst, convs[1].ID, "  briefing anexo  ")
	require.NoError(t, err)
	assert.Equal(t, "briefing anexo", last.Content)

	_, err = env.Engine.SendMessage(env.Ctx, creator2, convs[0].ID, "oi")
	assert.True(t, auth.IsForbidden(err))
	_, err = env.Engine.SendMessage(env.Ctx, creator, convs[0].ID, "   ")
	var verr engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	threads, err := env.Engine.ListThreads(env.Ctx, creator)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	th := threads[0]
	assert.Equal(t, analyst.ID, th.AnalystID)
	assert.Equal(t, convs[1].ID, th.RepresentativeID)
	assert.ElementsMatch(t, []string{convs[0].ID, convs[1].ID, direct.ID}, th.ConversationIDs)
	require.NotNil(t, th.LastMessage)
	assert.Equal(t, last.ID, th.LastMessage.ID)
	var projectIDs []string
	for _, p := range th.Projects {
		projectIDs = append(projectIDs, p.ID)
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, projectIDs)

	analystThreads, err := env.Engine.ListThreads(env.Ctx, analyst)
	require.NoError(t, err)
	require.Len(t, analystThreads, 2)
	assert.Equal(t, creator.ID, analystThreads[0].CreatorID, "most recent thread first")

	history, err := env.Engine.ThreadMessages(env.Ctx, creator, analyst.ID, creator.ID)
	require.NoError(t, err)
	var contents []string
	for _, m := range history {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"bem-vinda!", "obrigada", "briefing anexo"}, contents)

	_, err = env.Engine.ThreadMessages(env.Ctx, creator2, analyst.ID, creator.ID)
	assert.True(t, auth.IsForbidden(err))
}

func TestSaveThreadDetailsCapsTags(t *testing.T) {
	env := newTestEnv(t)
	env.approvedApplication(t, "Campanha", creator)
	convs, err := env.Engine.Repo.ListPairConversations(env.Ctx, analyst.ID, creator.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	csv := "vip, moda ,beleza,,moda,fitness,a,b,c,d,e,f,g,h,i"
	conv, err := env.Engine.SaveThreadDetails(env.Ctx, analyst, convs[0].ID, " Cliente VIP ", csv)
	require.NoError(t, err)
	want := []string{"vip", "moda", "beleza", "fitness", "a", "b", "c", "d", "e", "f"}
	assert.Equal(t, want, conv.Tags)
	assert.Equal(t, "Cliente VIP", conv.CustomTitle)

	stored, err := env.Engine.Repo.GetConversation(env.Ctx, nil, convs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, want, stored.Tags)
	assert.Len(t, strings.Split(csv, ","), 15)

	threads, err := env.Engine.ListThreads(env.Ctx, creator)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "Cliente VIP", threads[0].CustomTitle)
}

func TestWritesArePushedToBothParties(t *testing.T) {
	env := newTestEnv(t)
	env.approvedApplication(t, "Campanha", creator)
	convs, err := env.Engine.Repo.ListPairConversations(env.Ctx, analyst.ID, creator.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	creatorSub, err := env.Engine.Broker.Subscribe(ctx, realtime.Topic(creator.ID))
	require.NoError(t, err)
	defer creatorSub.Close()
	analystSub, err := env.Engine.Broker.Subscribe(ctx, realtime.Topic(analyst.ID))
	require.NoError(t, err)
	defer analystSub.Close()

	msg, err := env.Engine.SendMessage(env.Ctx, analyst, convs[0].ID, "olá")
	require.NoError(t, err)

	for _, sub := range []realtime.Subscription{creatorSub, analystSub} {
		select {
		case evt := <-sub.C():
			assert.Equal(t, events.MessageSent, evt.Type)
			assert.Equal(t, msg.ID, evt.EntityID)
			assert.Positive(t, evt.ID)
		case <-time.After(time.Second):
			t.Fatal("event not pushed")
		}
	}

	latest, err := env.Engine.LatestEventID(env.Ctx)
	require.NoError(t, err)
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, creator.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	assert.Equal(t, latest, evts[len(evts)-1].ID)
	for _, e := range evts {
		assert.True(t, e.CreatorID == creator.ID || e.AnalystID == creator.ID)
	}
}

func TestOnboardingAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SubmitOnboarding(env.Ctx, creator, engine.ProfileInput{DisplayName: " Ana ", Niches: []string{"moda", "moda", "beleza"}})
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.DisplayName)
	assert.Equal(t, []string{"moda", "beleza"}, p.Niches)

	got, err := env.Engine.GetProfile(env.Ctx, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCreator, got.Role)

	_, err = env.Engine.SubmitOnboarding(env.Ctx, creator, engine.ProfileInput{})
	var verr engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, raw, err := env.Engine.CreateAPIKey(env.Ctx, analyst.ID, domain.RoleAnalyst, "ci")
	require.NoError(t, err)
	actor, err := env.Engine.ResolveAPIKey(env.Ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, analyst, actor)

	_, err = env.Engine.ResolveAPIKey(env.Ctx, "ugc_unknown")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}
