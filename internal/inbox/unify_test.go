package inbox

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ugchub/internal/domain"
)

func ts(s string) *string { return &s }

func conv(id, analyst, creator string, last *string) domain.Conversation {
	return domain.Conversation{ID: id, AnalystID: analyst, CreatorID: creator, LastMessageAt: last}
}

func msg(id, convID, at string) domain.Message {
	return domain.Message{ID: id, ConversationID: convID, Content: id, CreatedAt: at}
}

func fixture() ([]domain.Conversation, map[string][]domain.Message, []domain.ApprovedApplication) {
	convs := []domain.Conversation{
		conv("c1", "an-1", "cr-1", ts("2025-03-01T10:00:00Z")),
		conv("c2", "an-1", "cr-1", ts("2025-03-05T10:00:00Z")),
		conv("c3", "an-1", "cr-2", nil),
		conv("c4", "an-2", "cr-1", ts("2025-03-03T08:00:00Z")),
		conv("c5", "an-1", "cr-1", nil),
	}
	messages := map[string][]domain.Message{
		"c1": {msg("m1", "c1", "2025-03-01T09:00:00Z"), msg("m2", "c1", "2025-03-06T09:00:00Z")},
		"c2": {msg("m3", "c2", "2025-03-05T10:00:00Z")},
		"c4": {msg("m4", "c4", "2025-03-03T08:00:00Z")},
	}
	apps := []domain.ApprovedApplication{
		{ID: "app-1", CreatorID: "cr-1", AnalystID: "an-1"},
		{ID: "app-2", CreatorID: "cr-1", AnalystID: "an-1"},
		{ID: "app-3", CreatorID: "cr-1", AnalystID: "an-2"},
		{ID: "app-4", CreatorID: "cr-9", AnalystID: "an-1"},
	}
	return convs, messages, apps
}

func TestUnifyGroupsByPair(t *testing.T) {
	convs, messages, apps := fixture()
	threads := Unify(convs, messages, apps)
	require.Len(t, threads, 3)

	first := threads[0]
	assert.Equal(t, "an-1", first.AnalystID)
	assert.Equal(t, "cr-1", first.CreatorID)
	assert.Equal(t, "c2", first.RepresentativeID)
	assert.ElementsMatch(t, []string{"c1", "c2", "c5"}, first.ConversationIDs)
	require.NotNil(t, first.LastMessage)
	assert.Equal(t, "m2", first.LastMessage.ID, "latest message comes from any row in the group")
	require.Len(t, first.Projects, 2)
	assert.Equal(t, "app-1", first.Projects[0].ID)
	assert.Equal(t, "app-2", first.Projects[1].ID)

	assert.Equal(t, "c4", threads[1].RepresentativeID)
	assert.Equal(t, "app-3", threads[1].Projects[0].ID)

	undated := threads[2]
	assert.Equal(t, "c3", undated.RepresentativeID)
	assert.Nil(t, undated.LastMessage)
	assert.Empty(t, undated.Projects)
	assert.NotNil(t, undated.Projects)
}

func TestUnifyIsOrderIndependent(t *testing.T) {
	convs, messages, apps := fixture()
	a := Unify(convs, messages, apps)

	reversed := make([]domain.Conversation, len(convs))
	for i, c := range convs {
		reversed[len(convs)-1-i] = c
	}
	b := Unify(reversed, messages, apps)

	require.Len(t, b, len(a))
	byPair := func(threads []domain.Thread) map[[2]string]domain.Thread {
		m := map[[2]string]domain.Thread{}
		for _, th := range threads {
			ids := append([]string(nil), th.ConversationIDs...)
			sort.Strings(ids)
			th.ConversationIDs = ids
			m[[2]string{th.AnalystID, th.CreatorID}] = th
		}
		return m
	}
	ma, mb := byPair(a), byPair(b)
	for k, ta := range ma {
		tb, ok := mb[k]
		require.True(t, ok, "missing group %v", k)
		assert.Equal(t, ta.ConversationIDs, tb.ConversationIDs)
		assert.Equal(t, ta.RepresentativeID, tb.RepresentativeID)
	}
}

func TestUnifyTiesKeepFirstSeen(t *testing.T) {
	same := "2025-03-01T10:00:00Z"
	threads := Unify([]domain.Conversation{
		conv("x", "an", "cr", ts(same)),
		conv("y", "an", "cr", ts(same)),
	}, nil, nil)
	require.Len(t, threads, 1)
	assert.Equal(t, "x", threads[0].RepresentativeID)
}

func TestUnifyNullTimestampIsEarliest(t *testing.T) {
	threads := Unify([]domain.Conversation{
		conv("x", "an", "cr", nil),
		conv("y", "an", "cr", ts("2020-01-01T00:00:00Z")),
	}, nil, nil)
	require.Len(t, threads, 1)
	assert.Equal(t, "y", threads[0].RepresentativeID)
}

func TestUnifySkipsIncompleteRows(t *testing.T) {
	convs := []domain.Conversation{
		conv("ok", "an", "cr", nil),
		conv("no-creator", "an", "", nil),
		conv("no-analyst", "", "cr", nil),
	}
	threads := Unify(convs, nil, nil)
	require.Len(t, threads, 1)
	assert.Equal(t, "ok", threads[0].RepresentativeID)

	bad := Incomplete(convs)
	require.Len(t, bad, 2)
	assert.Equal(t, "no-creator", bad[0].ID)
}

func TestUnifyCarriesRepresentativeMetadata(t *testing.T) {
	old := conv("old", "an", "cr", ts("2025-01-01T00:00:00Z"))
	old.CustomTitle = "old title"
	fresh := conv("new", "an", "cr", ts("2025-02-01T00:00:00Z"))
	fresh.CustomTitle = "Campanha verão"
	fresh.Tags = []string{"vip"}
	threads := Unify([]domain.Conversation{old, fresh}, nil, nil)
	require.Len(t, threads, 1)
	assert.Equal(t, "Campanha verão", threads[0].CustomTitle)
	assert.Equal(t, []string{"vip"}, threads[0].Tags)
	assert.Equal(t, "2025-02-01T00:00:00Z", *threads[0].LastMessageAt)
}

func TestHistoryMergesChronologically(t *testing.T) {
	_, messages, _ := fixture()
	got := History([]string{"c1", "c2", "c5"}, messages)
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m3", "m2"}, ids)
}
