// Package inbox collapses per-opportunity conversation rows into one thread
// per analyst/creator pair.
package inbox

import (
	"sort"
	"time"

	"ugchub/internal/domain"
)

type pairKey struct {
	analystID string
	creatorID string
}

type group struct {
	rep    domain.Conversation
	repTS  time.Time
	ids    []string
	thread domain.Thread
}

// Unify groups conversations by (analyst, creator). Rows missing either id
// cannot form a key and are left out; use Incomplete to find them.
//
// The representative of a group is the row with the latest last_message_at;
// a null timestamp sorts earliest and ties keep the first row seen. Threads
// are ordered by the representative's timestamp, most recent first, with
// undated threads last in encounter order.
func Unify(convs []domain.Conversation, messages map[string][]domain.Message, approved []domain.ApprovedApplication) []domain.Thread {
	var order []pairKey
	groups := map[pairKey]*group{}
	for _, c := range convs {
		if c.AnalystID == "" || c.CreatorID == "" {
			continue
		}
		k := pairKey{analystID: c.AnalystID, creatorID: c.CreatorID}
		ts := parseTS(c.LastMessageAt)
		g, ok := groups[k]
		if !ok {
			groups[k] = &group{rep: c, repTS: ts, ids: []string{c.ID}}
			order = append(order, k)
			continue
		}
		g.ids = append(g.ids, c.ID)
		if ts.After(g.repTS) {
			g.rep = c
			g.repTS = ts
		}
	}

	for _, app := range approved {
		g, ok := groups[pairKey{analystID: app.AnalystID, creatorID: app.CreatorID}]
		if !ok || hasProject(g.thread.Projects, app.ID) {
			continue
		}
		g.thread.Projects = append(g.thread.Projects, app)
	}

	out := make([]domain.Thread, 0, len(order))
	stamps := make([]time.Time, 0, len(order))
	for _, k := range order {
		g := groups[k]
		t := g.thread
		t.AnalystID = k.analystID
		t.CreatorID = k.creatorID
		t.RepresentativeID = g.rep.ID
		t.ConversationIDs = g.ids
		t.LastMessageAt = g.rep.LastMessageAt
		t.CustomTitle = g.rep.CustomTitle
		t.Tags = g.rep.Tags
		t.LastMessage = latestMessage(g.ids, messages)
		if t.Projects == nil {
			t.Projects = []domain.ApprovedApplication{}
		}
		out = append(out, t)
		stamps = append(stamps, g.repTS)
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return stamps[idx[a]].After(stamps[idx[b]])
	})
	sorted := make([]domain.Thread, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

// Incomplete returns the rows Unify cannot key.
func Incomplete(convs []domain.Conversation) []domain.Conversation {
	var out []domain.Conversation
	for _, c := range convs {
		if c.AnalystID == "" || c.CreatorID == "" {
			out = append(out, c)
		}
	}
	return out
}

// History merges the messages of several conversation rows into one
// chronological list. Messages with equal timestamps keep row order.
func History(ids []string, messages map[string][]domain.Message) []domain.Message {
	var out []domain.Message
	for _, id := range ids {
		out = append(out, messages[id]...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return parseTime(out[i].CreatedAt).Before(parseTime(out[j].CreatedAt))
	})
	return out
}

func latestMessage(ids []string, messages map[string][]domain.Message) *domain.Message {
	var (
		best   *domain.Message
		bestTS time.Time
	)
	for _, id := range ids {
		for i := range messages[id] {
			m := messages[id][i]
			ts := parseTime(m.CreatedAt)
			if best == nil || ts.After(bestTS) {
				best = &m
				bestTS = ts
			}
		}
	}
	return best
}

func hasProject(projects []domain.ApprovedApplication, id string) bool {
	for _, p := range projects {
		if p.ID == id {
			return true
		}
	}
	return false
}

func parseTS(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	return parseTime(*s)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
