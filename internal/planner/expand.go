// Package planner turns catalog templates into concrete deliverables and
// derives display and project statuses from dates.
package planner

import (
	"errors"
	"fmt"
	"time"

	"ugchub/internal/catalog"
	"ugchub/internal/domain"
)

// DateLayout is the wire format of calendar dates (due dates, deadlines).
const DateLayout = "2006-01-02"

var ErrEmptyTemplate = errors.New("template has no deliverables")

// Refs are the foreign keys stamped onto every expanded deliverable.
type Refs struct {
	ApplicationID string
	OpportunityID string
	CreatorID     string
	AnalystID     string
}

func (r Refs) validate() error {
	switch {
	case r.ApplicationID == "":
		return errors.New("application id is required")
	case r.OpportunityID == "":
		return errors.New("opportunity id is required")
	case r.CreatorID == "":
		return errors.New("creator id is required")
	case r.AnalystID == "":
		return errors.New("analyst id is required")
	}
	return nil
}

// Expand produces one pending deliverable per template spec, in spec order.
// A spec's depends_on_index resolves to the id of an earlier draft; forward,
// self, negative or out-of-range indexes leave DependsOn nil.
func Expand(tpl catalog.Template, start time.Time, refs Refs, newID func() string) ([]domain.Deliverable, error) {
	if len(tpl.Specs) == 0 {
		return nil, ErrEmptyTemplate
	}
	if start.IsZero() {
		return nil, errors.New("project start date is required")
	}
	if err := refs.validate(); err != nil {
		return nil, err
	}
	if newID == nil {
		return nil, errors.New("id generator is required")
	}
	start = Civil(start)
	drafts := make([]domain.Deliverable, 0, len(tpl.Specs))
	for i, spec := range tpl.Specs {
		id := newID()
		if id == "" {
			return nil, fmt.Errorf("deliverable %d: empty id", i)
		}
		d := domain.Deliverable{
			ID:             id,
			ApplicationID:  refs.ApplicationID,
			OpportunityID:  refs.OpportunityID,
			CreatorID:      refs.CreatorID,
			AnalystID:      refs.AnalystID,
			TemplateID:     tpl.ID,
			Title:          spec.Title,
			Description:    spec.Description,
			DueDate:        start.AddDate(0, 0, spec.DaysFromStart).Format(DateLayout),
			Priority:       spec.Priority,
			EstimatedHours: copyFloat(spec.EstimatedHours),
			Status:         domain.StatusPending,
		}
		if idx := spec.DependsOnIndex; idx != nil && *idx >= 0 && *idx < i {
			dep := drafts[*idx].ID
			d.DependsOn = &dep
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// Civil truncates t to midnight UTC of its own calendar day.
func Civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
