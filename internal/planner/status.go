package planner

import (
	"time"

	"ugchub/internal/domain"
)

// DisplayStatus is the status shown for a deliverable. The two overdue
// variants are computed from the due date and never stored.
type DisplayStatus string

const (
	DisplayPending           DisplayStatus = "pending"
	DisplayInProgress        DisplayStatus = "in_progress"
	DisplaySubmitted         DisplayStatus = "submitted"
	DisplayApproved          DisplayStatus = "approved"
	DisplayRejected          DisplayStatus = "rejected"
	DisplayOverduePending    DisplayStatus = "overdue_pending"
	DisplayOverdueInProgress DisplayStatus = "overdue_in_progress"
)

// Project statuses, evaluated in this order.
const (
	ProjectCompleted = "completed"
	ProjectOverdue   = "overdue"
	ProjectAtRisk    = "at_risk"
	ProjectActive    = "active"
)

const (
	// AtRiskWindow is how close the deadline must be for a project to be at risk.
	AtRiskWindow = 7 * 24 * time.Hour
	// AtRiskCompletion is the completion ratio below which a near deadline is a risk.
	AtRiskCompletion = 0.8
)

// IsOverdue reports whether a pending or in-progress deliverable is past its
// due day. Only the calendar days are compared.
func IsOverdue(due time.Time, status string, now time.Time) bool {
	if status != domain.StatusPending && status != domain.StatusInProgress {
		return false
	}
	return Civil(due).Before(Civil(now))
}

// Classify returns the display status of a deliverable.
func Classify(due time.Time, status string, now time.Time) DisplayStatus {
	if IsOverdue(due, status, now) {
		if status == domain.StatusPending {
			return DisplayOverduePending
		}
		return DisplayOverdueInProgress
	}
	return DisplayStatus(status)
}

// ClassifyDeliverable parses the stored due date and classifies d.
func ClassifyDeliverable(d domain.Deliverable, now time.Time) (DisplayStatus, error) {
	due, err := ParseDate(d.DueDate)
	if err != nil {
		return "", err
	}
	return Classify(due, d.Status, now), nil
}

// ProjectSummary aggregates the deliverables of one application.
type ProjectSummary struct {
	Status          string  `json:"status" enum:"completed,overdue,at_risk,active"`
	Total           int     `json:"total"`
	Approved        int     `json:"approved"`
	Overdue         int     `json:"overdue"`
	CompletionRatio float64 `json:"completion_ratio"`
	Deadline        string  `json:"deadline,omitempty" format:"date"`
}

// SummarizeProject derives the project status. deadline may be empty, in
// which case the latest deliverable due date stands in for it. Deliverables
// with unparsable due dates count toward totals but never make the project
// overdue.
func SummarizeProject(ds []domain.Deliverable, deadline string, now time.Time) ProjectSummary {
	s := ProjectSummary{Total: len(ds), Deadline: deadline}
	var latest time.Time
	for _, d := range ds {
		if d.Status == domain.StatusApproved {
			s.Approved++
		}
		due, err := ParseDate(d.DueDate)
		if err != nil {
			continue
		}
		if due.After(latest) {
			latest = due
		}
		if IsOverdue(due, d.Status, now) {
			s.Overdue++
		}
	}
	if s.Total > 0 {
		s.CompletionRatio = float64(s.Approved) / float64(s.Total)
	}
	if s.Deadline == "" && !latest.IsZero() {
		s.Deadline = latest.Format(DateLayout)
	}
	switch {
	case s.Total > 0 && s.Approved == s.Total:
		s.Status = ProjectCompleted
	case s.Overdue > 0:
		s.Status = ProjectOverdue
	case deadlineNear(s.Deadline, now) && s.CompletionRatio < AtRiskCompletion:
		s.Status = ProjectAtRisk
	default:
		s.Status = ProjectActive
	}
	return s
}

func deadlineNear(deadline string, now time.Time) bool {
	if deadline == "" {
		return false
	}
	d, err := ParseDate(deadline)
	if err != nil {
		return false
	}
	return d.Sub(Civil(now)) <= AtRiskWindow
}

// PriorityLabel names a priority. 1 is the most urgent.
func PriorityLabel(p int) string {
	switch p {
	case 1:
		return "Mais Alta"
	case 2:
		return "Alta"
	case 3:
		return "Média"
	case 4:
		return "Baixa"
	case 5:
		return "Mais Baixa"
	default:
		return "Desconhecida"
	}
}
