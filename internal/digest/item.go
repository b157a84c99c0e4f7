// Package digest builds the portfolio due-item feed: it fuses the five
// governance record collections into one time-windowed, severity
// classified sequence of due items.
package digest

import (
	"sort"
	"time"
)

// Kind discriminates the five record domains a due item can project.
type Kind string

const (
	KindArtifact  Kind = "artifact"
	KindMilestone Kind = "milestone"
	KindWorkItem  Kind = "workItem"
	KindRAID      Kind = "raidEntry"
	KindChange    Kind = "changeUnderReview"
)

// Item is a query-time projection of one domain record. It is built
// fresh on every digest request and never persisted; Kind is fixed at
// construction.
type Item struct {
	Kind        Kind           `json:"itemKind"`
	Title       string         `json:"title"`
	DueAt       *time.Time     `json:"dueAt"`
	Status      string         `json:"status,omitempty"`
	ProjectID   string         `json:"projectId"`
	ProjectName string         `json:"projectName,omitempty"`
	OwnerName   string         `json:"ownerName,omitempty"`
	OwnerEmail  string         `json:"ownerEmail,omitempty"`
	Link        string         `json:"link,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// sortItems orders by due date ascending with nil dates last, then
// project name, kind and title so ties are deterministic.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.DueAt == nil && b.DueAt != nil:
			return false
		case a.DueAt != nil && b.DueAt == nil:
			return true
		case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		}
		if a.ProjectName != b.ProjectName {
			return a.ProjectName < b.ProjectName
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Title < b.Title
	})
}

func truncateItems(items []Item, cap int) []Item {
	if cap > 0 && len(items) > cap {
		return items[:cap]
	}
	return items
}
