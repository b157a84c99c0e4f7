package digest

import (
	"encoding/json"
	"strings"
	"time"

	"helmsman/internal/dates"
	"helmsman/internal/domain"
)

// The extractors are pure functions from raw records to due items.
// Inclusion means "has a date that matters": anything due on or before
// the window end, overdue items included. Change requests are the one
// kind gated by status before the date check, because a change is due
// when it awaits a decision, not by calendar date alone.

// Nested document paths probed, in order, when an artifact has no
// direct due date.
var artifactDocDuePaths = [][]string{
	{"review", "due"},
	{"timeline", "due"},
	{"meta", "due_date"},
}

var (
	workItemClosedStatuses  = map[string]bool{"done": true, "closed": true, "completed": true}
	raidClosedStatuses      = map[string]bool{"closed": true, "invalid": true}
	milestoneClosedStatuses = map[string]bool{"done": true, "completed": true, "cancelled": true}
)

func dueOnOrBefore(due *time.Time, w dates.Window) bool {
	return due != nil && !due.After(w.To)
}

func extractArtifacts(records []domain.Artifact, w dates.Window, meta ProjectMeta) []Item {
	var items []Item
	for _, a := range records {
		due := dates.Normalize(a.DueAt)
		if due == nil {
			due = docDueDate(a.DocJSON)
		}
		if !dueOnOrBefore(due, w) {
			continue
		}
		items = append(items, Item{
			Kind:        KindArtifact,
			Title:       a.Title,
			DueAt:       due,
			Status:      a.Status,
			ProjectID:   meta.CanonicalID,
			ProjectName: meta.Name,
			OwnerName:   meta.OwnerName,
			OwnerEmail:  meta.OwnerEmail,
			Link:        meta.artifactLink(a.ID),
			Attributes:  map[string]any{"artifactId": a.ID, "artifactKind": a.Kind},
		})
	}
	return items
}

// docDueDate probes the artifact document body for a nested due date.
func docDueDate(docJSON *string) *time.Time {
	if docJSON == nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(*docJSON), &doc); err != nil {
		return nil
	}
	for _, path := range artifactDocDuePaths {
		node := any(doc)
		for _, key := range path {
			m, ok := node.(map[string]any)
			if !ok {
				node = nil
				break
			}
			node = m[key]
		}
		if due := dates.Normalize(node); due != nil {
			return due
		}
	}
	return nil
}

func extractMilestones(records []domain.Milestone, w dates.Window, meta ProjectMeta) []Item {
	var items []Item
	for _, m := range records {
		if milestoneClosedStatuses[strings.ToLower(m.Status)] {
			continue
		}
		due := dates.Normalize(m.EndsAt)
		if due == nil {
			due = dates.Normalize(m.StartsAt)
		}
		if !dueOnOrBefore(due, w) {
			continue
		}
		link := meta.scheduleLink(m.ID)
		if m.ArtifactID != nil {
			link = meta.artifactLink(*m.ArtifactID)
		}
		items = append(items, Item{
			Kind:        KindMilestone,
			Title:       m.Title,
			DueAt:       due,
			Status:      m.Status,
			ProjectID:   meta.CanonicalID,
			ProjectName: meta.Name,
			OwnerName:   meta.OwnerName,
			OwnerEmail:  meta.OwnerEmail,
			Link:        link,
			Attributes:  map[string]any{"milestoneId": m.ID, "critical": m.Critical},
		})
	}
	return items
}

func extractWorkItems(records []domain.WorkItem, w dates.Window, meta ProjectMeta) []Item {
	var items []Item
	for _, wi := range records {
		if workItemClosedStatuses[strings.ToLower(wi.Status)] {
			continue
		}
		due := dates.Normalize(wi.DueAt)
		if !dueOnOrBefore(due, w) {
			continue
		}
		link := meta.wbsLink(wi.ID)
		if wi.ArtifactID != nil {
			link = meta.artifactLink(*wi.ArtifactID)
		}
		attrs := map[string]any{"workItemId": wi.ID}
		if wi.ParentID != nil {
			attrs["parentId"] = *wi.ParentID
		}
		if wi.AssigneeID != nil {
			attrs["assigneeId"] = *wi.AssigneeID
		}
		items = append(items, Item{
			Kind:        KindWorkItem,
			Title:       wi.Title,
			DueAt:       due,
			Status:      wi.Status,
			ProjectID:   meta.CanonicalID,
			ProjectName: meta.Name,
			OwnerName:   meta.OwnerName,
			OwnerEmail:  meta.OwnerEmail,
			Link:        link,
			Attributes:  attrs,
		})
	}
	return items
}

const raidTitleMax = 80

func extractRAID(records []domain.RAIDEntry, w dates.Window, meta ProjectMeta) []Item {
	var items []Item
	for _, e := range records {
		if raidClosedStatuses[strings.ToLower(e.Status)] {
			continue
		}
		due := dates.Normalize(e.DueAt)
		if !dueOnOrBefore(due, w) {
			continue
		}
		ref := e.ID
		if e.RefCode != nil && *e.RefCode != "" {
			ref = *e.RefCode
		}
		items = append(items, Item{
			Kind:        KindRAID,
			Title:       raidTitle(e),
			DueAt:       due,
			Status:      e.Status,
			ProjectID:   meta.CanonicalID,
			ProjectName: meta.Name,
			OwnerName:   meta.OwnerName,
			OwnerEmail:  meta.OwnerEmail,
			Link:        meta.raidLink(ref),
			Attributes:  map[string]any{"raidEntryId": e.ID, "raidType": e.Type, "priority": e.Priority},
		})
	}
	return items
}

func raidTitle(e domain.RAIDEntry) string {
	if e.Title != "" {
		return e.Title
	}
	if desc := strings.TrimSpace(e.Description); desc != "" {
		// Truncate on rune boundaries so multibyte descriptions stay
		// valid UTF-8.
		if runes := []rune(desc); len(runes) > raidTitleMax {
			return string(runes[:raidTitleMax]) + "…"
		}
		return desc
	}
	return e.Type + " item"
}

func extractChanges(records []domain.ChangeRequest, w dates.Window, meta ProjectMeta) []Item {
	var items []Item
	for _, c := range records {
		underReview := strings.EqualFold(c.DeliveryStatus, "review") ||
			strings.EqualFold(c.DecisionStatus, "submitted")
		if !underReview {
			continue
		}
		due := dates.Normalize(c.ReviewBy)
		if due == nil {
			due = dates.Normalize(c.UpdatedAt)
		}
		// The status gate decides inclusion; a pending decision with an
		// unreadable date still surfaces, sorted after dated items.
		if due != nil && due.After(w.To) {
			continue
		}
		items = append(items, Item{
			Kind:        KindChange,
			Title:       c.Title,
			DueAt:       due,
			Status:      c.DeliveryStatus,
			ProjectID:   meta.CanonicalID,
			ProjectName: meta.Name,
			OwnerName:   meta.OwnerName,
			OwnerEmail:  meta.OwnerEmail,
			Link:        meta.changeLink(c.Seq),
			Attributes:  map[string]any{"changeRequestId": c.ID, "seq": c.Seq, "decisionStatus": c.DecisionStatus},
		})
	}
	return items
}
