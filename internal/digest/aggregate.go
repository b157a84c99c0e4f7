package digest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/dates"
	"helmsman/internal/domain"
	"helmsman/internal/repo"
)

const (
	projectQueryLimit   = 500
	portfolioQueryLimit = 50000

	// ProjectItemCap bounds the human-facing single-project feed;
	// PortfolioItemCap bounds the cross-project one.
	ProjectItemCap   = 30
	PortfolioItemCap = 250

	// Blockers use a fixed lookahead independent of the caller's
	// window; see the RAID blocker rule.
	blockerLookaheadDays = 14
	blockerCap           = 25
)

type Aggregator struct {
	Repo repo.Repo
	Log  *slog.Logger
}

// Result carries the merged due items plus any per-domain failures.
// A failed domain degrades to an empty contribution; the other four
// are still merged.
type Result struct {
	Items    []Item
	Failures map[Kind]error
}

// ProjectItems runs the five extractors against one project's records.
func (a Aggregator) ProjectItems(ctx context.Context, meta ProjectMeta, w dates.Window) Result {
	metas := map[string]ProjectMeta{meta.CanonicalID: meta}
	res := a.collect(ctx, metas, w, projectQueryLimit)
	res.Items = truncateItems(res.Items, ProjectItemCap)
	return res
}

// PortfolioItems runs each extractor once across all projects using
// IN-batched queries, then partitions results by project in memory.
// This keeps the round-trip count constant in the number of projects.
func (a Aggregator) PortfolioItems(ctx context.Context, metas map[string]ProjectMeta, w dates.Window) Result {
	res := a.collect(ctx, metas, w, portfolioQueryLimit)
	res.Items = truncateItems(res.Items, PortfolioItemCap)
	return res
}

func (a Aggregator) collect(ctx context.Context, metas map[string]ProjectMeta, w dates.Window, queryLimit int) Result {
	projectIDs := make([]string, 0, len(metas))
	for id := range metas {
		projectIDs = append(projectIDs, id)
	}

	var (
		artifacts  []domain.Artifact
		milestones []domain.Milestone
		workItems  []domain.WorkItem
		raid       []domain.RAIDEntry
		changes    []domain.ChangeRequest
	)
	failures := map[Kind]error{}
	var (
		errArtifacts, errMilestones, errWorkItems, errRAID, errChanges error
	)

	// Fan out the five domain reads; each branch writes only its own
	// slot, merging happens after the join.
	var g errgroup.Group
	g.Go(func() error {
		artifacts, errArtifacts = a.Repo.ListArtifacts(ctx, repo.ListFilters{ProjectIDs: projectIDs, Limit: queryLimit})
		return nil
	})
	g.Go(func() error {
		milestones, errMilestones = a.Repo.ListMilestones(ctx, repo.ListFilters{
			ProjectIDs:  projectIDs,
			NotStatuses: []string{"done", "completed", "cancelled"},
			Limit:       queryLimit,
		})
		return nil
	})
	g.Go(func() error {
		workItems, errWorkItems = a.Repo.ListWorkItems(ctx, repo.ListFilters{
			ProjectIDs:  projectIDs,
			NotStatuses: []string{"done", "closed", "completed"},
			Limit:       queryLimit,
		})
		return nil
	})
	g.Go(func() error {
		raid, errRAID = a.Repo.ListRAIDEntries(ctx, repo.ListFilters{
			ProjectIDs:  projectIDs,
			NotStatuses: []string{"closed", "invalid"},
			Limit:       queryLimit,
		})
		return nil
	})
	g.Go(func() error {
		changes, errChanges = a.Repo.ListChangeRequests(ctx, repo.ListFilters{ProjectIDs: projectIDs, Limit: queryLimit})
		return nil
	})
	_ = g.Wait()

	recordFailure := func(kind Kind, err error) {
		if err == nil {
			return
		}
		failures[kind] = err
		if a.Log != nil {
			a.Log.Warn("due digest domain degraded", "kind", string(kind), "error", err)
		}
	}
	recordFailure(KindArtifact, errArtifacts)
	recordFailure(KindMilestone, errMilestones)
	recordFailure(KindWorkItem, errWorkItems)
	recordFailure(KindRAID, errRAID)
	recordFailure(KindChange, errChanges)

	var items []Item
	for projectID, group := range partition(artifacts, func(a domain.Artifact) string { return a.ProjectID }) {
		if meta, ok := metas[projectID]; ok {
			items = append(items, extractArtifacts(group, w, meta)...)
		}
	}
	for projectID, group := range partition(milestones, func(m domain.Milestone) string { return m.ProjectID }) {
		if meta, ok := metas[projectID]; ok {
			items = append(items, extractMilestones(group, w, meta)...)
		}
	}
	for projectID, group := range partition(workItems, func(wi domain.WorkItem) string { return wi.ProjectID }) {
		if meta, ok := metas[projectID]; ok {
			items = append(items, extractWorkItems(group, w, meta)...)
		}
	}
	for projectID, group := range partition(raid, func(e domain.RAIDEntry) string { return e.ProjectID }) {
		if meta, ok := metas[projectID]; ok {
			items = append(items, extractRAID(group, w, meta)...)
		}
	}
	for projectID, group := range partition(changes, func(c domain.ChangeRequest) string { return c.ProjectID }) {
		if meta, ok := metas[projectID]; ok {
			items = append(items, extractChanges(group, w, meta)...)
		}
	}

	sortItems(items)
	for i := range items {
		items[i].Link = NormalizeLinkPath(items[i].Link)
	}
	return Result{Items: items, Failures: failures}
}

// partition is the in-memory multimap used to split batched query
// results back out by project.
func partition[T any](records []T, key func(T) string) map[string][]T {
	out := map[string][]T{}
	for _, r := range records {
		k := key(r)
		out[k] = append(out[k], r)
	}
	return out
}

// Blockers loads open issue, dependency and risk RAID entries that are
// high priority or fall due within the fixed 14-day lookahead.
func (a Aggregator) Blockers(ctx context.Context, projectIDs []string, now time.Time) ([]domain.RAIDEntry, error) {
	// No projects means no blockers; an unfiltered query would scan
	// every project in the store.
	if len(projectIDs) == 0 {
		return nil, nil
	}
	entries, err := a.Repo.ListRAIDEntries(ctx, repo.ListFilters{
		ProjectIDs:  projectIDs,
		NotStatuses: []string{"closed", "invalid"},
		Limit:       projectQueryLimit,
	})
	if err != nil {
		return nil, err
	}
	horizon := dates.StartOfDay(now).AddDate(0, 0, blockerLookaheadDays)
	var blockers []domain.RAIDEntry
	for _, e := range entries {
		switch strings.ToLower(e.Type) {
		case "issue", "dependency", "risk":
		default:
			continue
		}
		urgent := isHighPriority(e.Priority)
		if !urgent {
			if due := dates.Normalize(e.DueAt); due != nil && !due.After(horizon) {
				urgent = true
			}
		}
		if !urgent {
			continue
		}
		blockers = append(blockers, e)
		if len(blockers) >= blockerCap {
			break
		}
	}
	return blockers, nil
}

func isHighPriority(priority string) bool {
	switch strings.ToLower(priority) {
	case "high", "critical", "urgent":
		return true
	}
	return false
}
