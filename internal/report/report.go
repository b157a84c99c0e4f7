// Package report composes the period-bounded delivery report: completed
// work, decisions, blockers, metrics and the classified narrative.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/dates"
	"helmsman/internal/digest"
	"helmsman/internal/domain"
	"helmsman/internal/repo"
)

const (
	decisionCap = 30
	listCap     = 50
	focusCap    = 5
	resourceCap = 5

	completedQueryLimit = 5000
)

// Period is a calendar date range, inclusive on both ends.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Line struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

type ExecutiveSummary struct {
	RAG       digest.Severity `json:"rag"`
	Headline  string          `json:"headline"`
	Narrative string          `json:"narrative"`
}

type Metrics struct {
	MilestonesDone int `json:"milestonesDone"`
	WorkItemsDone  int `json:"workItemsDone"`
	ChangesClosed  int `json:"changesClosed"`
	RAIDClosed     int `json:"raidClosed"`
}

type Lists struct {
	Milestones  []domain.Milestone     `json:"milestones"`
	Changes     []domain.ChangeRequest `json:"changes"`
	RAIDEntries []domain.RAIDEntry     `json:"raidEntries"`
}

// Report is the delivery report document. Built fresh per request;
// persisting a snapshot is the caller's concern.
type Report struct {
	Period              Period           `json:"period"`
	ExecutiveSummary    ExecutiveSummary `json:"executiveSummary"`
	CompletedThisPeriod []Line           `json:"completedThisPeriod"`
	NextPeriodFocus     []Line           `json:"nextPeriodFocus"`
	ResourceSummary     []Line           `json:"resourceSummary"`
	KeyDecisions        []Line           `json:"keyDecisions"`
	OperationalBlockers []Line           `json:"operationalBlockers"`
	Lists               Lists            `json:"lists"`
	Metrics             Metrics          `json:"metrics"`
	DueItems            []digest.Item    `json:"dueItems"`
}

type Builder struct {
	Repo repo.Repo
	Agg  digest.Aggregator
	Log  *slog.Logger
	Now  func() time.Time
}

type Request struct {
	Meta       digest.ProjectMeta
	PeriodFrom time.Time
	PeriodTo   time.Time
	WindowDays int
}

// completedSets holds one result slot per domain; a failed query
// degrades that domain to an empty set rather than aborting the report.
type completedSets struct {
	milestones []domain.Milestone
	workItems  []domain.WorkItem
	raid       []domain.RAIDEntry
	changes    []domain.ChangeRequest
}

// Build assembles the report. It never fails on a single domain's
// query error; only meta-level failures (context cancellation aside,
// nothing here returns one) surface to the caller.
func (b Builder) Build(ctx context.Context, req Request) (Report, error) {
	now := b.Now()
	window := dates.NewWindow(now, req.WindowDays)
	periodFrom := dates.StartOfDay(req.PeriodFrom)
	periodTo := dates.EndOfDay(req.PeriodTo)
	projectIDs := []string{req.Meta.CanonicalID}

	// Forward-looking feed is independent of the report period.
	dueRes := b.Agg.ProjectItems(ctx, req.Meta, window)

	completed := b.loadCompleted(ctx, projectIDs, periodFrom, periodTo)

	blockers, err := b.Agg.Blockers(ctx, projectIDs, now)
	if err != nil {
		b.warn("blockers degraded", err)
		blockers = nil
	}

	decisions := keyDecisions(completed.changes, req.Meta)

	startOfToday := dates.StartOfDay(now)
	signals := digest.CountSignals(dueRes.Items, len(blockers), startOfToday)
	rag := digest.Classify(signals)

	facts := digest.Facts{
		RAG:            rag,
		Signals:        signals,
		PeriodFrom:     periodFrom,
		PeriodTo:       req.PeriodTo,
		WindowDays:     window.Days,
		OverdueTitles:  overdueTitles(dueRes.Items, startOfToday),
		BlockerTitles:  blockerTitles(blockers),
		MilestonesDone: milestoneNames(completed.milestones),
		WorkItemsDone:  len(completed.workItems),
		ChangesClosed:  len(closedChanges(completed.changes)),
		RAIDClosed:     len(completed.raid),
		Decisions:      decisionTexts(decisions),
		DueSoon:        dueSoon(dueRes.Items, startOfToday),
	}

	rep := Report{
		Period: Period{From: periodFrom, To: dates.StartOfDay(req.PeriodTo)},
		ExecutiveSummary: ExecutiveSummary{
			RAG:       rag,
			Headline:  digest.Headline(facts),
			Narrative: digest.Narrative(facts),
		},
		CompletedThisPeriod: completedLines(completed, req.Meta),
		NextPeriodFocus:     focusLines(facts.DueSoon),
		ResourceSummary:     b.resourceLines(ctx, facts.DueSoon),
		KeyDecisions:        decisions,
		OperationalBlockers: blockerLines(blockers, req.Meta),
		Lists: Lists{
			Milestones:  capSlice(completed.milestones, listCap),
			Changes:     capSlice(completed.changes, listCap),
			RAIDEntries: capSlice(completed.raid, listCap),
		},
		Metrics: Metrics{
			MilestonesDone: len(completed.milestones),
			WorkItemsDone:  len(completed.workItems),
			ChangesClosed:  len(closedChanges(completed.changes)),
			RAIDClosed:     len(completed.raid),
		},
		DueItems: dueRes.Items,
	}
	return rep, nil
}

// loadCompleted fans out the per-domain completed-in-period reads.
// Each branch owns its slot; errors degrade that slot to empty.
func (b Builder) loadCompleted(ctx context.Context, projectIDs []string, from, to time.Time) completedSets {
	var sets completedSets
	period := dates.Window{From: from, To: to}
	inPeriod := period.Contains

	var g errgroup.Group
	g.Go(func() error {
		rows, err := b.Repo.ListMilestones(ctx, repo.ListFilters{
			ProjectIDs: projectIDs,
			Statuses:   []string{"done", "completed"},
			Limit:      completedQueryLimit,
		})
		if err != nil {
			b.warn("completed milestones degraded", err)
			return nil
		}
		for _, m := range rows {
			done := dates.Normalize(m.DoneAt)
			if done == nil {
				done = dates.Normalize(m.EndsAt)
			}
			if inPeriod(done) {
				sets.milestones = append(sets.milestones, m)
			}
		}
		return nil
	})
	g.Go(func() error {
		rows, err := b.Repo.ListWorkItems(ctx, repo.ListFilters{
			ProjectIDs: projectIDs,
			Statuses:   []string{"done", "closed", "completed"},
			Limit:      completedQueryLimit,
		})
		if err != nil {
			b.warn("completed work items degraded", err)
			return nil
		}
		for _, w := range rows {
			done := dates.Normalize(w.DoneAt)
			if done == nil {
				done = dates.Normalize(w.DueAt)
			}
			if inPeriod(done) {
				sets.workItems = append(sets.workItems, w)
			}
		}
		return nil
	})
	g.Go(func() error {
		rows, err := b.Repo.ListRAIDEntries(ctx, repo.ListFilters{
			ProjectIDs: projectIDs,
			Statuses:   []string{"closed"},
			Limit:      completedQueryLimit,
		})
		if err != nil {
			b.warn("closed RAID entries degraded", err)
			return nil
		}
		for _, e := range rows {
			done := dates.Normalize(e.ClosedAt)
			if done == nil {
				done = dates.Normalize(e.DueAt)
			}
			if inPeriod(done) {
				sets.raid = append(sets.raid, e)
			}
		}
		return nil
	})
	g.Go(func() error {
		rows, err := b.Repo.ListChangeRequests(ctx, repo.ListFilters{
			ProjectIDs: projectIDs,
			Limit:      completedQueryLimit,
		})
		if err != nil {
			b.warn("changes degraded", err)
			return nil
		}
		for _, c := range rows {
			relevant := isClosedChange(c) || isDecidedChange(c)
			if !relevant {
				continue
			}
			if inPeriod(dates.Normalize(c.UpdatedAt)) {
				sets.changes = append(sets.changes, c)
			}
		}
		return nil
	})
	_ = g.Wait()
	return sets
}

func (b Builder) warn(msg string, err error) {
	if b.Log != nil {
		b.Log.Warn(msg, "error", err)
	}
}

func isClosedChange(c domain.ChangeRequest) bool {
	switch strings.ToLower(c.DeliveryStatus) {
	case "closed", "implemented":
		return true
	}
	return false
}

func isDecidedChange(c domain.ChangeRequest) bool {
	switch strings.ToLower(c.DecisionStatus) {
	case "approved", "rejected":
		return true
	}
	return false
}

func closedChanges(changes []domain.ChangeRequest) []domain.ChangeRequest {
	var out []domain.ChangeRequest
	for _, c := range changes {
		if isClosedChange(c) {
			out = append(out, c)
		}
	}
	return out
}

func keyDecisions(changes []domain.ChangeRequest, meta digest.ProjectMeta) []Line {
	var lines []Line
	for _, c := range changes {
		if !isDecidedChange(c) {
			continue
		}
		verdict := "Approved"
		if strings.EqualFold(c.DecisionStatus, "rejected") {
			verdict = "Rejected"
		}
		lines = append(lines, Line{
			Text: fmt.Sprintf("%s change #%d: %s", verdict, c.Seq, c.Title),
			Link: digest.NormalizeLinkPath(fmt.Sprintf("/projects/%s/change/%d", meta.HumanCode, c.Seq)),
		})
		if len(lines) >= decisionCap {
			break
		}
	}
	return lines
}

func decisionTexts(lines []Line) []string {
	var out []string
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}

func blockerLines(blockers []domain.RAIDEntry, meta digest.ProjectMeta) []Line {
	var lines []Line
	for _, e := range blockers {
		ref := e.ID
		if e.RefCode != nil && *e.RefCode != "" {
			ref = *e.RefCode
		}
		title := e.Title
		if title == "" {
			title = e.Type + " item"
		}
		text := fmt.Sprintf("%s: %s", upperFirst(e.Type), title)
		if due := dates.Normalize(e.DueAt); due != nil {
			text += fmt.Sprintf(" (due %s)", dates.Render(due))
		}
		lines = append(lines, Line{
			Text: text,
			Link: digest.NormalizeLinkPath(fmt.Sprintf("/projects/%s/raid/%s", meta.HumanCode, ref)),
		})
	}
	return lines
}

func blockerTitles(blockers []domain.RAIDEntry) []string {
	var out []string
	for _, e := range blockers {
		if e.Title != "" {
			out = append(out, e.Title)
		} else {
			out = append(out, e.Type+" item")
		}
	}
	return out
}

func milestoneNames(ms []domain.Milestone) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Title)
	}
	return out
}

func overdueTitles(items []digest.Item, startOfToday time.Time) []string {
	var out []string
	for _, it := range items {
		if it.DueAt != nil && it.DueAt.Before(startOfToday) {
			out = append(out, it.Title)
		}
	}
	return out
}

func dueSoon(items []digest.Item, startOfToday time.Time) []digest.Item {
	var out []digest.Item
	for _, it := range items {
		if it.DueAt != nil && it.DueAt.Before(startOfToday) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// completedLines renders the completed-this-period section. The list
// is never empty: an explicit "nothing detected" row stands in when
// every domain came back empty.
func completedLines(sets completedSets, meta digest.ProjectMeta) []Line {
	var lines []Line
	for _, m := range sets.milestones {
		done := dates.Normalize(m.DoneAt)
		if done == nil {
			done = dates.Normalize(m.EndsAt)
		}
		link := fmt.Sprintf("/projects/%s/schedule?focus=%s", meta.HumanCode, m.ID)
		if m.ArtifactID != nil {
			link = fmt.Sprintf("/projects/%s/artifacts/%s", meta.HumanCode, *m.ArtifactID)
		}
		lines = append(lines, Line{
			Text: fmt.Sprintf("Milestone %q completed on %s.", m.Title, dates.Render(done)),
			Link: digest.NormalizeLinkPath(link),
		})
	}
	for _, w := range sets.workItems {
		lines = append(lines, Line{
			Text: fmt.Sprintf("Work item %q closed.", w.Title),
			Link: digest.NormalizeLinkPath(fmt.Sprintf("/projects/%s/wbs?focus=%s", meta.HumanCode, w.ID)),
		})
	}
	for _, c := range closedChanges(sets.changes) {
		lines = append(lines, Line{
			Text: fmt.Sprintf("Change #%d %q delivered.", c.Seq, c.Title),
			Link: digest.NormalizeLinkPath(fmt.Sprintf("/projects/%s/change/%d", meta.HumanCode, c.Seq)),
		})
	}
	for _, e := range sets.raid {
		title := e.Title
		if title == "" {
			title = e.Type + " item"
		}
		lines = append(lines, Line{Text: fmt.Sprintf("RAID entry %q closed.", title)})
	}
	if len(lines) == 0 {
		return []Line{{Text: "No completed items detected for the selected period."}}
	}
	if len(lines) > listCap {
		lines = lines[:listCap]
	}
	return lines
}

func focusLines(dueSoon []digest.Item) []Line {
	var lines []Line
	for _, it := range dueSoon {
		if len(lines) >= focusCap {
			break
		}
		nounTitle := it.Title
		lines = append(lines, Line{
			Text: fmt.Sprintf("%s %q due %s.", kindLabel(it.Kind), nounTitle, dates.Render(it.DueAt)),
			Link: it.Link,
		})
	}
	if len(lines) == 0 {
		return []Line{{Text: "No items scheduled for the next period."}}
	}
	return lines
}

func kindLabel(k digest.Kind) string {
	switch k {
	case digest.KindArtifact:
		return "Artifact"
	case digest.KindMilestone:
		return "Milestone"
	case digest.KindWorkItem:
		return "Work item"
	case digest.KindRAID:
		return "RAID entry"
	case digest.KindChange:
		return "Change request"
	default:
		return "Item"
	}
}

// resourceLines surfaces assignee hotspots among due-soon work items.
func (b Builder) resourceLines(ctx context.Context, dueSoon []digest.Item) []Line {
	counts := map[string]int{}
	for _, it := range dueSoon {
		if it.Kind != digest.KindWorkItem {
			continue
		}
		if assignee, ok := it.Attributes["assigneeId"].(string); ok && assignee != "" {
			counts[assignee]++
		}
	}
	if len(counts) == 0 {
		return []Line{{Text: "No resource hotspots detected."}}
	}
	type hotspot struct {
		userID string
		n      int
	}
	var ranked []hotspot
	var ids []string
	for id, n := range counts {
		ranked = append(ranked, hotspot{id, n})
		ids = append(ids, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].userID < ranked[j].userID
	})
	if len(ranked) > resourceCap {
		ranked = ranked[:resourceCap]
	}
	users, err := b.Repo.GetUsers(ctx, ids)
	if err != nil {
		b.warn("resource summary user lookup degraded", err)
		users = nil
	}
	var lines []Line
	for _, h := range ranked {
		name := h.userID
		if u, ok := users[h.userID]; ok && u.Name != "" {
			name = u.Name
		}
		noun := "work items"
		if h.n == 1 {
			noun = "work item"
		}
		lines = append(lines, Line{Text: fmt.Sprintf("%s has %d %s due in the window.", name, h.n, noun)})
	}
	return lines
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func capSlice[T any](s []T, max int) []T {
	if len(s) > max {
		return s[:max]
	}
	return s
}
