package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/db"
	"helmsman/internal/digest"
	"helmsman/internal/domain"
	"helmsman/internal/migrate"
	"helmsman/internal/repo"
)

var testNow = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

func str(s string) *string { return &s }

func newTestBuilder(t *testing.T) Builder {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	return Builder{
		Repo: r,
		Agg:  digest.Aggregator{Repo: r},
		Now:  func() time.Time { return testNow },
	}
}

func seedProject(t *testing.T, r repo.Repo, id, code, name string) {
	t.Helper()
	require.NoError(t, r.InsertProject(context.Background(), domain.Project{
		ID: id, Code: code, Slug: "project-" + code, Name: name, Status: "active", CreatedAt: "2026-01-01T00:00:00Z",
	}))
}

func testRequest() Request {
	return Request{
		Meta:       digest.ProjectMeta{CanonicalID: "p1", HumanCode: "PRJ-1001", Name: "Rollout"},
		PeriodFrom: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		WindowDays: 14,
	}
}

func TestBuildEmptyProject(t *testing.T) {
	b := newTestBuilder(t)
	seedProject(t, b.Repo, "p1", "1001", "Rollout")

	rep, err := b.Build(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, digest.Green, rep.ExecutiveSummary.RAG)
	assert.Equal(t, "Delivery is on track with nothing requiring escalation.", rep.ExecutiveSummary.Headline)
	assert.Equal(t, []Line{{Text: "No completed items detected for the selected period."}}, rep.CompletedThisPeriod)
	assert.Equal(t, []Line{{Text: "No items scheduled for the next period."}}, rep.NextPeriodFocus)
	assert.Equal(t, []Line{{Text: "No resource hotspots detected."}}, rep.ResourceSummary)
	assert.Empty(t, rep.KeyDecisions)
	assert.Empty(t, rep.OperationalBlockers)
	assert.Equal(t, Metrics{}, rep.Metrics)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), rep.Period.From)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), rep.Period.To)
}

func TestBuildCompletedAndDecisions(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	seedProject(t, b.Repo, "p1", "1001", "Rollout")

	inPeriod := "2026-08-15T09:00:00Z"
	require.NoError(t, b.Repo.InsertMilestone(ctx, domain.Milestone{
		ID: "m1", ProjectID: "p1", Title: "Discovery", Status: "done",
		DoneAt: str("2026-08-10"), UpdatedAt: inPeriod,
	}))
	// done milestone outside the period must not count
	require.NoError(t, b.Repo.InsertMilestone(ctx, domain.Milestone{
		ID: "m2", ProjectID: "p1", Title: "Old win", Status: "done",
		DoneAt: str("2026-06-01"), UpdatedAt: inPeriod,
	}))
	require.NoError(t, b.Repo.InsertWorkItem(ctx, domain.WorkItem{
		ID: "w1", ProjectID: "p1", Title: "Draft plan", Status: "closed",
		DoneAt: str("2026-08-12"), UpdatedAt: inPeriod,
	}))
	// no done_at: due_at stands in for the period check
	require.NoError(t, b.Repo.InsertWorkItem(ctx, domain.WorkItem{
		ID: "w2", ProjectID: "p1", Title: "Review notes", Status: "done",
		DueAt: str("2026-08-20"), UpdatedAt: inPeriod,
	}))
	require.NoError(t, b.Repo.InsertRAIDEntry(ctx, domain.RAIDEntry{
		ID: "r1", ProjectID: "p1", Type: "risk", Title: "Vendor risk", Status: "closed",
		ClosedAt: str("2026-08-14"), UpdatedAt: inPeriod,
	}))
	require.NoError(t, b.Repo.InsertChangeRequest(ctx, domain.ChangeRequest{
		ID: "c1", ProjectID: "p1", Seq: 1, Title: "Scope swap",
		DeliveryStatus: "implemented", DecisionStatus: "approved", UpdatedAt: inPeriod,
	}))
	require.NoError(t, b.Repo.InsertChangeRequest(ctx, domain.ChangeRequest{
		ID: "c2", ProjectID: "p1", Seq: 2, Title: "Budget bump",
		DeliveryStatus: "review", DecisionStatus: "rejected", UpdatedAt: inPeriod,
	}))

	rep, err := b.Build(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, Metrics{MilestonesDone: 1, WorkItemsDone: 2, ChangesClosed: 1, RAIDClosed: 1}, rep.Metrics)

	var texts []string
	for _, l := range rep.CompletedThisPeriod {
		texts = append(texts, l.Text)
	}
	assert.Contains(t, texts, `Milestone "Discovery" completed on 10/08/2026.`)
	assert.Contains(t, texts, `Work item "Draft plan" closed.`)
	assert.Contains(t, texts, `Change #1 "Scope swap" delivered.`)
	assert.Contains(t, texts, `RAID entry "Vendor risk" closed.`)
	assert.NotContains(t, texts, `Milestone "Old win" completed on 01/06/2026.`)

	require.Len(t, rep.KeyDecisions, 2)
	assert.Equal(t, "Approved change #1: Scope swap", rep.KeyDecisions[0].Text)
	assert.Equal(t, "/projects/PRJ-1001/change/1", rep.KeyDecisions[0].Link)
	assert.Equal(t, "Rejected change #2: Budget bump", rep.KeyDecisions[1].Text)

	assert.Contains(t, rep.ExecutiveSummary.Narrative, "Key decisions this period: Approved change #1: Scope swap; Rejected change #2: Budget bump.")
}

func TestBuildRAGAndBlockers(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	seedProject(t, b.Repo, "p1", "1001", "Rollout")

	require.NoError(t, b.Repo.InsertRAIDEntry(ctx, domain.RAIDEntry{
		ID: "r1", ProjectID: "p1", Type: "issue", RefCode: str("I-3"), Title: "Vendor contract",
		Status: "open", Priority: "high", DueAt: str("2026-09-20"), UpdatedAt: "2026-08-01T00:00:00Z",
	}))

	rep, err := b.Build(ctx, testRequest())
	require.NoError(t, err)

	assert.Equal(t, digest.Amber, rep.ExecutiveSummary.RAG)
	assert.Equal(t, "1 active blocker needs resolution to keep delivery on track.", rep.ExecutiveSummary.Headline)
	require.Len(t, rep.OperationalBlockers, 1)
	assert.Equal(t, "Issue: Vendor contract (due 20/09/2026)", rep.OperationalBlockers[0].Text)
	assert.Equal(t, "/projects/PRJ-1001/raid/I-3", rep.OperationalBlockers[0].Link)
}

func TestBuildOverdueIsRed(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	seedProject(t, b.Repo, "p1", "1001", "Rollout")

	require.NoError(t, b.Repo.InsertWorkItem(ctx, domain.WorkItem{
		ID: "w1", ProjectID: "p1", Title: "Late task", Status: "open",
		DueAt: str("2026-08-20"), UpdatedAt: "2026-08-01T00:00:00Z",
	}))

	rep, err := b.Build(ctx, testRequest())
	require.NoError(t, err)

	assert.Equal(t, digest.Red, rep.ExecutiveSummary.RAG)
	assert.Equal(t, "1 overdue item requires immediate action to protect delivery.", rep.ExecutiveSummary.Headline)
	assert.Contains(t, rep.ExecutiveSummary.Narrative, "Escalation within 48 hours is recommended.")
	// overdue items stay out of the forward-looking focus list
	assert.Equal(t, []Line{{Text: "No items scheduled for the next period."}}, rep.NextPeriodFocus)
	require.Len(t, rep.DueItems, 1)
}

func TestBuildResourceHotspots(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()
	seedProject(t, b.Repo, "p1", "1001", "Rollout")
	require.NoError(t, b.Repo.InsertUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com", CreatedAt: "2026-01-01T00:00:00Z"}))

	now := "2026-08-01T00:00:00Z"
	for i, id := range []string{"w1", "w2"} {
		require.NoError(t, b.Repo.InsertWorkItem(ctx, domain.WorkItem{
			ID: id, ProjectID: "p1", Title: "Task " + id, Status: "open",
			DueAt: str("2026-09-0" + string(rune('1'+i))), AssigneeID: str("u1"), UpdatedAt: now,
		}))
	}
	require.NoError(t, b.Repo.InsertWorkItem(ctx, domain.WorkItem{
		ID: "w3", ProjectID: "p1", Title: "Task w3", Status: "open",
		DueAt: str("2026-09-03"), AssigneeID: str("u9"), UpdatedAt: now,
	}))

	rep, err := b.Build(ctx, testRequest())
	require.NoError(t, err)

	require.Len(t, rep.ResourceSummary, 2)
	assert.Equal(t, "Dana has 2 work items due in the window.", rep.ResourceSummary[0].Text)
	// unknown assignee falls back to the raw id
	assert.Equal(t, "u9 has 1 work item due in the window.", rep.ResourceSummary[1].Text)

	require.Len(t, rep.NextPeriodFocus, 3)
	assert.Equal(t, `Work item "Task w1" due 01/09/2026.`, rep.NextPeriodFocus[0].Text)
}
