package digest

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/dates"
	"helmsman/internal/domain"
)

var testNow = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

func testWindow(days int) dates.Window {
	return dates.NewWindow(testNow, days)
}

func testMeta() ProjectMeta {
	return ProjectMeta{
		CanonicalID: "p1",
		HumanCode:   "PRJ-1042",
		Name:        "Migration",
		OwnerName:   "Dana",
		OwnerEmail:  "dana@example.com",
	}
}

func str(s string) *string { return &s }

func TestExtractArtifactsDocDueFallback(t *testing.T) {
	w := testWindow(14)
	meta := testMeta()

	tests := []struct {
		name     string
		artifact domain.Artifact
		included bool
		due      string
	}{
		{
			name:     "direct due wins",
			artifact: domain.Artifact{ID: "a1", Title: "Charter", DueAt: str("2026-09-02")},
			included: true,
			due:      "2026-09-02",
		},
		{
			name: "review.due probed first",
			artifact: domain.Artifact{
				ID:      "a2",
				Title:   "Plan",
				DocJSON: str(`{"review":{"due":"2026-09-03"},"timeline":{"due":"2026-09-10"}}`),
			},
			included: true,
			due:      "2026-09-03",
		},
		{
			name: "timeline.due when review absent",
			artifact: domain.Artifact{
				ID:      "a3",
				Title:   "Register",
				DocJSON: str(`{"timeline":{"due":"2026-09-04"}}`),
			},
			included: true,
			due:      "2026-09-04",
		},
		{
			name: "meta.due_date last",
			artifact: domain.Artifact{
				ID:      "a4",
				Title:   "Closure",
				DocJSON: str(`{"meta":{"due_date":"05/09/2026"}}`),
			},
			included: true,
			due:      "2026-09-05",
		},
		{
			name:     "no date anywhere excluded",
			artifact: domain.Artifact{ID: "a5", Title: "Notes", DocJSON: str(`{"meta":{}}`)},
			included: false,
		},
		{
			name:     "sentinel due with no document excluded",
			artifact: domain.Artifact{ID: "a6", Title: "TBD doc", DueAt: str("tbd")},
			included: false,
		},
		{
			name:     "beyond window excluded",
			artifact: domain.Artifact{ID: "a7", Title: "Later", DueAt: str("2026-12-01")},
			included: false,
		},
		{
			name:     "overdue included",
			artifact: domain.Artifact{ID: "a8", Title: "Old", DueAt: str("2026-08-01")},
			included: true,
			due:      "2026-08-01",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items := extractArtifacts([]domain.Artifact{tc.artifact}, w, meta)
			if !tc.included {
				assert.Empty(t, items)
				return
			}
			require.Len(t, items, 1)
			require.NotNil(t, items[0].DueAt)
			assert.Equal(t, tc.due, items[0].DueAt.Format("2006-01-02"))
			assert.Equal(t, KindArtifact, items[0].Kind)
			assert.Equal(t, "Migration", items[0].ProjectName)
		})
	}
}

func TestExtractMilestones(t *testing.T) {
	w := testWindow(14)
	meta := testMeta()

	records := []domain.Milestone{
		{ID: "m1", Title: "Go-live", Status: "planned", EndsAt: str("2026-09-05"), Critical: true},
		{ID: "m2", Title: "Kickoff", Status: "planned", StartsAt: str("2026-09-01")},
		{ID: "m3", Title: "Done already", Status: "Completed", EndsAt: str("2026-09-02")},
		{ID: "m4", Title: "Far out", Status: "planned", EndsAt: str("2027-01-01")},
		{ID: "m5", Title: "Linked", Status: "planned", EndsAt: str("2026-09-06"), ArtifactID: str("a9")},
	}
	items := extractMilestones(records, w, meta)
	require.Len(t, items, 3)

	byID := map[string]Item{}
	for _, it := range items {
		byID[it.Attributes["milestoneId"].(string)] = it
	}
	assert.Equal(t, "2026-09-05", byID["m1"].DueAt.Format("2006-01-02"))
	assert.Equal(t, true, byID["m1"].Attributes["critical"])
	// starts_at stands in when ends_at is absent
	assert.Equal(t, "2026-09-01", byID["m2"].DueAt.Format("2006-01-02"))
	// artifact link preferred over schedule link
	assert.Equal(t, "/projects/PRJ-1042/artifacts/a9", byID["m5"].Link)
	assert.Equal(t, "/projects/PRJ-1042/schedule?focus=m1", byID["m1"].Link)
}

func TestExtractWorkItemsSkipsClosed(t *testing.T) {
	w := testWindow(14)
	items := extractWorkItems([]domain.WorkItem{
		{ID: "w1", Title: "Open", Status: "open", DueAt: str("2026-09-03"), AssigneeID: str("u1")},
		{ID: "w2", Title: "Closed", Status: "Done", DueAt: str("2026-09-03")},
		{ID: "w3", Title: "Dateless", Status: "open"},
	}, w, testMeta())
	require.Len(t, items, 1)
	assert.Equal(t, "Open", items[0].Title)
	assert.Equal(t, "u1", items[0].Attributes["assigneeId"])
	assert.Equal(t, "/projects/PRJ-1042/wbs?focus=w1", items[0].Link)
}

func TestExtractRAIDTitles(t *testing.T) {
	w := testWindow(14)
	meta := testMeta()
	long := ""
	for i := 0; i < 10; i++ {
		long += "0123456789"
	}

	items := extractRAID([]domain.RAIDEntry{
		{ID: "r1", Type: "risk", Title: "Named risk", Status: "open", DueAt: str("2026-09-02"), RefCode: str("R-12")},
		{ID: "r2", Type: "issue", Description: long, Status: "open", DueAt: str("2026-09-02")},
		{ID: "r3", Type: "dependency", Status: "open", DueAt: str("2026-09-02")},
		{ID: "r4", Type: "risk", Title: "Gone", Status: "closed", DueAt: str("2026-09-02")},
	}, w, meta)
	require.Len(t, items, 3)

	byID := map[string]Item{}
	for _, it := range items {
		byID[it.Attributes["raidEntryId"].(string)] = it
	}
	assert.Equal(t, "Named risk", byID["r1"].Title)
	assert.Equal(t, "/projects/PRJ-1042/raid/R-12", byID["r1"].Link)
	assert.Equal(t, long[:80]+"…", byID["r2"].Title)
	assert.Equal(t, "dependency item", byID["r3"].Title)
	// no ref code falls back to the row id
	assert.Equal(t, "/projects/PRJ-1042/raid/r3", byID["r3"].Link)
}

func TestExtractRAIDTitleMultibyteTruncation(t *testing.T) {
	w := testWindow(14)
	meta := testMeta()

	items := extractRAID([]domain.RAIDEntry{
		{ID: "r1", Type: "risk", Description: strings.Repeat("é", 120), Status: "open", DueAt: str("2026-09-01")},
	}, w, meta)

	require.Len(t, items, 1)
	assert.Equal(t, strings.Repeat("é", 80)+"…", items[0].Title)
	assert.True(t, utf8.ValidString(items[0].Title))
}

func TestExtractChangesStatusGate(t *testing.T) {
	w := testWindow(14)
	items := extractChanges([]domain.ChangeRequest{
		{ID: "c1", Seq: 1, Title: "In review", DeliveryStatus: "review", ReviewBy: str("2026-09-04")},
		{ID: "c2", Seq: 2, Title: "Submitted", DeliveryStatus: "draft", DecisionStatus: "submitted", UpdatedAt: "2026-08-20T00:00:00Z"},
		{ID: "c3", Seq: 3, Title: "Plain draft", DeliveryStatus: "draft"},
		{ID: "c4", Seq: 4, Title: "Review far out", DeliveryStatus: "review", ReviewBy: str("2027-01-01")},
		{ID: "c5", Seq: 5, Title: "Undated but pending", DeliveryStatus: "review", UpdatedAt: "tbd"},
	}, w, testMeta())
	require.Len(t, items, 3)

	byID := map[string]Item{}
	for _, it := range items {
		byID[it.Attributes["changeRequestId"].(string)] = it
	}
	assert.Equal(t, "2026-09-04", byID["c1"].DueAt.Format("2006-01-02"))
	assert.Equal(t, "2026-08-20", byID["c2"].DueAt.Format("2006-01-02"))
	// pending decision with no readable date still surfaces
	assert.Nil(t, byID["c5"].DueAt)
	assert.Equal(t, "/projects/PRJ-1042/change/1", byID["c1"].Link)
}

func TestSortItemsNilDatesLast(t *testing.T) {
	d1 := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
	items := []Item{
		{Kind: KindChange, Title: "undated", DueAt: nil, ProjectName: "A"},
		{Kind: KindWorkItem, Title: "later", DueAt: &d2, ProjectName: "A"},
		{Kind: KindMilestone, Title: "sooner", DueAt: &d1, ProjectName: "B"},
		{Kind: KindArtifact, Title: "same day", DueAt: &d1, ProjectName: "A"},
	}
	sortItems(items)
	assert.Equal(t, "same day", items[0].Title)
	assert.Equal(t, "sooner", items[1].Title)
	assert.Equal(t, "later", items[2].Title)
	assert.Equal(t, "undated", items[3].Title)
}

func TestNormalizeLinkPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/projects/PRJ-1/RAID/R-12", "/projects/PRJ-1/raid/R-12"},
		{"/projects/PRJ-1/Schedule?focus=M1", "/projects/PRJ-1/schedule?focus=M1"},
		{"/projects/PRJ-1/WBS?focus=ItemID", "/projects/PRJ-1/wbs?focus=ItemID"},
		{"/projects/PRJ-1/Change/3", "/projects/PRJ-1/change/3"},
		{"/projects/PRJ-1/Artifacts/A1", "/projects/PRJ-1/artifacts/A1"},
		{"/projects/PRJ-1/other/Keep", "/projects/PRJ-1/other/Keep"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeLinkPath(tc.in), tc.in)
	}
}
