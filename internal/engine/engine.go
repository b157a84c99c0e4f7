// Package engine wires the repo, resolver, aggregator and report
// builder into the request-level operations the server and CLI call.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"helmsman/internal/config"
	"helmsman/internal/dates"
	"helmsman/internal/digest"
	"helmsman/internal/domain"
	"helmsman/internal/events"
	"helmsman/internal/repo"
	"helmsman/internal/report"
	"helmsman/internal/resolve"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) resolver() resolve.Resolver {
	return resolve.Resolver{Repo: e.Repo}
}

func (e Engine) aggregator() digest.Aggregator {
	return digest.Aggregator{Repo: e.Repo, Log: e.Log}
}

func (e Engine) windowDays(requested int) int {
	if requested == 0 && e.Config != nil && e.Config.Digest.DefaultWindowDays > 0 {
		return e.Config.Digest.DefaultWindowDays
	}
	return dates.ClampWindowDays(requested)
}

// --- governance surface ---

type ProjectCreateOptions struct {
	Code        string
	Slug        string
	Name        string
	OwnerUserID string
	ActorID     string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:        uuid.New().String(),
		Code:      opts.Code,
		Slug:      opts.Slug,
		Name:      opts.Name,
		Status:    "active",
		CreatedAt: now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if opts.OwnerUserID != "" {
		m := domain.Membership{ProjectID: p.ID, UserID: opts.OwnerUserID, Role: "owner", CreatedAt: now}
		if err := e.Repo.InsertMembership(ctx, m); err != nil {
			return domain.Project{}, fmt.Errorf("insert owner membership: %w", err)
		}
	}
	if err := e.Events.Append(ctx, nil, "project.created", p.ID, "project", p.ID, opts.ActorID, events.Payload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) EnsureUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if _, err := e.Repo.GetUser(ctx, u.ID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if u.CreatedAt == "" {
		u.CreatedAt = e.now().UTC().Format(time.RFC3339)
	}
	return e.Repo.InsertUser(ctx, u)
}

func (e Engine) AddMember(ctx context.Context, projectID, userID, role, actorID string) error {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	m := domain.Membership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMembership(ctx, m); err != nil {
		return err
	}
	return e.Events.Append(ctx, nil, "membership.added", projectID, "membership", userID, actorID, events.Payload{"role": role})
}

// ResolveProject maps a human-facing reference to project meta.
func (e Engine) ResolveProject(ctx context.Context, ref string) (digest.ProjectMeta, error) {
	id, err := e.resolver().Resolve(ctx, ref)
	if err != nil {
		return digest.ProjectMeta{}, err
	}
	metas, err := digest.ResolveMetas(ctx, e.Repo, []string{id})
	if err != nil {
		return digest.ProjectMeta{}, err
	}
	meta, ok := metas[id]
	if !ok {
		return digest.ProjectMeta{}, repo.ErrNotFound
	}
	return meta, nil
}

// --- due digest ---

type DigestOptions struct {
	// ProjectRef selects single-project scope. When empty, ProjectIDs
	// must carry the caller's visible portfolio (authorization is the
	// caller's concern, not this engine's).
	ProjectRef string
	ProjectIDs []string
	WindowDays int
	ActorID    string
}

type DigestCounts struct {
	Total     int `json:"total"`
	Milestone int `json:"milestone"`
	WorkItem  int `json:"workItem"`
	RAIDEntry int `json:"raidEntry"`
	Artifact  int `json:"artifact"`
	Change    int `json:"change"`
}

type Digest struct {
	Summary            string          `json:"summary"`
	WindowDays         int             `json:"windowDays"`
	RAG                digest.Severity `json:"rag"`
	Counts             DigestCounts    `json:"counts"`
	DueItems           []digest.Item   `json:"dueItems"`
	RecommendedMessage string          `json:"recommendedMessage"`
}

func (e Engine) DueDigest(ctx context.Context, opts DigestOptions) (Digest, error) {
	days := e.windowDays(opts.WindowDays)
	now := e.now()
	window := dates.NewWindow(now, days)
	agg := e.aggregator()

	var (
		res        digest.Result
		projectIDs []string
	)
	if opts.ProjectRef != "" {
		meta, err := e.ResolveProject(ctx, opts.ProjectRef)
		if err != nil {
			return Digest{}, err
		}
		projectIDs = []string{meta.CanonicalID}
		res = agg.ProjectItems(ctx, meta, window)
	} else {
		projectIDs = opts.ProjectIDs
		// An empty visible set is an empty portfolio. Falling through
		// would run unscoped queries and classify on other projects'
		// records.
		if len(projectIDs) > 0 {
			metas, err := digest.ResolveMetas(ctx, e.Repo, projectIDs)
			if err != nil {
				return Digest{}, err
			}
			res = agg.PortfolioItems(ctx, metas, window)
		}
	}

	blockers, err := agg.Blockers(ctx, projectIDs, now)
	if err != nil {
		e.Log.Warn("blockers degraded in digest", "error", err)
		blockers = nil
	}
	startOfToday := dates.StartOfDay(now)
	signals := digest.CountSignals(res.Items, len(blockers), startOfToday)
	rag := digest.Classify(signals)

	facts := digest.Facts{RAG: rag, Signals: signals, WindowDays: days}
	d := Digest{
		Summary:            digestSummary(res.Items, days, projectIDs),
		WindowDays:         days,
		RAG:                rag,
		Counts:             countItems(res.Items),
		DueItems:           res.Items,
		RecommendedMessage: digest.Headline(facts),
	}
	if err := e.Events.Append(ctx, nil, "digest.generated", singleID(projectIDs), "digest", "", opts.ActorID, events.Payload{
		"total": d.Counts.Total,
		"rag":   string(rag),
	}); err != nil {
		e.Log.Warn("digest event append failed", "error", err)
	}
	return d, nil
}

func singleID(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	return ""
}

func countItems(items []digest.Item) DigestCounts {
	c := DigestCounts{Total: len(items)}
	for _, it := range items {
		switch it.Kind {
		case digest.KindMilestone:
			c.Milestone++
		case digest.KindWorkItem:
			c.WorkItem++
		case digest.KindRAID:
			c.RAIDEntry++
		case digest.KindArtifact:
			c.Artifact++
		case digest.KindChange:
			c.Change++
		}
	}
	return c
}

func digestSummary(items []digest.Item, days int, projectIDs []string) string {
	itemPart := fmt.Sprintf("%d items due", len(items))
	if len(items) == 1 {
		itemPart = "1 item due"
	}
	projectPart := fmt.Sprintf("across %d projects", len(projectIDs))
	if len(projectIDs) == 1 {
		projectPart = "across 1 project"
	}
	return fmt.Sprintf("%s within the next %d days %s.", itemPart, days, projectPart)
}

// --- delivery report ---

type ReportOptions struct {
	ProjectRef string
	PeriodFrom time.Time
	PeriodTo   time.Time
	WindowDays int
	Save       bool
	ActorID    string
}

type ReportResult struct {
	Project    digest.ProjectMeta `json:"project"`
	Report     report.Report      `json:"report"`
	SnapshotID string             `json:"snapshotId,omitempty"`
}

func (e Engine) DeliveryReport(ctx context.Context, opts ReportOptions) (ReportResult, error) {
	if opts.ProjectRef == "" {
		return ReportResult{}, errors.New("project reference is required")
	}
	if opts.PeriodFrom.IsZero() || opts.PeriodTo.IsZero() {
		return ReportResult{}, errors.New("report period is required")
	}
	if opts.PeriodFrom.After(opts.PeriodTo) {
		return ReportResult{}, errors.New("invalid period: from is after to")
	}
	meta, err := e.ResolveProject(ctx, opts.ProjectRef)
	if err != nil {
		return ReportResult{}, err
	}
	builder := report.Builder{Repo: e.Repo, Agg: e.aggregator(), Log: e.Log, Now: e.now}
	rep, err := builder.Build(ctx, report.Request{
		Meta:       meta,
		PeriodFrom: opts.PeriodFrom,
		PeriodTo:   opts.PeriodTo,
		WindowDays: e.windowDays(opts.WindowDays),
	})
	if err != nil {
		return ReportResult{}, err
	}
	result := ReportResult{Project: meta, Report: rep}
	if opts.Save {
		id, err := e.saveSnapshot(ctx, meta, rep, opts.ActorID)
		if err != nil {
			return ReportResult{}, fmt.Errorf("save report snapshot: %w", err)
		}
		result.SnapshotID = id
	}
	if err := e.Events.Append(ctx, nil, "report.generated", meta.CanonicalID, "report", result.SnapshotID, opts.ActorID, events.Payload{
		"rag":  string(rep.ExecutiveSummary.RAG),
		"from": rep.Period.From.Format("2006-01-02"),
		"to":   rep.Period.To.Format("2006-01-02"),
	}); err != nil {
		e.Log.Warn("report event append failed", "error", err)
	}
	return result, nil
}

func (e Engine) saveSnapshot(ctx context.Context, meta digest.ProjectMeta, rep report.Report, actorID string) (string, error) {
	doc, err := marshalReport(rep)
	if err != nil {
		return "", err
	}
	snap := domain.ReportSnapshot{
		ID:         uuid.New().String(),
		ProjectID:  meta.CanonicalID,
		PeriodFrom: rep.Period.From.Format("2006-01-02"),
		PeriodTo:   rep.Period.To.Format("2006-01-02"),
		DocJSON:    doc,
		CreatedBy:  actorID,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertReportSnapshot(ctx, snap); err != nil {
		return "", err
	}
	return snap.ID, nil
}

func marshalReport(rep report.Report) (string, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
