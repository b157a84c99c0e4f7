package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"helmsman/internal/domain"
	"helmsman/internal/events"
)

// SeedFile is the YAML shape accepted by `hm seed`. Projects nest their
// records so a whole portfolio can be loaded from one file.
type SeedFile struct {
	Users    []SeedUser    `yaml:"users"`
	Projects []SeedProject `yaml:"projects"`
}

type SeedUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type SeedProject struct {
	ID         string          `yaml:"id"`
	Code       string          `yaml:"code"`
	Slug       string          `yaml:"slug"`
	Name       string          `yaml:"name"`
	Status     string          `yaml:"status"`
	Members    []SeedMember    `yaml:"members"`
	Artifacts  []SeedArtifact  `yaml:"artifacts"`
	Milestones []SeedMilestone `yaml:"milestones"`
	WorkItems  []SeedWorkItem  `yaml:"work_items"`
	RAID       []SeedRAIDEntry `yaml:"raid"`
	Changes    []SeedChange    `yaml:"changes"`
}

type SeedMember struct {
	UserID string `yaml:"user_id"`
	Role   string `yaml:"role"`
}

type SeedArtifact struct {
	ID      string  `yaml:"id"`
	Kind    string  `yaml:"kind"`
	Title   string  `yaml:"title"`
	Status  string  `yaml:"status"`
	DueAt   *string `yaml:"due_at"`
	DocJSON *string `yaml:"doc_json"`
}

type SeedMilestone struct {
	ID         string  `yaml:"id"`
	Title      string  `yaml:"title"`
	Status     string  `yaml:"status"`
	StartsAt   *string `yaml:"starts_at"`
	EndsAt     *string `yaml:"ends_at"`
	Critical   bool    `yaml:"critical"`
	ArtifactID *string `yaml:"artifact_id"`
	OwnerID    *string `yaml:"owner_id"`
	DoneAt     *string `yaml:"done_at"`
}

type SeedWorkItem struct {
	ID         string  `yaml:"id"`
	Title      string  `yaml:"title"`
	Status     string  `yaml:"status"`
	ParentID   *string `yaml:"parent_id"`
	DueAt      *string `yaml:"due_at"`
	AssigneeID *string `yaml:"assignee_id"`
	ArtifactID *string `yaml:"artifact_id"`
	DoneAt     *string `yaml:"done_at"`
}

type SeedRAIDEntry struct {
	ID          string  `yaml:"id"`
	Type        string  `yaml:"type"`
	RefCode     *string `yaml:"ref_code"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Status      string  `yaml:"status"`
	Priority    string  `yaml:"priority"`
	DueAt       *string `yaml:"due_at"`
	ClosedAt    *string `yaml:"closed_at"`
}

type SeedChange struct {
	ID             string  `yaml:"id"`
	Title          string  `yaml:"title"`
	DeliveryStatus string  `yaml:"delivery_status"`
	DecisionStatus string  `yaml:"decision_status"`
	ReviewBy       *string `yaml:"review_by"`
}

// SeedSummary reports what a seed run inserted.
type SeedSummary struct {
	Users    int `json:"users"`
	Projects int `json:"projects"`
	Records  int `json:"records"`
}

func ParseSeed(data []byte) (SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// Seed loads a seed file into the database. Records get fresh UUIDs when
// the file omits them, so a file can be written by hand without ids.
func (e Engine) Seed(ctx context.Context, f SeedFile, actorID string) (SeedSummary, error) {
	now := e.now().UTC().Format(time.RFC3339)
	var sum SeedSummary

	for _, u := range f.Users {
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		if err := e.EnsureUser(ctx, domain.User{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: now}); err != nil {
			return sum, fmt.Errorf("seed user %q: %w", u.Email, err)
		}
		sum.Users++
	}

	for _, sp := range f.Projects {
		p, err := e.seedProject(ctx, sp, now)
		if err != nil {
			return sum, err
		}
		sum.Projects++

		records, err := e.seedRecords(ctx, p.ID, sp, now)
		if err != nil {
			return sum, err
		}
		sum.Records += records
	}

	if err := e.Events.Append(ctx, nil, "seed.imported", "", "seed", "", actorID, events.Payload{
		"users":    sum.Users,
		"projects": sum.Projects,
		"records":  sum.Records,
	}); err != nil {
		return sum, err
	}
	return sum, nil
}

func (e Engine) seedProject(ctx context.Context, sp SeedProject, now string) (domain.Project, error) {
	if sp.ID == "" {
		sp.ID = uuid.New().String()
	}
	status := sp.Status
	if status == "" {
		status = "active"
	}
	p := domain.Project{ID: sp.ID, Code: sp.Code, Slug: sp.Slug, Name: sp.Name, Status: status, CreatedAt: now}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("seed project %q: %w", sp.Name, err)
	}
	for _, m := range sp.Members {
		role := m.Role
		if role == "" {
			role = "member"
		}
		mem := domain.Membership{ProjectID: p.ID, UserID: m.UserID, Role: role, CreatedAt: now}
		if err := e.Repo.InsertMembership(ctx, mem); err != nil {
			return domain.Project{}, fmt.Errorf("seed membership %q on %q: %w", m.UserID, sp.Name, err)
		}
	}
	return p, nil
}

func (e Engine) seedRecords(ctx context.Context, projectID string, sp SeedProject, now string) (int, error) {
	count := 0

	for _, a := range sp.Artifacts {
		rec := domain.Artifact{
			ID: orUUID(a.ID), ProjectID: projectID, Kind: a.Kind, Title: a.Title,
			Status: a.Status, DueAt: a.DueAt, DocJSON: a.DocJSON,
			CreatedAt: now, UpdatedAt: now,
		}
		if err := e.Repo.InsertArtifact(ctx, rec); err != nil {
			return count, fmt.Errorf("seed artifact %q: %w", a.Title, err)
		}
		count++
	}
	for _, m := range sp.Milestones {
		rec := domain.Milestone{
			ID: orUUID(m.ID), ProjectID: projectID, Title: m.Title, Status: m.Status,
			StartsAt: m.StartsAt, EndsAt: m.EndsAt, Critical: m.Critical,
			ArtifactID: m.ArtifactID, OwnerID: m.OwnerID, DoneAt: m.DoneAt,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertMilestone(ctx, rec); err != nil {
			return count, fmt.Errorf("seed milestone %q: %w", m.Title, err)
		}
		count++
	}
	for _, w := range sp.WorkItems {
		rec := domain.WorkItem{
			ID: orUUID(w.ID), ProjectID: projectID, Title: w.Title, Status: w.Status,
			ParentID: w.ParentID, DueAt: w.DueAt, AssigneeID: w.AssigneeID,
			ArtifactID: w.ArtifactID, DoneAt: w.DoneAt, UpdatedAt: now,
		}
		if err := e.Repo.InsertWorkItem(ctx, rec); err != nil {
			return count, fmt.Errorf("seed work item %q: %w", w.Title, err)
		}
		count++
	}
	for _, r := range sp.RAID {
		rec := domain.RAIDEntry{
			ID: orUUID(r.ID), ProjectID: projectID, Type: r.Type, RefCode: r.RefCode,
			Title: r.Title, Description: r.Description, Status: r.Status,
			Priority: r.Priority, DueAt: r.DueAt, ClosedAt: r.ClosedAt,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertRAIDEntry(ctx, rec); err != nil {
			return count, fmt.Errorf("seed raid entry %q: %w", r.Title, err)
		}
		count++
	}
	for _, c := range sp.Changes {
		seq, err := e.Repo.NextChangeSeq(ctx, projectID)
		if err != nil {
			return count, fmt.Errorf("seed change %q: %w", c.Title, err)
		}
		rec := domain.ChangeRequest{
			ID: orUUID(c.ID), ProjectID: projectID, Seq: seq, Title: c.Title,
			DeliveryStatus: c.DeliveryStatus, DecisionStatus: c.DecisionStatus,
			ReviewBy: c.ReviewBy, UpdatedAt: now,
		}
		if err := e.Repo.InsertChangeRequest(ctx, rec); err != nil {
			return count, fmt.Errorf("seed change %q: %w", c.Title, err)
		}
		count++
	}
	return count, nil
}

func orUUID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
