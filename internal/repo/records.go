package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"helmsman/internal/domain"
)

// ListFilters scopes a record-collection read. ProjectIDs is batched
// into a single IN clause so portfolio reads stay one round-trip.
type ListFilters struct {
	ProjectIDs  []string
	Statuses    []string
	NotStatuses []string
	Limit       int
}

func (f ListFilters) clauses() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.ProjectIDs) > 0 {
		c, a := inClause("project_id", f.ProjectIDs)
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if len(f.Statuses) > 0 {
		c, a := inClause("status", f.Statuses)
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	if len(f.NotStatuses) > 0 {
		c, a := inClause("status", f.NotStatuses)
		clauses = append(clauses, "NOT "+c)
		args = append(args, a...)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (f ListFilters) limitSQL() (string, []any) {
	if f.Limit > 0 {
		return " LIMIT ?", []any{f.Limit}
	}
	return "", nil
}

// --- artifacts ---

func (r Repo) InsertArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO artifacts(id,project_id,kind,title,status,due_at,doc_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.Kind, a.Title, nullable(a.Status), nullableStringPtr(a.DueAt), nullableStringPtr(a.DocJSON), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) ListArtifacts(ctx context.Context, f ListFilters) ([]domain.Artifact, error) {
	res, err := r.listArtifacts(ctx, f, false)
	if errors.Is(err, ErrNoSuchColumn) {
		res, err = r.listArtifacts(ctx, f, true)
	}
	return res, err
}

func (r Repo) listArtifacts(ctx context.Context, f ListFilters, reduced bool) ([]domain.Artifact, error) {
	cols := `id,project_id,kind,title,status,due_at,doc_json,created_at,updated_at`
	if reduced {
		cols = `id,project_id,kind,title,status,due_at,created_at,updated_at`
	}
	where, args := f.clauses()
	limit, largs := f.limitSQL()
	query := `SELECT ` + cols + ` FROM artifacts ` + where + ` ORDER BY project_id, id` + limit
	rows, err := r.DB.QueryContext(ctx, query, append(args, largs...)...)
	if err != nil {
		return nil, classifyColumnErr(err)
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var status, dueAt, docJSON sql.NullString
		var scanErr error
		if reduced {
			scanErr = rows.Scan(&a.ID, &a.ProjectID, &a.Kind, &a.Title, &status, &dueAt, &a.CreatedAt, &a.UpdatedAt)
		} else {
			scanErr = rows.Scan(&a.ID, &a.ProjectID, &a.Kind, &a.Title, &status, &dueAt, &docJSON, &a.CreatedAt, &a.UpdatedAt)
		}
		if scanErr != nil {
			return nil, scanErr
		}
		a.Status = status.String
		if dueAt.Valid {
			a.DueAt = &dueAt.String
		}
		if docJSON.Valid {
			a.DocJSON = &docJSON.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- milestones ---

func (r Repo) InsertMilestone(ctx context.Context, m domain.Milestone) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO milestones(id,project_id,title,status,starts_at,ends_at,critical,artifact_id,owner_id,done_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Title, m.Status, nullableStringPtr(m.StartsAt), nullableStringPtr(m.EndsAt), boolInt(m.Critical),
		nullableStringPtr(m.ArtifactID), nullableStringPtr(m.OwnerID), nullableStringPtr(m.DoneAt), m.UpdatedAt)
	return err
}

func (r Repo) ListMilestones(ctx context.Context, f ListFilters) ([]domain.Milestone, error) {
	res, err := r.listMilestones(ctx, f, false)
	if errors.Is(err, ErrNoSuchColumn) {
		res, err = r.listMilestones(ctx, f, true)
	}
	return res, err
}

func (r Repo) listMilestones(ctx context.Context, f ListFilters, reduced bool) ([]domain.Milestone, error) {
	cols := `id,project_id,title,status,starts_at,ends_at,critical,artifact_id,owner_id,done_at,updated_at`
	if reduced {
		cols = `id,project_id,title,status,starts_at,ends_at,updated_at`
	}
	where, args := f.clauses()
	limit, largs := f.limitSQL()
	query := `SELECT ` + cols + ` FROM milestones ` + where + ` ORDER BY project_id, id` + limit
	rows, err := r.DB.QueryContext(ctx, query, append(args, largs...)...)
	if err != nil {
		return nil, classifyColumnErr(err)
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		var starts, ends, artifactID, ownerID, doneAt sql.NullString
		var critical sql.NullInt64
		var scanErr error
		if reduced {
			scanErr = rows.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Status, &starts, &ends, &m.UpdatedAt)
		} else {
			scanErr = rows.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Status, &starts, &ends, &critical, &artifactID, &ownerID, &doneAt, &m.UpdatedAt)
		}
		if scanErr != nil {
			return nil, scanErr
		}
		if starts.Valid {
			m.StartsAt = &starts.String
		}
		if ends.Valid {
			m.EndsAt = &ends.String
		}
		m.Critical = critical.Int64 != 0
		if artifactID.Valid {
			m.ArtifactID = &artifactID.String
		}
		if ownerID.Valid {
			m.OwnerID = &ownerID.String
		}
		if doneAt.Valid {
			m.DoneAt = &doneAt.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- work items ---

func (r Repo) InsertWorkItem(ctx context.Context, w domain.WorkItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO work_items(id,project_id,parent_id,title,status,due_at,assignee_id,artifact_id,done_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.ProjectID, nullableStringPtr(w.ParentID), w.Title, w.Status, nullableStringPtr(w.DueAt),
		nullableStringPtr(w.AssigneeID), nullableStringPtr(w.ArtifactID), nullableStringPtr(w.DoneAt), w.UpdatedAt)
	return err
}

func (r Repo) ListWorkItems(ctx context.Context, f ListFilters) ([]domain.WorkItem, error) {
	res, err := r.listWorkItems(ctx, f, false)
	if errors.Is(err, ErrNoSuchColumn) {
		res, err = r.listWorkItems(ctx, f, true)
	}
	return res, err
}

func (r Repo) listWorkItems(ctx context.Context, f ListFilters, reduced bool) ([]domain.WorkItem, error) {
	cols := `id,project_id,parent_id,title,status,due_at,assignee_id,artifact_id,done_at,updated_at`
	if reduced {
		cols = `id,project_id,title,status,due_at,updated_at`
	}
	where, args := f.clauses()
	limit, largs := f.limitSQL()
	query := `SELECT ` + cols + ` FROM work_items ` + where + ` ORDER BY project_id, id` + limit
	rows, err := r.DB.QueryContext(ctx, query, append(args, largs...)...)
	if err != nil {
		return nil, classifyColumnErr(err)
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		var w domain.WorkItem
		var parentID, dueAt, assigneeID, artifactID, doneAt sql.NullString
		var scanErr error
		if reduced {
			scanErr = rows.Scan(&w.ID, &w.ProjectID, &w.Title, &w.Status, &dueAt, &w.UpdatedAt)
		} else {
			scanErr = rows.Scan(&w.ID, &w.ProjectID, &parentID, &w.Title, &w.Status, &dueAt, &assigneeID, &artifactID, &doneAt, &w.UpdatedAt)
		}
		if scanErr != nil {
			return nil, scanErr
		}
		if parentID.Valid {
			w.ParentID = &parentID.String
		}
		if dueAt.Valid {
			w.DueAt = &dueAt.String
		}
		if assigneeID.Valid {
			w.AssigneeID = &assigneeID.String
		}
		if artifactID.Valid {
			w.ArtifactID = &artifactID.String
		}
		if doneAt.Valid {
			w.DoneAt = &doneAt.String
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// --- RAID entries ---

func (r Repo) InsertRAIDEntry(ctx context.Context, e domain.RAIDEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO raid_entries(id,project_id,type,ref_code,title,description,status,priority,due_at,closed_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Type, nullableStringPtr(e.RefCode), nullable(e.Title), nullable(e.Description),
		e.Status, nullable(e.Priority), nullableStringPtr(e.DueAt), nullableStringPtr(e.ClosedAt), e.UpdatedAt)
	return err
}

func (r Repo) ListRAIDEntries(ctx context.Context, f ListFilters) ([]domain.RAIDEntry, error) {
	res, err := r.listRAIDEntries(ctx, f, false)
	if errors.Is(err, ErrNoSuchColumn) {
		res, err = r.listRAIDEntries(ctx, f, true)
	}
	return res, err
}

func (r Repo) listRAIDEntries(ctx context.Context, f ListFilters, reduced bool) ([]domain.RAIDEntry, error) {
	cols := `id,project_id,type,ref_code,title,description,status,priority,due_at,closed_at,updated_at`
	if reduced {
		cols = `id,project_id,type,title,description,status,due_at,closed_at,updated_at`
	}
	where, args := f.clauses()
	limit, largs := f.limitSQL()
	query := `SELECT ` + cols + ` FROM raid_entries ` + where + ` ORDER BY project_id, id` + limit
	rows, err := r.DB.QueryContext(ctx, query, append(args, largs...)...)
	if err != nil {
		return nil, classifyColumnErr(err)
	}
	defer rows.Close()
	var res []domain.RAIDEntry
	for rows.Next() {
		var e domain.RAIDEntry
		var refCode, title, description, priority, dueAt, closedAt sql.NullString
		var scanErr error
		if reduced {
			scanErr = rows.Scan(&e.ID, &e.ProjectID, &e.Type, &title, &description, &e.Status, &dueAt, &closedAt, &e.UpdatedAt)
		} else {
			scanErr = rows.Scan(&e.ID, &e.ProjectID, &e.Type, &refCode, &title, &description, &e.Status, &priority, &dueAt, &closedAt, &e.UpdatedAt)
		}
		if scanErr != nil {
			return nil, scanErr
		}
		if refCode.Valid {
			e.RefCode = &refCode.String
		}
		e.Title = title.String
		e.Description = description.String
		e.Priority = priority.String
		if dueAt.Valid {
			e.DueAt = &dueAt.String
		}
		if closedAt.Valid {
			e.ClosedAt = &closedAt.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- change requests ---

func (r Repo) InsertChangeRequest(ctx context.Context, c domain.ChangeRequest) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO change_requests(id,project_id,seq,title,delivery_status,decision_status,review_by,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Seq, c.Title, c.DeliveryStatus, nullable(c.DecisionStatus), nullableStringPtr(c.ReviewBy), c.UpdatedAt)
	return err
}

func (r Repo) NextChangeSeq(ctx context.Context, projectID string) (int, error) {
	var max sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM change_requests WHERE project_id=?`, projectID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

// ListChangeRequests ignores ListFilters.Statuses/NotStatuses: change
// rows carry two status columns, so callers filter those in memory.
func (r Repo) ListChangeRequests(ctx context.Context, f ListFilters) ([]domain.ChangeRequest, error) {
	res, err := r.listChangeRequests(ctx, f, false)
	if errors.Is(err, ErrNoSuchColumn) {
		res, err = r.listChangeRequests(ctx, f, true)
	}
	return res, err
}

func (r Repo) listChangeRequests(ctx context.Context, f ListFilters, reduced bool) ([]domain.ChangeRequest, error) {
	cols := `id,project_id,seq,title,delivery_status,decision_status,review_by,updated_at`
	if reduced {
		cols = `id,project_id,seq,title,delivery_status,updated_at`
	}
	clauses := []string{"1=1"}
	var args []any
	if len(f.ProjectIDs) > 0 {
		c, a := inClause("project_id", f.ProjectIDs)
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	limit, largs := f.limitSQL()
	query := `SELECT ` + cols + ` FROM change_requests ` + where + ` ORDER BY project_id, seq` + limit
	rows, err := r.DB.QueryContext(ctx, query, append(args, largs...)...)
	if err != nil {
		return nil, classifyColumnErr(err)
	}
	defer rows.Close()
	var res []domain.ChangeRequest
	for rows.Next() {
		var c domain.ChangeRequest
		var decision, reviewBy sql.NullString
		var scanErr error
		if reduced {
			scanErr = rows.Scan(&c.ID, &c.ProjectID, &c.Seq, &c.Title, &c.DeliveryStatus, &c.UpdatedAt)
		} else {
			scanErr = rows.Scan(&c.ID, &c.ProjectID, &c.Seq, &c.Title, &c.DeliveryStatus, &decision, &reviewBy, &c.UpdatedAt)
		}
		if scanErr != nil {
			return nil, scanErr
		}
		c.DecisionStatus = decision.String
		if reviewBy.Valid {
			c.ReviewBy = &reviewBy.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
