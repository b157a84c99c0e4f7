package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"helmsman/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Name, u.Email, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// GetUsers resolves many users in one round-trip. Unknown ids are
// simply absent from the result map.
func (r Repo) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	res := map[string]domain.User{}
	if len(ids) == 0 {
		return res, nil
	}
	clause, args := inClause("id", ids)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,created_at FROM users WHERE `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		res[u.ID] = u
	}
	return res, rows.Err()
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,code,slug,name,status,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, nullable(p.Code), nullable(p.Slug), p.Name, p.Status, p.CreatedAt)
	return err
}

func scanProjects(rows *sql.Rows) ([]domain.Project, error) {
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var code, slug sql.NullString
		if err := rows.Scan(&p.ID, &code, &slug, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Code = code.String
		p.Slug = slug.String
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var code, slug sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,code,slug,name,status,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &code, &slug, &p.Name, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Code = code.String
	p.Slug = slug.String
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,slug,name,status,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

func (r Repo) GetProjects(ctx context.Context, ids []string) ([]domain.Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	clause, args := inClause("id", ids)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,slug,name,status,created_at FROM projects WHERE `+clause, args...)
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// FindProjectIDByColumn probes one candidate lookup column. A missing
// column yields ErrNoSuchColumn so resolution can move to the next
// candidate without treating it as a store failure.
func (r Repo) FindProjectIDByColumn(ctx context.Context, column, value string) (string, error) {
	allowed := map[string]bool{"code": true, "legacy_code": true, "slug": true, "name": true}
	if !allowed[column] {
		return "", fmt.Errorf("lookup column %s not allowed", column)
	}
	var id string
	err := r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM projects WHERE %s=? LIMIT 1`, column), value).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", classifyColumnErr(err)
	}
	return id, nil
}

func (r Repo) InsertMembership(ctx context.Context, m domain.Membership) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO memberships(project_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`,
		m.ProjectID, m.UserID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) GetMembership(ctx context.Context, projectID, userID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,user_id,role,created_at FROM memberships WHERE project_id=? AND user_id=?`,
		projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// ListMemberships returns all memberships for a set of projects in one
// query, ordered so that owner rows come first per project.
func (r Repo) ListMemberships(ctx context.Context, projectIDs []string) ([]domain.Membership, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	clause, args := inClause("project_id", projectIDs)
	query := `SELECT project_id,user_id,role,created_at FROM memberships WHERE ` + clause + `
ORDER BY project_id, CASE role WHEN 'owner' THEN 0 WHEN 'manager' THEN 1 ELSE 2 END, created_at`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// VisibleProjectIDs lists projects a user belongs to, newest first.
func (r Repo) VisibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.id FROM projects p
JOIN memberships m ON m.project_id = p.id
WHERE m.user_id=? ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id,user_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		k.ID, k.UserID, nullable(k.Name), k.KeyHash, k.CreatedAt)
	return err
}

func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,name,key_hash,created_at FROM api_keys WHERE key_hash=?`, hash).
		Scan(&k.ID, &k.UserID, &name, &k.KeyHash, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	k.Name = name.String
	return k, err
}

func (r Repo) InsertReportSnapshot(ctx context.Context, s domain.ReportSnapshot) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reports(id,project_id,period_from,period_to,doc_json,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.PeriodFrom, s.PeriodTo, s.DocJSON, s.CreatedBy, s.CreatedAt)
	return err
}

func (r Repo) ListReportSnapshots(ctx context.Context, projectID string, limit int) ([]domain.ReportSnapshot, error) {
	query := `SELECT id,project_id,period_from,period_to,doc_json,created_by,created_at FROM reports WHERE project_id=? ORDER BY created_at DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReportSnapshot
	for rows.Next() {
		var s domain.ReportSnapshot
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.PeriodFrom, &s.PeriodTo, &s.DocJSON, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var pid, eid, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &pid, &e.EntityKind, &eid, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = pid.String
		e.EntityID = eid.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
