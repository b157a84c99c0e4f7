package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"helmsman/internal/config"
	"helmsman/internal/db"
	"helmsman/internal/domain"
	"helmsman/internal/engine"
	"helmsman/internal/migrate"
	"helmsman/internal/repo"
)

const testJWTSecret = "test-secret"

var serverNow = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

type testServer struct {
	base string
	eng  engine.Engine
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("default"))
	eng.Now = func() time.Time { return serverNow }

	handler, err := New(Config{Engine: eng, Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return testServer{base: "http://" + ln.Addr().String() + "/v0", eng: eng}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func authHeaders(t *testing.T, subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, subject)}
}

func TestHealthUnauthenticated(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.base+"/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("body %s", body)
	}
}

func TestRequestsWithoutCredentialsRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.base+"/projects", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.base+"/projects", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.base+"/projects", nil, map[string]string{
		"X-Api-Key": "unknown-key",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key status %d", resp.StatusCode)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	if err := ts.eng.EnsureUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	rawKey := "hm_live_abc123"
	if err := ts.eng.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID: "k1", UserID: "u1", Name: "ci", KeyHash: repo.HashAPIKey(rawKey), CreatedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, ts.base+"/projects", nil, map[string]string{"X-Api-Key": rawKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestCreateAndResolveProject(t *testing.T) {
	ts := newTestServer(t)
	headers := authHeaders(t, "u1")
	if err := ts.eng.EnsureUser(context.Background(), domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.base+"/projects", CreateProjectRequest{
		Code: "1042", Slug: "migration", Name: "Data Migration", OwnerUserID: "u1",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, body)
	}
	var created ProjectResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID == "" || created.Status != "active" {
		t.Fatalf("created %+v", created)
	}

	for _, ref := range []string{created.ID, "PRJ-1042", "1042", "migration"} {
		resp, body := doJSON(t, http.MethodGet, ts.base+"/projects/"+ref, nil, headers)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get %q status %d: %s", ref, resp.StatusCode, body)
		}
		var got ProjectResponse
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != created.ID {
			t.Fatalf("ref %q resolved to %q, want %q", ref, got.ID, created.ID)
		}
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.base+"/projects", CreateProjectRequest{Code: "1"}, authHeaders(t, "u1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.base+"/projects/PRJ-9999", nil, authHeaders(t, "u1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Body apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Body.Code != "not_found" {
		t.Fatalf("error code %q: %s", out.Body.Code, body)
	}
}

func TestProjectEndpointsRequireMembership(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if err := ts.eng.EnsureUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1042", Name: "Migration", OwnerUserID: "u1", ActorID: "u1"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	// An authenticated non-member cannot read the project or learn it exists.
	outsider := authHeaders(t, "u2")
	for _, path := range []string{
		"/projects/PRJ-1042",
		"/projects/PRJ-1042/digest",
		"/projects/PRJ-1042/reports",
	} {
		resp, body := doJSON(t, http.MethodGet, ts.base+path, nil, outsider)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status %d, want 404: %s", path, resp.StatusCode, body)
		}
	}
	resp, body := doJSON(t, http.MethodPost, ts.base+"/projects/PRJ-1042/report", GenerateReportRequest{
		PeriodFrom: "2026-08-01", PeriodTo: "2026-08-31",
	}, outsider)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("report status %d, want 404: %s", resp.StatusCode, body)
	}

	// The owner reads it fine.
	resp, body = doJSON(t, http.MethodGet, ts.base+"/projects/PRJ-1042", nil, authHeaders(t, "u1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner status %d: %s", resp.StatusCode, body)
	}
}

func TestProjectDigest(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	headers := authHeaders(t, "u1")

	if err := ts.eng.EnsureUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	p, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1001", Name: "Rollout", OwnerUserID: "u1", ActorID: "u1"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	due := "2026-09-03"
	if err := ts.eng.Repo.InsertWorkItem(ctx, domain.WorkItem{
		ID: "w1", ProjectID: p.ID, Title: "Open task", Status: "open", DueAt: &due, UpdatedAt: "2026-08-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert work item: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, ts.base+"/projects/PRJ-1001/digest?window_days=14", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var d engine.Digest
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Summary != "1 item due within the next 14 days across 1 project." {
		t.Fatalf("summary %q", d.Summary)
	}
	if d.Counts.WorkItem != 1 || len(d.DueItems) != 1 {
		t.Fatalf("digest %+v", d)
	}
	if d.DueItems[0].Link != "/projects/PRJ-1001/wbs?focus=w1" {
		t.Fatalf("link %q", d.DueItems[0].Link)
	}
}

func TestPortfolioDigestScopedToMemberships(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if err := ts.eng.EnsureUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	mine, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1001", Name: "Mine", OwnerUserID: "u1", ActorID: "u1"})
	if err != nil {
		t.Fatalf("create mine: %v", err)
	}
	other, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1002", Name: "Other", ActorID: "u2"})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	due := "2026-09-03"
	for i, pid := range []string{mine.ID, other.ID} {
		wi := domain.WorkItem{
			ID: fmt.Sprintf("w%d", i+1), ProjectID: pid, Title: "Task", Status: "open",
			DueAt: &due, UpdatedAt: "2026-08-01T00:00:00Z",
		}
		if err := ts.eng.Repo.InsertWorkItem(ctx, wi); err != nil {
			t.Fatalf("insert work item: %v", err)
		}
	}

	resp, body := doJSON(t, http.MethodGet, ts.base+"/digest", nil, authHeaders(t, "u1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var d engine.Digest
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Counts.Total != 1 {
		t.Fatalf("total %d, want only the caller's project", d.Counts.Total)
	}
	if len(d.DueItems) != 1 || d.DueItems[0].ProjectID != mine.ID {
		t.Fatalf("due items %+v", d.DueItems)
	}
}

func TestPortfolioDigestAdminSeesAllProjects(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for i, name := range []string{"Alpha", "Beta"} {
		p, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: fmt.Sprintf("100%d", i+1), Name: name, ActorID: "admin"})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		due := "2026-09-03"
		wi := domain.WorkItem{
			ID: fmt.Sprintf("w%d", i+1), ProjectID: p.ID, Title: "Task", Status: "open",
			DueAt: &due, UpdatedAt: "2026-08-01T00:00:00Z",
		}
		if err := ts.eng.Repo.InsertWorkItem(ctx, wi); err != nil {
			t.Fatalf("insert work item: %v", err)
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"admin"},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, ts.base+"/digest", nil, map[string]string{"Authorization": "Bearer " + signed})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var d engine.Digest
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Counts.Total != 2 {
		t.Fatalf("total %d, want both projects for admin", d.Counts.Total)
	}
}

func TestGenerateReport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	headers := authHeaders(t, "u1")

	if err := ts.eng.EnsureUser(ctx, domain.User{ID: "u1", Name: "Dana", Email: "dana@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	p, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1001", Name: "Rollout", OwnerUserID: "u1", ActorID: "u1"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	done := "2026-08-10"
	if err := ts.eng.Repo.InsertMilestone(ctx, domain.Milestone{
		ID: "m1", ProjectID: p.ID, Title: "Discovery", Status: "done", DoneAt: &done, UpdatedAt: "2026-08-10T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert milestone: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.base+"/projects/PRJ-1001/report", GenerateReportRequest{
		PeriodFrom: "01/08/2026",
		PeriodTo:   "2026-08-31",
		Save:       true,
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var res engine.ReportResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Report.Metrics.MilestonesDone != 1 {
		t.Fatalf("metrics %+v", res.Report.Metrics)
	}
	if res.SnapshotID == "" {
		t.Fatal("expected snapshot id")
	}

	resp, body = doJSON(t, http.MethodGet, ts.base+"/projects/PRJ-1001/reports", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", resp.StatusCode, body)
	}
	var snaps []ReportSnapshotResponse
	if err := json.Unmarshal(body, &snaps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != res.SnapshotID {
		t.Fatalf("snapshots %+v", snaps)
	}
	if snaps[0].PeriodFrom != "2026-08-01" {
		t.Fatalf("period from %q", snaps[0].PeriodFrom)
	}
}

func TestGenerateReportBadPeriod(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	headers := authHeaders(t, "u1")

	if _, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1001", Name: "Rollout", ActorID: "u1"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.base+"/projects/PRJ-1001/report", GenerateReportRequest{
		PeriodFrom: "not a date",
		PeriodTo:   "2026-08-31",
	}, headers)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Body apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Body.Message != "unparseable period bound: period_from" {
		t.Fatalf("message %q", out.Body.Message)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	headers := authHeaders(t, "u1")

	p, err := ts.eng.CreateProject(ctx, engine.ProjectCreateOptions{Code: "1001", Name: "Rollout", ActorID: "u1"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, ts.base+"/events?type=project.created", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var evts []EventResponse
	if err := json.Unmarshal(body, &evts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("got %d events, want 1", len(evts))
	}
	if evts[0].ProjectID != p.ID || evts[0].ActorID != "u1" {
		t.Fatalf("event %+v", evts[0])
	}
	if evts[0].Payload["name"] != "Rollout" {
		t.Fatalf("payload %+v", evts[0].Payload)
	}
}
