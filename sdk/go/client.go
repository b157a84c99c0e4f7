package helmsmansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Helmsman HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// DueItem is one row of the digest feed.
type DueItem struct {
	Kind        string         `json:"itemKind"`
	Title       string         `json:"title"`
	DueAt       *string        `json:"dueAt"`
	Status      string         `json:"status,omitempty"`
	ProjectID   string         `json:"projectId"`
	ProjectName string         `json:"projectName,omitempty"`
	OwnerName   string         `json:"ownerName,omitempty"`
	OwnerEmail  string         `json:"ownerEmail,omitempty"`
	Link        string         `json:"link,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Digest is the due-item digest response.
type Digest struct {
	Summary            string         `json:"summary"`
	WindowDays         int            `json:"windowDays"`
	RAG                string         `json:"rag"`
	Counts             map[string]int `json:"counts"`
	DueItems           []DueItem      `json:"dueItems"`
	RecommendedMessage string         `json:"recommendedMessage"`
}

// Project represents the API project model.
type Project struct {
	ID        string `json:"id"`
	Code      string `json:"code,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// ReportLine is one bullet of a report section.
type ReportLine struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// Report is the generated delivery report document (partial).
type Report struct {
	Period struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"period"`
	ExecutiveSummary struct {
		RAG       string `json:"rag"`
		Headline  string `json:"headline"`
		Narrative string `json:"narrative"`
	} `json:"executiveSummary"`
	CompletedThisPeriod []ReportLine `json:"completedThisPeriod"`
	NextPeriodFocus     []ReportLine `json:"nextPeriodFocus"`
	ResourceSummary     []ReportLine `json:"resourceSummary"`
	KeyDecisions        []ReportLine `json:"keyDecisions"`
	OperationalBlockers []ReportLine `json:"operationalBlockers"`
}

// ReportResult wraps a generated report with project meta.
type ReportResult struct {
	Project struct {
		CanonicalID string `json:"canonicalId"`
		HumanCode   string `json:"humanCode"`
		Name        string `json:"name"`
	} `json:"project"`
	Report     Report `json:"report"`
	SnapshotID string `json:"snapshotId,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PortfolioDigest fetches the digest across every project visible to the caller.
func (c *Client) PortfolioDigest(ctx context.Context, windowDays int) (Digest, error) {
	endpoint := "v0/digest"
	if windowDays > 0 {
		endpoint = fmt.Sprintf("%s?window_days=%d", endpoint, windowDays)
	}
	var resp Digest
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ProjectDigest fetches the digest for one project. Ref may be a
// canonical id, a code (optionally prefixed), a slug, or an exact name.
func (c *Client) ProjectDigest(ctx context.Context, ref string, windowDays int) (Digest, error) {
	endpoint := fmt.Sprintf("v0/projects/%s/digest", url.PathEscape(ref))
	if windowDays > 0 {
		endpoint = fmt.Sprintf("%s?window_days=%d", endpoint, windowDays)
	}
	var resp Digest
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GenerateReport builds a delivery report for the given period. Dates
// accept the same formats the server normalizes (RFC 3339, bare dates,
// DD-MM-YYYY). Set save to persist a snapshot server-side.
func (c *Client) GenerateReport(ctx context.Context, ref, periodFrom, periodTo string, save bool) (ReportResult, error) {
	body := map[string]any{
		"period_from": periodFrom,
		"period_to":   periodTo,
		"save":        save,
	}
	var resp ReportResult
	endpoint := fmt.Sprintf("v0/projects/%s/report", url.PathEscape(ref))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, code, slug, name string) (Project, error) {
	body := map[string]any{
		"code": code,
		"slug": slug,
		"name": name,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// ListProjects returns every project.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// GetProject fetches a project by reference.
func (c *Client) GetProject(ctx context.Context, ref string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s", url.PathEscape(ref))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
