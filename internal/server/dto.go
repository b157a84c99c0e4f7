package server

import (
	"encoding/json"

	"helmsman/internal/domain"
)

type CreateProjectRequest struct {
	Code        string `json:"code,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Name        string `json:"name"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
}

type ProjectResponse struct {
	ID        string `json:"id"`
	Code      string `json:"code,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		Code:      p.Code,
		Slug:      p.Slug,
		Name:      p.Name,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

// GenerateReportRequest carries period bounds as strings so the same
// formats the digest accepts (RFC 3339, bare dates, DD/MM/YYYY) work here.
type GenerateReportRequest struct {
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	WindowDays int    `json:"window_days,omitempty"`
	Save       bool   `json:"save,omitempty"`
}

type ReportSnapshotResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	CreatedBy  string `json:"created_by,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func mapSnapshots(items []domain.ReportSnapshot) []ReportSnapshotResponse {
	out := make([]ReportSnapshotResponse, 0, len(items))
	for _, s := range items {
		out = append(out, ReportSnapshotResponse{
			ID:         s.ID,
			ProjectID:  s.ProjectID,
			PeriodFrom: s.PeriodFrom,
			PeriodTo:   s.PeriodTo,
			CreatedBy:  s.CreatedBy,
			CreatedAt:  s.CreatedAt,
		})
	}
	return out
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, ev := range items {
		resp := EventResponse{
			ID:         ev.ID,
			TS:         ev.TS,
			Type:       ev.Type,
			ProjectID:  ev.ProjectID,
			EntityKind: ev.EntityKind,
			EntityID:   ev.EntityID,
			ActorID:    ev.ActorID,
		}
		if ev.Payload != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(ev.Payload), &payload); err == nil {
				resp.Payload = payload
			}
		}
		out = append(out, resp)
	}
	return out
}
