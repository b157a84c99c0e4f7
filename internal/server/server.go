package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"helmsman/internal/dates"
	"helmsman/internal/engine"
	"helmsman/internal/repo"
	"helmsman/internal/resolve"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"unparseable period bound"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Helmsman API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Helmsman API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerDigest(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, resolve.ErrBadReference) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unparseable"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Helmsman API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Code:        input.Body.Code,
			Slug:        input.Body.Slug,
			Name:        input.Body.Name,
			OwnerUserID: input.Body.OwnerUserID,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{ref}",
		Summary:     "Get project",
		Description: "Ref accepts a canonical id, a project code (optionally prefixed), a slug, or an exact name.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		meta, err := e.ResolveProject(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		if accessErr := projectAccess(ctx, e, meta.CanonicalID); accessErr != nil {
			return nil, accessErr
		}
		p, err := e.Repo.GetProject(ctx, meta.CanonicalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

// projectAccess admits project members and admin principals. Everyone
// else gets not-found so project references stay unguessable.
func projectAccess(ctx context.Context, e engine.Engine, projectID string) huma.StatusError {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	for _, role := range p.Roles {
		if strings.EqualFold(role, "admin") {
			return nil
		}
	}
	_, err := e.Repo.GetMembership(ctx, projectID, p.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	if err != nil {
		return handleError(err)
	}
	return nil
}

// visibleProjects scopes the portfolio to the caller's memberships.
// Admin principals see every project.
func visibleProjects(ctx context.Context, e engine.Engine) ([]string, error) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return nil, nil
	}
	for _, role := range p.Roles {
		if strings.EqualFold(role, "admin") {
			projects, err := e.Repo.ListProjects(ctx)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(projects))
			for _, prj := range projects {
				ids = append(ids, prj.ID)
			}
			return ids, nil
		}
	}
	return e.Repo.VisibleProjectIDs(ctx, p.UserID)
}

func registerDigest(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "portfolio-digest",
		Method:      http.MethodGet,
		Path:        "/digest",
		Summary:     "Portfolio due digest",
		Description: "Aggregates due items across every project visible to the caller.",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		WindowDays int `query:"window_days"`
	}) (*struct {
		Body engine.Digest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectIDs, err := visibleProjects(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.DueDigest(ctx, engine.DigestOptions{
			ProjectIDs: projectIDs,
			WindowDays: input.WindowDays,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Digest `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-digest",
		Method:      http.MethodGet,
		Path:        "/projects/{ref}/digest",
		Summary:     "Project due digest",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Ref        string `path:"ref"`
		WindowDays int    `query:"window_days"`
	}) (*struct {
		Body engine.Digest `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		meta, err := e.ResolveProject(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		if accessErr := projectAccess(ctx, e, meta.CanonicalID); accessErr != nil {
			return nil, accessErr
		}
		d, err := e.DueDigest(ctx, engine.DigestOptions{
			ProjectRef: meta.CanonicalID,
			WindowDays: input.WindowDays,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Digest `json:"body"`
		}{Body: d}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-report",
		Method:        http.MethodPost,
		Path:          "/projects/{ref}/report",
		Summary:       "Generate delivery report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Ref  string                `path:"ref"`
		Body GenerateReportRequest `json:"body"`
	}) (*struct {
		Body engine.ReportResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		from := dates.Normalize(input.Body.PeriodFrom)
		if from == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unparseable period bound: period_from", map[string]any{"field": "period_from"})
		}
		to := dates.Normalize(input.Body.PeriodTo)
		if to == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unparseable period bound: period_to", map[string]any{"field": "period_to"})
		}
		meta, err := e.ResolveProject(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		if accessErr := projectAccess(ctx, e, meta.CanonicalID); accessErr != nil {
			return nil, accessErr
		}
		res, err := e.DeliveryReport(ctx, engine.ReportOptions{
			ProjectRef: meta.CanonicalID,
			PeriodFrom: *from,
			PeriodTo:   *to,
			WindowDays: input.Body.WindowDays,
			Save:       input.Body.Save,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-snapshots",
		Method:      http.MethodGet,
		Path:        "/projects/{ref}/reports",
		Summary:     "List saved report snapshots",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref   string `path:"ref"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body []ReportSnapshotResponse `json:"body"`
	}, error) {
		meta, err := e.ResolveProject(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		if accessErr := projectAccess(ctx, e, meta.CanonicalID); accessErr != nil {
			return nil, accessErr
		}
		snaps, err := e.Repo.ListReportSnapshots(ctx, meta.CanonicalID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReportSnapshotResponse `json:"body"`
		}{Body: mapSnapshots(snaps)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit     int    `query:"limit" default:"50"`
		ProjectID string `query:"project_id"`
		Type      string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
