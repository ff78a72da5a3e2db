// Package server exposes the war room over HTTP: proposals, missions,
// events, agent state, and a dispatch endpoint for driving steps manually.
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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"warroom/internal/config"
	"warroom/internal/domain"
	"warroom/internal/executor"
	"warroom/internal/mission"
	"warroom/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Repo     repo.Repo
	Builder  mission.Builder
	Exec     executor.Executor
	App      *config.Config
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"proposal not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Warroom API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Warroom API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg)
	registerProposals(group, cfg)
	registerMissions(group, cfg)
	registerDispatch(group, cfg)
	registerEvents(group, cfg)
	registerAgents(group, cfg)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not pending"),
		strings.Contains(lowered, "already"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Warroom API Docs</title>
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

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "War room status summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		proposals, err := cfg.Repo.CountProposalsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		missions, err := cfg.Repo.CountMissionsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		agents, err := cfg.Repo.ListAgentStates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := cfg.Repo.LoadRunState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"proposals": proposals,
			"missions":  missions,
			"agents":    agents,
			"poller":    state,
		}}, nil
	})
}

func registerProposals(api huma.API, cfg Config) {
	type proposalBody struct {
		Body domain.Proposal `json:"body"`
	}
	type proposalListQuery struct {
		Status string `query:"status" enum:"pending,approved,rejected" required:"false"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals",
	}, func(ctx context.Context, input *proposalListQuery) (*struct {
		Body []domain.Proposal `json:"body"`
	}, error) {
		proposals, err := cfg.Repo.ListProposals(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if proposals == nil {
			proposals = []domain.Proposal{}
		}
		return &struct {
			Body []domain.Proposal `json:"body"`
		}{Body: proposals}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Create a proposal",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Title       string `json:"title" minLength:"1"`
			Description string `json:"description,omitempty"`
			Domain      string `json:"domain,omitempty"`
			Source      string `json:"source,omitempty"`
		} `json:"body"`
	}) (*proposalBody, error) {
		subject, authErr := subjectFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Builder.CreateProposal(ctx, mission.ProposalOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Domain:      input.Body.Domain,
			Source:      input.Body.Source,
			RequestedBy: subject,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &proposalBody{Body: p}, nil
	})

	type proposalPath struct {
		ProposalID string `path:"proposal_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "approve-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/approve",
		Summary:     "Approve a proposal",
	}, func(ctx context.Context, input *proposalPath) (*proposalBody, error) {
		subject, authErr := subjectFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Builder.ApproveProposal(ctx, input.ProposalID, subject)
		if err != nil {
			return nil, handleError(err)
		}
		return &proposalBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/reject",
		Summary:     "Reject a proposal",
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
		Body       struct {
			Reason string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*proposalBody, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := cfg.Builder.RejectProposal(ctx, input.ProposalID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &proposalBody{Body: p}, nil
	})
}

func registerMissions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"queued,running,completed,failed" required:"false"`
		Limit  int    `query:"limit" minimum:"0" required:"false"`
	}) (*struct {
		Body []domain.Mission `json:"body"`
	}, error) {
		missions, err := cfg.Repo.ListMissions(ctx, repo.MissionFilters{Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		if missions == nil {
			missions = []domain.Mission{}
		}
		return &struct {
			Body []domain.Mission `json:"body"`
		}{Body: missions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}",
		Summary:     "Get a mission with its steps",
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		m, err := cfg.Repo.GetMission(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		steps, err := cfg.Repo.ListStepsByMission(ctx, m.ID)
		if err != nil {
			return nil, handleError(err)
		}
		m.Steps = steps
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})
}

func registerDispatch(api huma.API, cfg Config) {
	type dispatchResult struct {
		Body struct {
			Executed bool         `json:"executed"`
			Step     *domain.Step `json:"step,omitempty"`
		} `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-next",
		Method:      http.MethodPost,
		Path:        "/dispatch/next",
		Summary:     "Claim and execute the next queued step",
	}, func(ctx context.Context, _ *struct{}) (*dispatchResult, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		step, err := cfg.Exec.ExecuteNext(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &dispatchResult{}
		out.Body.Executed = step != nil
		out.Body.Step = step
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/dispatch",
		Summary:     "Execute all of a mission's steps sequentially",
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
	}) (*struct {
		Body []domain.Step `json:"body"`
	}, error) {
		if _, authErr := subjectFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := cfg.Repo.GetMission(ctx, input.MissionID); err != nil {
			return nil, handleError(err)
		}
		steps, err := cfg.Exec.ExecuteMission(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		if steps == nil {
			steps = []domain.Step{}
		}
		return &struct {
			Body []domain.Step `json:"body"`
		}{Body: steps}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig) {
	type devLoginResponse struct {
		Token string `json:"token"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
	}, func(ctx context.Context, input *struct {
		Body struct {
			Subject string   `json:"subject" minLength:"1"`
			Roles   []string `json:"roles,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body devLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject is required", nil)
		}
		token, err := signDevToken(auth.JWTSecret, subject, input.Body.Roles, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body devLoginResponse `json:"body"`
		}{Body: devLoginResponse{Token: token}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" minimum:"0" required:"false"`
		Type   string `query:"type" required:"false"`
		Cursor int64  `query:"cursor" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := cfg.Repo.LatestEvents(ctx, limit, input.Type, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

func registerAgents(api huma.API, cfg Config) {
	type agentInfo struct {
		ID      string  `json:"id"`
		Name    string  `json:"name"`
		Domain  string  `json:"domain"`
		Status  string  `json:"status"`
		Mission *string `json:"current_mission_id,omitempty"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List registered agents with their live status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []agentInfo `json:"body"`
	}, error) {
		states, err := cfg.Repo.ListAgentStates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		byID := map[string]domain.AgentState{}
		for _, s := range states {
			byID[s.AgentID] = s
		}
		infos := make([]agentInfo, 0, len(cfg.App.Agents))
		for _, a := range cfg.App.Agents {
			info := agentInfo{ID: a.ID, Name: a.Name, Domain: a.Domain, Status: "idle"}
			if s, ok := byID[a.ID]; ok {
				info.Status = s.Status
				info.Mission = s.CurrentMissionID
			}
			infos = append(infos, info)
		}
		return &struct {
			Body []agentInfo `json:"body"`
		}{Body: infos}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agent-memories",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/memories",
		Summary:     "List an agent's active memories",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
		Limit   int    `query:"limit" minimum:"0" required:"false"`
	}) (*struct {
		Body []domain.Memory `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		memories, err := cfg.Repo.ListActiveMemories(ctx, input.AgentID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		if memories == nil {
			memories = []domain.Memory{}
		}
		return &struct {
			Body []domain.Memory `json:"body"`
		}{Body: memories}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-relationships",
		Method:      http.MethodGet,
		Path:        "/relationships",
		Summary:     "List agent affinity relationships",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Relationship `json:"body"`
	}, error) {
		rels, err := cfg.Repo.ListRelationships(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if rels == nil {
			rels = []domain.Relationship{}
		}
		return &struct {
			Body []domain.Relationship `json:"body"`
		}{Body: rels}, nil
	})
}
