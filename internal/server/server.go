package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ugchub/internal/catalog"
	"ugchub/internal/domain"
	"ugchub/internal/engine"
	"ugchub/internal/engine/auth"
	"ugchub/internal/metrics"
	"ugchub/internal/onboarding"
	"ugchub/internal/planner"
	"ugchub/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	BasePath   string
	Auth       AuthConfig
	Metrics    *metrics.Metrics
	Onboarding onboarding.Store
	// PollInterval is the stream fallback polling period.
	PollInterval time.Duration
	// Heartbeat is the SSE keep-alive period.
	Heartbeat time.Duration
	Logger    *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"application app-1: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"priority\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] { return &output[T]{Body: v} }

// New returns an HTTP handler exposing the UGC Hub API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Engine.Logger
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware)
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.ResolveAPIKey))
	hcfg := huma.DefaultConfig("UGC Hub API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTemplates(group, cfg.Engine)
	registerOpportunities(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerDeliverables(group, cfg.Engine)
	registerThreads(group, cfg.Engine)
	registerOnboarding(group, cfg.Engine, cfg.Onboarding, cfg.Logger)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevTokens {
		registerDevAuth(group, cfg.Auth)
	}
	registerStream(router, basePath, cfg)
	registerOpenAPI(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}

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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound),
		errors.Is(err, catalog.ErrTemplateNotFound),
		errors.Is(err, onboarding.ErrNoFallback):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, planner.ErrEmptyTemplate):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			if _, ok := op.Responses["default"]; ok {
				continue
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	open := map[string]bool{
		path.Join("/", basePath, "health"):    true,
		path.Join("/", basePath, "dev/token"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>UGC Hub API Docs</title>
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
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List deliverable templates",
	}, func(ctx context.Context, _ *struct{}) (*output[[]TemplateSummary], error) {
		return reply(templateSummaries(e.Catalog.List())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*output[catalog.Template], error) {
		tpl, err := e.Catalog.Get(input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tpl), nil
	})
}

func registerOpportunities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-opportunity",
		Method:        http.MethodPost,
		Path:          "/opportunities",
		Summary:       "Create opportunity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOpportunityRequest `json:"body"`
	}) (*output[domain.Opportunity], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opp, err := e.CreateOpportunity(ctx, actor, engine.CreateOpportunityOptions{
			ID:          input.Body.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			BudgetCents: input.Body.BudgetCents,
			Deadline:    input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(opp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-opportunities",
		Method:      http.MethodGet,
		Path:        "/opportunities",
		Summary:     "List opportunities",
	}, func(ctx context.Context, input *struct {
		AnalystID string `query:"analyst_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*output[[]domain.Opportunity], error) {
		items, err := e.ListOpportunities(ctx, repo.OpportunityFilters{
			AnalystID: input.AnalystID,
			Status:    input.Status,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/opportunities/{opportunity_id}/applications",
		Summary:       "Apply to an opportunity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OpportunityID string       `path:"opportunity_id"`
		Body          ApplyRequest `json:"body" required:"false"`
	}) (*output[domain.Application], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := e.Apply(ctx, actor, engine.ApplyOptions{OpportunityID: input.OpportunityID, Pitch: input.Body.Pitch})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(app), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/opportunities/{opportunity_id}/applications",
		Summary:     "List applications of an opportunity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpportunityID string `path:"opportunity_id"`
	}) (*output[[]domain.Application], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListApplications(ctx, actor, input.OpportunityID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "decide-application",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/decision",
		Summary:     "Approve or reject an application",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ApplicationID string          `path:"application_id"`
		Body          DecisionRequest `json:"body"`
	}) (*output[domain.Application], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := e.DecideApplication(ctx, actor, engine.DecideOptions{
			ApplicationID: input.ApplicationID,
			Decision:      input.Body.Decision,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(app), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "apply-template",
		Method:        http.MethodPost,
		Path:          "/applications/{application_id}/template",
		Summary:       "Create the deliverables of a template for an approved application",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ApplicationID string               `path:"application_id"`
		Body          ApplyTemplateRequest `json:"body"`
	}) (*output[DeliverableListResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ApplyTemplate(ctx, actor, engine.ApplyTemplateOptions{
			ApplicationID: input.ApplicationID,
			TemplateID:    input.Body.TemplateID,
			StartDate:     input.Body.StartDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DeliverableListResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-application-deliverables",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}/deliverables",
		Summary:     "List deliverables of an application with derived status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApplicationID string   `path:"application_id"`
		Status        []string `query:"status"`
	}) (*output[DeliverableListResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDeliverables(ctx, actor, engine.DeliverableQuery{
			ApplicationID: input.ApplicationID,
			Statuses:      input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DeliverableListResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}/status",
		Summary:     "Project status summary",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*output[engine.ProjectStatusView], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.ProjectStatus(ctx, actor, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})
}

func registerDeliverables(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deliverables",
		Method:      http.MethodGet,
		Path:        "/deliverables",
		Summary:     "List the caller's deliverables",
	}, func(ctx context.Context, input *struct {
		Status []string `query:"status"`
	}) (*output[DeliverableListResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDeliverables(ctx, actor, engine.DeliverableQuery{Statuses: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DeliverableListResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-deliverable",
		Method:      http.MethodPatch,
		Path:        "/deliverables/{deliverable_id}",
		Summary:     "Update deliverable status, feedback, priority or tags",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		DeliverableID string                   `path:"deliverable_id"`
		Body          UpdateDeliverableRequest `json:"body"`
	}) (*output[engine.DeliverableView], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateDeliverable(ctx, actor, updateOptions(input.DeliverableID, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})
}

func registerThreads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-threads",
		Method:      http.MethodGet,
		Path:        "/threads",
		Summary:     "Unified conversation threads of the caller",
	}, func(ctx context.Context, _ *struct{}) (*output[ThreadListResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListThreads(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ThreadListResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "thread-messages",
		Method:      http.MethodGet,
		Path:        "/threads/messages",
		Summary:     "Merged message history of an analyst and creator pair",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AnalystID string `query:"analyst_id" required:"true"`
		CreatorID string `query:"creator_id" required:"true"`
	}) (*output[MessageListResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ThreadMessages(ctx, actor, input.AnalystID, input.CreatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MessageListResponse{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-conversation",
		Method:        http.MethodPost,
		Path:          "/conversations",
		Summary:       "Open a direct conversation with a counterpart",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body StartConversationRequest `json:"body"`
	}) (*output[domain.Conversation], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.StartConversation(ctx, actor, input.Body.CounterpartID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/conversations/{conversation_id}/messages",
		Summary:       "Send a message",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ConversationID string             `path:"conversation_id"`
		Body           SendMessageRequest `json:"body"`
	}) (*output[domain.Message], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SendMessage(ctx, actor, input.ConversationID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-thread-details",
		Method:      http.MethodPut,
		Path:        "/conversations/{conversation_id}/details",
		Summary:     "Set custom title and tags of a thread",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string               `path:"conversation_id"`
		Body           ThreadDetailsRequest `json:"body"`
	}) (*output[domain.Conversation], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SaveThreadDetails(ctx, actor, input.ConversationID, input.Body.CustomTitle, input.Body.Tags)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})
}

func registerOnboarding(api huma.API, e engine.Engine, store onboarding.Store, logger *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-onboarding",
		Method:      http.MethodPost,
		Path:        "/onboarding",
		Summary:     "Submit the caller's profile",
		Description: "When the store rejects the submission for a reason other than invalid input, the data is kept as a fallback and 202 is returned.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body engine.ProfileInput `json:"body"`
	}) (*struct {
		Status int
		Body   OnboardingResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitOnboarding(ctx, actor, input.Body)
		if err == nil {
			return &struct {
				Status int
				Body   OnboardingResponse `json:"body"`
			}{Status: http.StatusOK, Body: OnboardingResponse{Profile: &p}}, nil
		}
		var ve engine.ValidationError
		if errors.As(err, &ve) || auth.IsForbidden(err) {
			return nil, handleError(err)
		}
		if saveErr := store.Save(actor.ID, input.Body, err); saveErr != nil {
			logger.Error("save onboarding fallback", zap.String("user_id", actor.ID), zap.Error(saveErr))
			return nil, handleError(err)
		}
		logger.Warn("onboarding submission failed; fallback saved", zap.String("user_id", actor.ID), zap.Error(err))
		return &struct {
			Status int
			Body   OnboardingResponse `json:"body"`
		}{Status: http.StatusAccepted, Body: OnboardingResponse{FallbackSaved: true, Error: err.Error()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recover-onboarding",
		Method:      http.MethodPost,
		Path:        "/onboarding/recover",
		Summary:     "Merge or discard a saved onboarding fallback",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RecoverOnboardingRequest `json:"body"`
	}) (*output[OnboardingResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var merged *domain.Profile
		err := store.Recover(ctx, actor.ID, input.Body.Mode, func(ctx context.Context, data json.RawMessage) error {
			var in engine.ProfileInput
			if err := json.Unmarshal(data, &in); err != nil {
				return err
			}
			p, err := e.SubmitOnboarding(ctx, actor, in)
			if err != nil {
				return err
			}
			merged = &p
			return nil
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(OnboardingResponse{Profile: merged}), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		var profile *domain.Profile
		if p, err := e.GetProfile(ctx, principal.Actor.ID); err == nil {
			profile = &p
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return reply(whoAmI(principal, profile)), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/dev/token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest `json:"body"`
	}) (*output[DevTokenResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, authCfg.Issuer, actor, input.Body.Role, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevTokenResponse{Token: token}), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
