package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"starbridge/internal/domain"
	"starbridge/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"system reactor not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Starbridge API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Starbridge API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", promhttp.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerShips(group, cfg.Engine)
	registerEntities(group, cfg.Engine, domain.KindSystem, "systems")
	registerEntities(group, cfg.Engine, domain.KindAsset, "assets")
	registerReset(group, cfg.Engine)
	registerScenarios(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerPosture(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
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
    <title>Starbridge API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; when the server has a JWT secret.
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

type shipPath struct {
	ShipID string `path:"ship_id"`
}

func registerShips(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ship",
		Method:        http.MethodPost,
		Path:          "/ships",
		Summary:       "Create ship",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateShipRequest `json:"body"`
	}) (*struct {
		Body domain.Ship `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		seed := true
		if input.Body.Seed != nil {
			seed = *input.Body.Seed
		}
		ship, err := e.CreateShip(ctx, engine.ShipCreateOptions{ID: input.Body.ID, Name: input.Body.Name, Seed: seed})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ship `json:"body"`
		}{Body: ship}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ships",
		Method:      http.MethodGet,
		Path:        "/ships",
		Summary:     "List ships",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ShipListResponse `json:"body"`
	}, error) {
		items, err := e.ListShips(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShipListResponse `json:"body"`
		}{Body: ShipListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ship",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}",
		Summary:     "Ship overview with systems, assets and posture",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipPath) (*struct {
		Body engine.ShipOverview `json:"body"`
	}, error) {
		ov, err := e.Overview(ctx, input.ShipID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ShipOverview `json:"body"`
		}{Body: ov}, nil
	})
}

type entityPath struct {
	ShipID string `path:"ship_id"`
	ID     string `path:"id"`
}

// registerEntities wires the CRUD routes for one entity kind. Systems and
// assets share the handlers and differ only by path.
func registerEntities(api huma.API, e engine.Engine, kind, plural string) {
	collection := "/ships/{ship_id}/" + plural
	item := collection + "/{id}"

	huma.Register(api, huma.Operation{
		OperationID:   "create-" + kind,
		Method:        http.MethodPost,
		Path:          collection,
		Summary:       "Create " + kind,
		Tags:          []string{plural},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ShipID string              `path:"ship_id"`
		Body   CreateEntityRequest `json:"body"`
	}) (*struct {
		Body domain.EntityState `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		st, err := e.CreateEntity(ctx, input.Body.options(input.ShipID, kind))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EntityState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-" + plural,
		Method:      http.MethodGet,
		Path:        collection,
		Summary:     "List " + plural + " with effective status",
		Tags:        []string{plural},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipPath) (*struct {
		Body EntityListResponse `json:"body"`
	}, error) {
		items, err := e.ListEntityStates(ctx, input.ShipID, kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EntityListResponse `json:"body"`
		}{Body: EntityListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-" + kind,
		Method:      http.MethodGet,
		Path:        item,
		Summary:     "Get " + kind,
		Tags:        []string{plural},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*struct {
		Body domain.EntityState `json:"body"`
	}, error) {
		st, err := e.GetEntityState(ctx, input.ShipID, kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EntityState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-" + kind,
		Method:      http.MethodPatch,
		Path:        item,
		Summary:     "Update " + kind + " status, value or dependencies",
		Description: "Status alone derives the value, value alone derives the status, both are stored as given.",
		Tags:        []string{plural},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string              `path:"ship_id"`
		ID     string              `path:"id"`
		Body   UpdateEntityRequest `json:"body"`
	}) (*struct {
		Body domain.EntityState `json:"body"`
	}, error) {
		patch := input.Body.patch()
		if !isGM(ctx) {
			patch.Quiet = false
		}
		st, err := e.UpdateEntity(ctx, input.ShipID, kind, input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EntityState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + kind,
		Method:        http.MethodDelete,
		Path:          item,
		Summary:       "Delete " + kind,
		Tags:          []string{plural},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *entityPath) (*struct{}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteEntity(ctx, input.ShipID, kind, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReset(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reset-systems",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/systems/reset",
		Summary:     "Restore every system to optimal",
		Tags:        []string{"systems"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *shipPath) (*struct {
		Body engine.ResetResult `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		res, err := e.ResetSystems(ctx, input.ShipID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ResetResult `json:"body"`
		}{Body: res}, nil
	})
}

type scenarioPath struct {
	ShipID string `path:"ship_id"`
	ID     string `path:"id"`
}

func registerScenarios(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-scenario",
		Method:        http.MethodPost,
		Path:          "/ships/{ship_id}/scenarios",
		Summary:       "Create scenario",
		Tags:          []string{"scenarios"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ShipID string          `path:"ship_id"`
		Body   ScenarioRequest `json:"body"`
	}) (*struct {
		Body domain.Scenario `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		s, err := e.CreateScenario(ctx, input.Body.options(input.ShipID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Scenario `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scenarios",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}/scenarios",
		Summary:     "List scenarios",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *shipPath) (*struct {
		Body ScenarioListResponse `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		items, err := e.ListScenarios(ctx, input.ShipID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScenarioListResponse `json:"body"`
		}{Body: ScenarioListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scenario",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}/scenarios/{id}",
		Summary:     "Get scenario",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *scenarioPath) (*struct {
		Body domain.Scenario `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		s, err := e.GetScenario(ctx, input.ShipID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Scenario `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-scenario",
		Method:      http.MethodPut,
		Path:        "/ships/{ship_id}/scenarios/{id}",
		Summary:     "Replace scenario",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string          `path:"ship_id"`
		ID     string          `path:"id"`
		Body   ScenarioRequest `json:"body"`
	}) (*struct {
		Body domain.Scenario `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		opts := input.Body.options(input.ShipID)
		opts.ID = input.ID
		s, err := e.UpdateScenario(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Scenario `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-scenario",
		Method:        http.MethodDelete,
		Path:          "/ships/{ship_id}/scenarios/{id}",
		Summary:       "Delete scenario",
		Tags:          []string{"scenarios"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *scenarioPath) (*struct{}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		if err := e.DeleteScenario(ctx, input.ShipID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-scenario",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/scenarios/{id}/execute",
		Summary:     "Execute scenario",
		Description: "Runs every action in order. Failed actions are reported in errors and never stop the run.",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *scenarioPath) (*struct {
		Body engine.ExecutionResult `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		res, err := e.ExecuteScenario(ctx, input.ShipID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExecutionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rehearse-scenario",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/scenarios/{id}/rehearse",
		Summary:     "Dry-run scenario",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *scenarioPath) (*struct {
		Body engine.Rehearsal `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		out, err := e.RehearseScenario(ctx, input.ShipID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Rehearsal `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rehearse-actions",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/rehearse",
		Summary:     "Dry-run an unsaved action list",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string          `path:"ship_id"`
		Body   ActionListRequest `json:"body"`
	}) (*struct {
		Body engine.Rehearsal `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		out, err := e.RehearseActions(ctx, input.ShipID, input.Body.Actions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Rehearsal `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-actions",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/execute",
		Summary:     "Execute an unsaved action list",
		Description: "Runs the list like a stored scenario, including the scenario_executed summary event.",
		Tags:        []string{"scenarios"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string            `path:"ship_id"`
		Body   ActionListRequest `json:"body"`
	}) (*struct {
		Body engine.ExecutionResult `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		out, err := e.ExecuteActions(ctx, input.ShipID, input.Body.Actions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExecutionResult `json:"body"`
		}{Body: out}, nil
	})
}

type taskPath struct {
	ShipID string `path:"ship_id"`
	ID     string `path:"id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/ships/{ship_id}/tasks",
		Summary:       "Create task",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ShipID string            `path:"ship_id"`
		Body   CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		t, err := e.CreateTask(ctx, input.Body.options(input.ShipID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}/tasks",
		Summary:     "List tasks",
		Description: "Overdue tasks are expired and their on_expire actions run before listing.",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string `path:"ship_id"`
		Status string `query:"status" enum:"pending,active,succeeded,failed,expired"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.ShipID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}/tasks/{id}",
		Summary:     "Get task",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ShipID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/tasks/{id}/claim",
		Summary:     "Claim task",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ShipID string            `path:"ship_id"`
		ID     string            `path:"id"`
		Body   *ClaimTaskRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor := ""
		if input.Body != nil {
			actor = input.Body.Actor
		}
		if actor == "" {
			if p, ok := principalFromContext(ctx); ok {
				actor = p.Subject
			}
		}
		t, err := e.ClaimTask(ctx, input.ShipID, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/ships/{ship_id}/tasks/{id}/complete",
		Summary:     "Complete task and run its outcome actions",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string              `path:"ship_id"`
		ID     string              `path:"id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body engine.TaskCompletion `json:"body"`
	}, error) {
		res, err := e.CompleteTask(ctx, input.ShipID, input.ID, input.Body.Outcome)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TaskCompletion `json:"body"`
		}{Body: res}, nil
	})
}

func registerPosture(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-postures",
		Method:      http.MethodGet,
		Path:        "/postures",
		Summary:     "List configured postures",
		Tags:        []string{"posture"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PostureListResponse `json:"body"`
	}, error) {
		return &struct {
			Body PostureListResponse `json:"body"`
		}{Body: PostureListResponse{Items: e.Postures()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-posture",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}/posture",
		Summary:     "Get posture and rules of engagement",
		Tags:        []string{"posture"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipPath) (*struct {
		Body domain.PostureState `json:"body"`
	}, error) {
		p, err := e.GetPosture(ctx, input.ShipID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PostureState `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-posture",
		Method:      http.MethodPut,
		Path:        "/ships/{ship_id}/posture",
		Summary:     "Set posture",
		Description: "Replaces the rules of engagement with the configured preset.",
		Tags:        []string{"posture"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string            `path:"ship_id"`
		Body   SetPostureRequest `json:"body"`
	}) (*struct {
		Body domain.PostureState `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		p, err := e.SetPosture(ctx, input.ShipID, input.Body.Posture)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PostureState `json:"body"`
		}{Body: p}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/ships/{ship_id}/events",
		Summary:     "Poll the event feed",
		Description: "Returns events with id greater than after_id in ascending order. Players only see transmitted events.",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID      string `path:"ship_id"`
		AfterID     int64  `query:"after_id"`
		Limit       int    `query:"limit" default:"100"`
		Type        string `query:"type"`
		Transmitted string `query:"transmitted" enum:"true,false"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		q := engine.EventQuery{AfterID: input.AfterID, Limit: input.Limit, Type: input.Type}
		if input.Transmitted != "" {
			v, err := strconv.ParseBool(input.Transmitted)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid transmitted filter", map[string]any{"transmitted": input.Transmitted})
			}
			q.Transmitted = &v
		}
		if !isGM(ctx) {
			yes := true
			q.Transmitted = &yes
		}
		items, err := e.ListEvents(ctx, input.ShipID, q)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Items: items, LastID: input.AfterID}
		if n := len(items); n > 0 {
			resp.LastID = items[n-1].ID
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-event",
		Method:      http.MethodPatch,
		Path:        "/ships/{ship_id}/events/{id}",
		Summary:     "Set the transmitted flag",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipID string             `path:"ship_id"`
		ID     int64              `path:"id"`
		Body   UpdateEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		if err := requireGM(ctx); err != nil {
			return nil, err
		}
		evt, err := e.SetEventTransmitted(ctx, input.ShipID, input.ID, input.Body.Transmitted)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: evt}, nil
	})
}
