package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"appraise/internal/domain"
	"appraise/internal/engine"
	"appraise/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"subject instance not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Appraise API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
	hcfg := huma.DefaultConfig("Appraise API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActivities(group, cfg.Engine)
	registerTracks(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerJobAssignments(group, cfg.Engine)
	registerInstances(group, cfg.Engine)
	registerParticipation(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	var batch *engine.BatchError
	if errors.As(err, &batch) {
		return newAPIError(http.StatusInternalServerError, "partial_failure", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already"),
		strings.Contains(lowered, "not closed"),
		strings.Contains(lowered, "awaiting"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "not open"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "missing"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "cannot"),
		strings.Contains(lowered, "needs"),
		strings.Contains(lowered, "does not belong"),
		strings.Contains(lowered, "not manually selectable"):
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
		fmt.Fprint(w, swaggerHTML(basePath))
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
	participationPrefix := path.Join(basePath, "participation")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || strings.HasPrefix(route, participationPrefix) {
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
    <title>Appraise API Docs</title>
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

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Create activity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateActivityRequest `json:"body"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		a, err := e.CreateActivity(ctx, input.Body.Name, relationshipsFromRequest(input.Body.Relationships))
		if err != nil {
			return nil, handleError(err)
		}
		rels, err := e.Repo.ListActivityRelationships(ctx, a.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a, rels)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"draft,active"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListActivities(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ActivityResponse, 0, len(items))
		for _, a := range items {
			res = append(res, activityResponse(a, nil))
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities/{id}",
		Summary:     "Get activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		rels, err := e.Repo.ListActivityRelationships(ctx, a.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a, rels)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-activity",
		Method:      http.MethodPost,
		Path:        "/activities/{id}/activate",
		Summary:     "Activate activity",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		a, err := e.ActivateActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity-settings",
		Method:      http.MethodPatch,
		Path:        "/activities/{id}/settings",
		Summary:     "Update activity sync and closure settings",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                        `path:"id"`
		Body UpdateActivitySettingsRequest `json:"body"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetActivity(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		err := e.Repo.UpdateActivitySettings(ctx, input.ID, repo.ActivitySettings{
			OverrideSyncSettings: input.Body.OverrideSyncSettings,
			SyncCreation:         input.Body.SyncCreation,
			SyncClosure:          input.Body.SyncClosure,
			CloseOnDueDate:       input.Body.CloseOnDueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-status",
		Method:      http.MethodGet,
		Path:        "/activities/{id}/status",
		Summary:     "Activity instance counts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActivityStatusResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountSubjectInstancesByStatus(ctx, a.ID)
		if err != nil {
			return nil, handleError(err)
		}
		participants, err := e.Repo.CountActivityParticipantsByRelationship(ctx, a.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityStatusResponse `json:"body"`
		}{Body: ActivityStatusResponse{
			ActivityID:     a.ID,
			Status:         a.Status,
			InstanceCounts: counts,
			Participants:   participants,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-activity-instances",
		Method:      http.MethodPost,
		Path:        "/activities/{id}/close-instances",
		Summary:     "Close all open instances of an activity",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body JobRunResponse `json:"body"`
	}, error) {
		n, err := e.CloseActivityInstances(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobRunResponse `json:"body"`
		}{Body: JobRunResponse{Closed: n}}, nil
	})
}

func registerTracks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-track",
		Method:        http.MethodPost,
		Path:          "/activities/{activity_id}/tracks",
		Summary:       "Create track",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActivityID string             `path:"activity_id"`
		Body       CreateTrackRequest `json:"body"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		t := domain.Track{
			ActivityID:        input.ActivityID,
			ScheduleFixedFrom: input.Body.ScheduleFixedFrom,
			ScheduleFixedTo:   input.Body.ScheduleFixedTo,
			DueDateMode:       input.Body.DueDateMode,
			DueDateFixed:      input.Body.DueDateFixed,
			DueDateOffset:     offsetFromRequest(input.Body.DueDateOffset),
			RepeatingEnabled:  input.Body.RepeatingEnabled,
			RepeatingTrigger:  input.Body.RepeatingTrigger,
			RepeatingOffset:   offsetFromRequest(input.Body.RepeatingOffset),
			RepeatLimit:       input.Body.RepeatLimit,
			GenerationMode:    input.Body.GenerationMode,
		}
		t, err := e.CreateTrack(ctx, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tracks",
		Method:      http.MethodGet,
		Path:        "/activities/{activity_id}/tracks",
		Summary:     "List tracks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
	}) (*struct {
		Body []domain.Track `json:"body"`
	}, error) {
		items, err := e.Repo.ListTracks(ctx, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Track `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-track",
		Method:      http.MethodPatch,
		Path:        "/tracks/{id}",
		Summary:     "Update track schedule settings",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body CreateTrackRequest `json:"body"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		t, err := e.Repo.GetTrack(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		t.ScheduleFixedFrom = input.Body.ScheduleFixedFrom
		t.ScheduleFixedTo = input.Body.ScheduleFixedTo
		if input.Body.DueDateMode != "" {
			t.DueDateMode = input.Body.DueDateMode
		}
		t.DueDateFixed = input.Body.DueDateFixed
		if input.Body.DueDateOffset != nil {
			t.DueDateOffset = offsetFromRequest(input.Body.DueDateOffset)
		}
		t.RepeatingEnabled = input.Body.RepeatingEnabled
		if input.Body.RepeatingTrigger != "" {
			t.RepeatingTrigger = input.Body.RepeatingTrigger
		}
		if input.Body.RepeatingOffset != nil {
			t.RepeatingOffset = offsetFromRequest(input.Body.RepeatingOffset)
		}
		if input.Body.RepeatLimit != nil {
			t.RepeatLimit = input.Body.RepeatLimit
		}
		if input.Body.GenerationMode != "" {
			t.GenerationMode = input.Body.GenerationMode
		}
		t, err = e.UpdateTrack(ctx, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-user",
		Method:        http.MethodPost,
		Path:          "/tracks/{id}/assignments",
		Summary:       "Assign a subject user to a track",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AssignUserRequest `json:"body"`
	}) (*struct {
		Body domain.TrackUserAssignment `json:"body"`
	}, error) {
		if input.Body.SubjectUserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject_user_id is required", nil)
		}
		a, err := e.AssignUser(ctx, input.ID, input.Body.SubjectUserID, input.Body.JobAssignmentID, input.Body.PeriodStart, input.Body.PeriodEnd)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TrackUserAssignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-user",
		Method:      http.MethodDelete,
		Path:        "/assignments/{id}",
		Summary:     "Remove a track assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.UnassignUser(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.CreateUser(ctx, input.Body.Name, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{id}",
		Summary:     "Update user suspension",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if input.Body.Suspended != nil {
			if err := e.SetUserSuspended(ctx, input.ID, *input.Body.Suspended); err != nil {
				return nil, handleError(err)
			}
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-user",
		Method:      http.MethodDelete,
		Path:        "/users/{id}",
		Summary:     "Delete user",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteUser(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerJobAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job-assignment",
		Method:        http.MethodPost,
		Path:          "/job-assignments",
		Summary:       "Create job assignment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateJobAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.JobAssignment `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		ja, err := e.CreateJobAssignment(ctx, domain.JobAssignment{
			UserID:      input.Body.UserID,
			IDNumber:    input.Body.IDNumber,
			ManagerJAID: input.Body.ManagerJAID,
			AppraiserID: input.Body.AppraiserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.JobAssignment `json:"body"`
		}{Body: ja}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-assignments",
		Method:      http.MethodGet,
		Path:        "/users/{id}/job-assignments",
		Summary:     "List a user's job assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.JobAssignment `json:"body"`
	}, error) {
		if _, err := e.Repo.GetUser(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListJobAssignments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.JobAssignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job-assignment",
		Method:      http.MethodPatch,
		Path:        "/job-assignments/{id}",
		Summary:     "Update job assignment manager or appraiser",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                     `path:"id"`
		Body UpdateJobAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.JobAssignment `json:"body"`
	}, error) {
		ja, err := e.UpdateJobAssignment(ctx, input.ID, input.Body.ManagerJAID, input.Body.AppraiserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.JobAssignment `json:"body"`
		}{Body: ja}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-job-assignment",
		Method:      http.MethodDelete,
		Path:        "/job-assignments/{id}",
		Summary:     "Delete job assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteJobAssignment(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerInstances(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-subject-instances",
		Method:      http.MethodGet,
		Path:        "/subject-instances",
		Summary:     "List subject instances",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActivityID    string `query:"activity_id"`
		TrackID       string `query:"track_id"`
		SubjectUserID string `query:"subject_user_id"`
		Status        string `query:"status" enum:"pending,active"`
		Availability  string `query:"availability" enum:"open,closed"`
		Progress      string `query:"progress"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*struct {
		Body paginatedSubjectInstances `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorID, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListSubjectInstances(ctx, repo.SubjectInstanceFilters{
			ActivityID:    input.ActivityID,
			TrackID:       input.TrackID,
			SubjectUserID: input.SubjectUserID,
			Status:        input.Status,
			Availability:  input.Availability,
			Progress:      input.Progress,
			Limit:         limit + 1,
			CursorID:      cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedSubjectInstances{Items: []SubjectInstanceResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit].ID, 10)
			items = items[:limit]
		}
		resp.Items = mapSubjectInstances(items)
		return &struct {
			Body paginatedSubjectInstances `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subject-instance",
		Method:      http.MethodGet,
		Path:        "/subject-instances/{id}",
		Summary:     "Get subject instance with participants",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SubjectInstanceDetailResponse `json:"body"`
	}, error) {
		si, err := e.Repo.GetSubjectInstance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		participants, err := e.Repo.ListParticipants(ctx, si.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubjectInstanceDetailResponse `json:"body"`
		}{Body: SubjectInstanceDetailResponse{
			SubjectInstanceResponse: subjectInstanceResponse(si),
			Participants:            mapParticipants(participants),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-subject-instance",
		Method:      http.MethodPost,
		Path:        "/subject-instances/{id}/close",
		Summary:     "Close subject instance",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID    int64 `path:"id"`
		Force bool  `query:"force"`
	}) (*struct {
		Body SubjectInstanceResponse `json:"body"`
	}, error) {
		si, err := e.ManuallyClose(ctx, input.ID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubjectInstanceResponse `json:"body"`
		}{Body: subjectInstanceResponse(si)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-subject-instance",
		Method:      http.MethodPost,
		Path:        "/subject-instances/{id}/open",
		Summary:     "Reopen subject instance",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SubjectInstanceResponse `json:"body"`
	}, error) {
		si, err := e.ManuallyOpen(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubjectInstanceResponse `json:"body"`
		}{Body: subjectInstanceResponse(si)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-participant-users",
		Method:      http.MethodPost,
		Path:        "/subject-instances/{id}/participants",
		Summary:     "Select participants for a pending instance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body SetParticipantsRequest `json:"body"`
	}) (*struct {
		Body SubjectInstanceResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		selections := make([]domain.ManualSelection, 0, len(input.Body.Selections))
		for _, sel := range input.Body.Selections {
			selections = append(selections, domain.ManualSelection{
				Relationship:  sel.Relationship,
				UserID:        sel.UserID,
				ExternalEmail: sel.ExternalEmail,
			})
		}
		si, err := e.SetParticipantUsers(ctx, input.ID, userID, selections)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubjectInstanceResponse `json:"body"`
		}{Body: subjectInstanceResponse(si)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-participant-progress",
		Method:      http.MethodPatch,
		Path:        "/participant-instances/{id}/progress",
		Summary:     "Record participant progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body SetProgressRequest `json:"body"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		p, err := e.SetParticipantProgress(ctx, input.ID, input.Body.Progress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})
}

func registerParticipation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-participation",
		Method:      http.MethodGet,
		Path:        "/participation/{token}",
		Summary:     "External participant view by access token",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body ParticipationResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetParticipantByToken(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		si, err := e.Repo.GetSubjectInstance(ctx, p.SubjectInstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetActivity(ctx, si.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		subject, err := e.Repo.GetUser(ctx, si.SubjectUserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipationResponse `json:"body"`
		}{Body: ParticipationResponse{
			ParticipantID: p.ID,
			ActivityName:  a.Name,
			SubjectName:   subject.Name,
			Relationship:  p.Relationship,
			Availability:  p.Availability,
			Progress:      p.Progress,
			DueDate:       si.DueDate,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-participation-progress",
		Method:      http.MethodPatch,
		Path:        "/participation/{token}/progress",
		Summary:     "Record external participant progress by access token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Token string             `path:"token"`
		Body  SetProgressRequest `json:"body"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetParticipantByToken(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		p, err = e.SetParticipantProgress(ctx, p.ID, input.Body.Progress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "job-generate",
		Method:      http.MethodPost,
		Path:        "/jobs/generate",
		Summary:     "Run instance generation",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body JobRunResponse `json:"body"`
	}, error) {
		res, err := e.GenerateInstances(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobRunResponse `json:"body"`
		}{Body: JobRunResponse{Created: res.Created, Skipped: res.Skipped}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-sync",
		Method:      http.MethodPost,
		Path:        "/jobs/sync",
		Summary:     "Reconcile flagged instances",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body JobRunResponse `json:"body"`
	}, error) {
		res, err := e.SyncFlaggedInstances(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobRunResponse `json:"body"`
		}{Body: JobRunResponse{
			Synced:   res.Synced,
			Added:    res.Added,
			Reopened: res.Reopened,
			Closed:   res.Closed,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-close-due",
		Method:      http.MethodPost,
		Path:        "/jobs/close-due",
		Summary:     "Close overdue instances",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body JobRunResponse `json:"body"`
	}, error) {
		n, err := e.CloseDueInstances(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobRunResponse `json:"body"`
		}{Body: JobRunResponse{Closed: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-close-suspended",
		Method:      http.MethodPost,
		Path:        "/jobs/close-suspended",
		Summary:     "Close instances of suspended users",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body JobRunResponse `json:"body"`
	}, error) {
		n, err := e.CloseSuspendedUserInstances(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobRunResponse `json:"body"`
		}{Body: JobRunResponse{Closed: n}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List lifecycle events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActivityID string `query:"activity_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorID, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.ActivityID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit].ID, 10)
			items = items[:limit]
		}
		resp.Items = mapEvents(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Mint an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		raw, key, err := e.CreateAPIKey(ctx, input.Body.UserID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Revoke an API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return id, nil
}
