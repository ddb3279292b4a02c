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

	"facet/internal/descriptor"
	"facet/internal/platform"
	"facet/internal/provisioner"
	"facet/internal/repo"
	"facet/internal/tracker"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   provisioner.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_error"`
	Message string         `json:"message" example:"descriptor validation failed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the provisioner API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request problems are the caller's fault.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			issues := make([]string, 0, len(errs))
			for _, e := range errs {
				issues = append(issues, e.Error())
			}
			details = map[string]any{"issues": issues}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Facet Provisioner API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerValidate(group, cfg.Engine)
	registerProvision(group, cfg.Engine)
	registerUnprovision(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerReverseProvisioning(group, cfg.Engine)
	registerUpdateACL(group, cfg.Engine)
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

// handleError maps the core error taxonomy onto transport status codes.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *descriptor.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", "descriptor validation failed", map[string]any{"errors": ve.Errors})
	}
	var ce *provisioner.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, tracker.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var re *platform.RemoteError
	if errors.As(err, &re) {
		switch re.Class {
		case platform.ClassNotFound:
			return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
		case platform.ClassConflict:
			return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
		case platform.ClassAuth:
			return newAPIError(http.StatusBadGateway, "remote_unauthorized", err.Error(), nil)
		default:
			return newAPIError(http.StatusServiceUnavailable, "remote_transient", err.Error(), nil)
		}
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "remote_unauthorized"
	case http.StatusServiceUnavailable:
		return "remote_transient"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// parseRequest decodes the YAML descriptor and hands the request to the
// engine's validator.
func parseRequest(e provisioner.Engine, rawDescriptor, componentID string) (descriptor.Intent, error) {
	dp, err := descriptor.Parse([]byte(rawDescriptor))
	if err != nil {
		return descriptor.Intent{}, &descriptor.ValidationError{Errors: []string{err.Error()}}
	}
	return e.Validate(descriptor.ProvisioningRequest{DataProduct: dp, ComponentID: componentID})
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

func registerValidate(api huma.API, e provisioner.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validate",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate a provisioning request",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body ProvisioningRequestBody `json:"body"`
	}) (*struct {
		Body ValidationResult `json:"body"`
	}, error) {
		_, err := parseRequest(e, input.Body.Descriptor, input.Body.ComponentID)
		out := ValidationResult{Valid: true}
		if err != nil {
			var ve *descriptor.ValidationError
			if errors.As(err, &ve) {
				out = ValidationResult{Valid: false, Errors: ve.Errors}
			} else {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body ValidationResult `json:"body"`
		}{Body: out}, nil
	})
}

func registerProvision(api huma.API, e provisioner.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "provision",
		Method:      http.MethodPost,
		Path:        "/provision",
		Summary:     "Provision a component",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ProvisioningRequestBody `json:"body"`
	}) (*provisionOutput, error) {
		intent, err := parseRequest(e, input.Body.Descriptor, input.Body.ComponentID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Async {
			token, err := e.Tasks.Submit(ctx, "provision", string(intent.Workspace), func(taskCtx context.Context) (any, error) {
				res, err := e.Provision(taskCtx, intent)
				if err != nil {
					return nil, fmt.Errorf("%v (partial result: %s)", err, describeSteps(res))
				}
				return res, nil
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &provisionOutput{
				Status: http.StatusAccepted,
				Body:   ProvisioningStatus{Status: tracker.StatePending, Token: token},
			}, nil
		}
		res, err := e.Provision(ctx, intent)
		if err != nil {
			return &provisionOutput{
				Status: http.StatusOK,
				Body: ProvisioningStatus{
					Status: tracker.StateFailed,
					Result: err.Error(),
					Detail: &res,
				},
			}, nil
		}
		return &provisionOutput{
			Status: http.StatusOK,
			Body: ProvisioningStatus{
				Status: tracker.StateCompleted,
				Result: "Provisioning completed",
				Detail: &res,
				Info:   publicLink(workspaceDisplayName(intent), res.WorkspaceURL),
			},
		}, nil
	})
}

type provisionOutput struct {
	Status int
	Body   ProvisioningStatus `json:"body"`
}

func registerUnprovision(api huma.API, e provisioner.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "unprovision",
		Method:      http.MethodPost,
		Path:        "/unprovision",
		Summary:     "Unprovision a component",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ProvisioningRequestBody `json:"body"`
	}) (*provisionOutput, error) {
		intent, err := parseRequest(e, input.Body.Descriptor, input.Body.ComponentID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Async {
			token, err := e.Tasks.Submit(ctx, "unprovision", string(intent.Workspace), func(taskCtx context.Context) (any, error) {
				res, err := e.Unprovision(taskCtx, intent)
				if err != nil {
					return nil, fmt.Errorf("%v (partial result: %s)", err, describeSteps(res))
				}
				return res, nil
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &provisionOutput{
				Status: http.StatusAccepted,
				Body:   ProvisioningStatus{Status: tracker.StatePending, Token: token},
			}, nil
		}
		res, err := e.Unprovision(ctx, intent)
		if err != nil {
			return &provisionOutput{
				Status: http.StatusOK,
				Body: ProvisioningStatus{
					Status: tracker.StateFailed,
					Result: err.Error(),
					Detail: &res,
				},
			}, nil
		}
		return &provisionOutput{
			Status: http.StatusOK,
			Body: ProvisioningStatus{
				Status: tracker.StateCompleted,
				Result: "Unprovisioning completed",
				Detail: &res,
			},
		}, nil
	})
}

func registerStatus(api huma.API, e provisioner.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/provision/{token}/status",
		Summary:     "Get the status of an async provisioning task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body TaskStatusResponse `json:"body"`
	}, error) {
		st, err := e.Tasks.Status(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskStatusResponse `json:"body"`
		}{Body: TaskStatusResponse{
			Token:  st.Token,
			Op:     st.Op,
			Status: st.State,
			Result: st.Result,
			Error:  st.Error,
		}}, nil
	})
}

func registerReverseProvisioning(api huma.API, e provisioner.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reverse-provisioning",
		Method:      http.MethodPost,
		Path:        "/reverse-provisioning",
		Summary:     "Derive descriptor updates from live workspace state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ReverseProvisioningRequestBody `json:"body"`
	}) (*struct {
		Body ReverseProvisioningStatus `json:"body"`
	}, error) {
		res, err := e.Reverse(ctx, input.Body.Environment, input.Body.Params)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReverseProvisioningStatus `json:"body"`
		}{Body: ReverseProvisioningStatus{
			Status:  tracker.StateCompleted,
			Result:  "Reverse provisioning completed",
			Updates: res.Updates,
		}}, nil
	})
}

func registerUpdateACL(api huma.API, e provisioner.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-acl",
		Method:      http.MethodPost,
		Path:        "/updateacl",
		Summary:     "Converge workspace access toward the desired grantee set",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body UpdateACLRequestBody `json:"body"`
	}) (*struct {
		Body UpdateACLResponse `json:"body"`
	}, error) {
		intent, err := parseRequest(e, input.Body.Descriptor, input.Body.ComponentID)
		if err != nil {
			return nil, handleError(err)
		}
		outcomes, err := e.UpdateACL(ctx, intent, input.Body.Refs)
		if err != nil {
			return nil, handleError(err)
		}
		status := tracker.StateCompleted
		for _, o := range outcomes {
			if o.Status == "failed" {
				status = tracker.StateFailed
				break
			}
		}
		return &struct {
			Body UpdateACLResponse `json:"body"`
		}{Body: UpdateACLResponse{Status: status, Results: outcomes}}, nil
	})
}

func describeSteps(res provisioner.Result) string {
	parts := make([]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		parts = append(parts, string(s.Step)+"="+s.Status)
	}
	return strings.Join(parts, ", ")
}

func workspaceDisplayName(intent descriptor.Intent) string {
	if n := intent.Component.Specific.WorkspaceName; n != "" {
		return n
	}
	return string(intent.Workspace)
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Facet Provisioner API Docs</title>
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
  </body>
</html>`, specURL)
}
