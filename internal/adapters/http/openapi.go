package httpadapter

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
)

//go:embed openapi.yaml
var openapiDocument []byte

// requestValidator checks incoming /v1 requests against the embedded OpenAPI
// document before they reach a handler: unknown paths, wrong methods, bad
// query parameters and malformed bodies are rejected here with a JSON error.
// Response bodies are not validated.
type requestValidator struct {
	router routers.Router
}

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("openapi document is invalid: %w", err)
	}
	specRouter, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi route table: %w", err)
	}
	return &requestValidator{router: specRouter}, nil
}

func (v *requestValidator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			switch {
			case errors.Is(err, routers.ErrPathNotFound):
				writeError(w, http.StatusNotFound, "unknown path")
			case errors.Is(err, routers.ErrMethodNotAllowed):
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			default:
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			var requestErr *openapi3filter.RequestError
			if errors.As(err, &requestErr) {
				writeError(w, http.StatusBadRequest, requestErr.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// serveOpenAPIDocument exposes the contract the validator enforces.
func serveOpenAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiDocument)
}
