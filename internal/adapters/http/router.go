package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/complyte/tradeconfirm/internal/config"
	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
	"github.com/complyte/tradeconfirm/internal/observability/metrics"
)

// backpressureWait bounds how long a request may queue for a handler slot
// before the server sheds it.
const backpressureWait = 500 * time.Millisecond

type Router struct {
	cfg       config.Config
	reviews   ports.ReviewQueue
	documents ports.DocumentReader
	metrics   *metrics.HTTPServerMetrics
	mcp       http.Handler
	validator *requestValidator
}

func NewRouter(
	cfg config.Config,
	reviews ports.ReviewQueue,
	documents ports.DocumentReader,
	serverMetrics *metrics.HTTPServerMetrics,
	mcp http.Handler,
) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		reviews:   reviews,
		documents: documents,
		metrics:   serverMetrics,
		mcp:       mcp,
		validator: validator,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/review-queue", rt.listReviewQueue)
	api.HandleFunc("GET /v1/review-queue/{entry_id}", rt.getReviewEntry)
	api.HandleFunc("POST /v1/review-queue/{entry_id}/assign", rt.assignReviewEntry)
	api.HandleFunc("POST /v1/review-queue/{entry_id}/reject", rt.rejectReviewEntry)
	api.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)

	// Traffic control guards only the API subtree: probes and scrapes must
	// keep working while operators are throttled.
	var apiHandler http.Handler = api
	apiHandler = rt.validator.middleware(apiHandler)
	apiHandler = backpressureMiddleware(apiHandler, rt.cfg.APIMaxConcurrent, backpressureWait)
	apiHandler = rateLimitMiddleware(apiHandler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", serveOpenAPIDocument)
	mux.Handle("/v1/", apiHandler)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	if rt.mcp != nil {
		mux.Handle("/mcp", rt.mcp)
		mux.Handle("/mcp/", rt.mcp)
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reviewQueuePage struct {
	Entries []domain.ReviewEntry `json:"entries"`
	Count   int                  `json:"count"`
}

func (rt *Router) listReviewQueue(w http.ResponseWriter, r *http.Request) {
	status := domain.ReviewOpen
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &status); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query parameter status: %v", err))
		return
	}
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query parameter limit: %v", err))
		return
	}

	entries, err := rt.reviews.List(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ReviewEntry{}
	}
	writeJSON(w, http.StatusOK, reviewQueuePage{Entries: entries, Count: len(entries)})
}

func (rt *Router) getReviewEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := rt.reviews.Get(r.Context(), r.PathValue("entry_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type assignRequest struct {
	EmployeeID string `json:"employee_id"`
	RequestID  string `json:"request_id"`
	Note       string `json:"note"`
	ResolvedBy string `json:"resolved_by"`
}

func (rt *Router) assignReviewEntry(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	entry, err := rt.reviews.Assign(r.Context(), r.PathValue("entry_id"), req.EmployeeID, req.RequestID, req.Note, req.ResolvedBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rt.recordReviewAction(string(domain.ReviewActionAssigned))
	writeJSON(w, http.StatusOK, entry)
}

type rejectRequest struct {
	Note       string `json:"note"`
	ResolvedBy string `json:"resolved_by"`
}

func (rt *Router) rejectReviewEntry(w http.ResponseWriter, r *http.Request) {
	// The body is optional: a bare reject is a valid resolution.
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	entry, err := rt.reviews.Reject(r.Context(), r.PathValue("entry_id"), req.Note, req.ResolvedBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rt.recordReviewAction(string(domain.ReviewActionRejected))
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.documents.GetByID(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) recordReviewAction(action string) {
	if rt.metrics != nil {
		rt.metrics.RecordReviewAction(action)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, mapErrorToHTTPStatus(err), err.Error())
}
