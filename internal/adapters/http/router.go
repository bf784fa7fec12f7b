package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/infrastructure/storage/objectpath"
	"github.com/kirillkom/docvault/internal/observability/metrics"
)

const (
	maxMetadataBytes   = 64 << 10
	backpressureWait   = 250 * time.Millisecond
	sniffBytes         = 3072
	defaultContentType = "application/octet-stream"
)

type Router struct {
	cfg      config.Config
	ingest   ports.DocumentIngestor
	analyzer ports.DocumentAnalyzerService
	query    ports.DocumentQueryService
	objects  ports.ObjectStorage
	receiver ports.UploadReceiver
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	analyzer ports.DocumentAnalyzerService,
	query ports.DocumentQueryService,
	objects ports.ObjectStorage,
) *Router {
	rt := &Router{
		cfg:      cfg,
		ingest:   ingest,
		analyzer: analyzer,
		query:    query,
		objects:  objects,
	}
	// Only self-hosted storage accepts the signed PUT itself.
	if receiver, ok := objects.(ports.UploadReceiver); ok {
		rt.receiver = receiver
	}
	return rt
}

func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", serveOpenAPI)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /api/documents/upload-url", rt.issueUploadURL)
	mux.HandleFunc("PUT /uploads/{key...}", rt.receiveUpload)
	mux.HandleFunc("GET /objects/{path...}", rt.serveObject)

	mux.HandleFunc("POST /api/documents", rt.submitDocument)
	mux.HandleFunc("GET /api/documents", rt.listDocuments)
	mux.HandleFunc("GET /api/documents/recent", rt.listRecent)
	mux.HandleFunc("GET /api/documents/{id}", rt.getDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", rt.deleteDocument)
	mux.HandleFunc("POST /api/documents/{id}/analyze", rt.analyzeDocument)

	mux.HandleFunc("GET /api/statistics", rt.statistics)
	mux.HandleFunc("GET /api/ai-queue", rt.queueEntries)
	mux.HandleFunc("GET /api/categories", rt.categories)

	var handler http.Handler = mux
	handler = newValidationMiddleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInflight, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) issueUploadURL(w http.ResponseWriter, r *http.Request) {
	ticket, err := rt.ingest.IssueUploadURL(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (rt *Router) receiveUpload(w http.ResponseWriter, r *http.Request) {
	if rt.receiver == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "uploads are handled by the storage provider"})
		return
	}
	objectPath, err := rt.receiver.ReceiveUpload(r.Context(), r.PathValue("key"), r.URL.Query().Get("token"), r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"objectPath": objectPath})
}

func (rt *Router) serveObject(w http.ResponseWriter, r *http.Request) {
	body, err := rt.objects.Open(r.Context(), objectpath.Normalize(r.URL.EscapedPath()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, r, domain.WrapError(domain.ErrStorageFailure, "read object", err))
		return
	}
	head = head[:n]

	contentType := defaultContentType
	if n > 0 {
		contentType = mimetype.Detect(head).String()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(head); err != nil {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("object_stream_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func (rt *Router) submitDocument(w http.ResponseWriter, r *http.Request) {
	var meta domain.DocumentMetadata
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxMetadataBytes))
	if err := decoder.Decode(&meta); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	doc, err := rt.ingest.Submit(r.Context(), meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	var category string
	if err := runtime.BindQueryParameter("form", true, false, "category", r.URL.Query(), &category); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var (
		docs []domain.Document
		err  error
	)
	if strings.TrimSpace(category) != "" {
		docs, err = rt.query.ListByCategory(r.Context(), category)
	} else {
		docs, err = rt.query.List(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(docs))
}

func (rt *Router) listRecent(w http.ResponseWriter, r *http.Request) {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	docs, err := rt.query.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(docs))
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.query.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.ingest.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	var force bool
	if err := runtime.BindQueryParameter("form", true, false, "force", r.URL.Query(), &force); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := rt.analyzer.Analyze(r.Context(), r.PathValue("id"), ports.AnalyzeOptions{Force: force})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.query.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) queueEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.query.QueueEntries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (rt *Router) categories(w http.ResponseWriter, r *http.Request) {
	categories, err := rt.query.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(categories))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("response_encode_failed", "error", fmt.Sprint(err))
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
