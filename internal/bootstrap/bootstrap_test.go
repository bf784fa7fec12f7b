package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/kirillkom/docvault/internal/adapters/http"
	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
)

func newAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"category":"invoices","confidence":0.91,"extractedData":{"total":"100 EUR"},"summary":"Invoice","keyInformation":["total 100 EUR"],"documentType":"Invoice"}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func memoryConfig(t *testing.T, aiURL string) config.Config {
	return config.Config{
		PublicBaseURL:       "http://api.test",
		StoreBackend:        "memory",
		StorageBackend:      "localfs",
		StoragePath:         t.TempDir(),
		UploadSigningSecret: "test-secret",
		MaxUploadBytes:      1 << 20,
		AIProvider:          "openai",
		OpenAIBaseURL:       aiURL,
		OpenAIAPIKey:        "test-key",
		OpenAIModel:         "gpt-4o",
		AIRetryAttempts:     1,
		WorkerConcurrency:   2,
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t, newAIServer(t).URL)

	app, err := New(ctx, cfg, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	handler := httpadapter.NewRouter(cfg, app.IngestUC, app.AnalyzeUC, app.QueryUC, app.Storage).
		WithMetrics(app.HTTPMetrics).
		Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/documents/upload-url", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("upload-url expected 200, got %d", res.Code)
	}
	var ticket domain.UploadTicket
	if err := json.NewDecoder(res.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}

	uploadURL, err := url.Parse(ticket.UploadURL)
	if err != nil {
		t.Fatalf("parse upload url: %v", err)
	}
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPut, uploadURL.RequestURI(), strings.NewReader("Invoice total 100 EUR")))
	if res.Code != http.StatusOK {
		t.Fatalf("upload expected 200, got %d: %s", res.Code, res.Body.String())
	}

	payload, _ := json.Marshal(domain.DocumentMetadata{
		OriginalName: "invoice.txt",
		MimeType:     "text/plain",
		Size:         21,
		ObjectPath:   ticket.UploadURL,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("submit expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var doc domain.Document
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.ObjectPath != ticket.ObjectPath || doc.Status != domain.StatusPending {
		t.Fatalf("unexpected submitted document: %+v", doc)
	}

	processed, err := app.DrainUC.DrainPending(ctx, 10)
	if err != nil {
		t.Fatalf("DrainPending() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected one processed entry, got %d", processed)
	}

	got, err := app.QueryUC.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Category == nil || *got.Category != domain.CategoryInvoices {
		t.Fatalf("unexpected analyzed document: %+v", got)
	}

	stats, err := app.QueryUC.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalDocuments != 1 || stats.PendingProcessing != 0 || stats.Categories[domain.CategoryInvoices] != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}

	categories, err := app.QueryUC.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(categories) != len(domain.CategoryNames) {
		t.Fatalf("expected seeded categories, got %d", len(categories))
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), "docvault_analysis") {
		t.Fatalf("expected analysis metrics on the shared registry")
	}
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"store":    func(c *config.Config) { c.StoreBackend = "sqlite" },
		"storage":  func(c *config.Config) { c.StorageBackend = "s3" },
		"provider": func(c *config.Config) { c.AIProvider = "llama" },
	}
	for name, mutate := range cases {
		cfg := memoryConfig(t, "http://127.0.0.1:1")
		mutate(&cfg)
		if _, err := New(context.Background(), cfg, "test"); err == nil {
			t.Fatalf("%s: expected error for unknown backend", name)
		}
	}
}

func TestNewRequiresSigningSecretForLocalStorage(t *testing.T) {
	cfg := memoryConfig(t, "http://127.0.0.1:1")
	cfg.UploadSigningSecret = ""
	if _, err := New(context.Background(), cfg, "test"); err == nil {
		t.Fatalf("expected error without signing secret")
	}
}

func TestAnalysisPolicyKeepsProviderBackoff(t *testing.T) {
	policy := analysisPolicy(config.Config{AIRetryAttempts: 5, AIBreakerEnabled: true})
	if policy.RetryMaxAttempts != 5 || !policy.BreakerEnabled {
		t.Fatalf("expected configured attempts and breaker, got %+v", policy)
	}
	if policy.AttemptTimeout != 60*time.Second || policy.RetryInitialBackoff < time.Second {
		t.Fatalf("expected analysis defaults to survive unset fields, got %+v", policy)
	}

	policy = analysisPolicy(config.Config{AIRequestTimeout: 5 * time.Second})
	if policy.AttemptTimeout != 5*time.Second || policy.BreakerEnabled {
		t.Fatalf("expected request timeout override with breaker off, got %+v", policy)
	}
}
