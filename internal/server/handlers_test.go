package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/batch"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/metrics"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/similarity"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
)

func words(prefix string, n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *storage.SQLiteStorage, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{DatabasePath: filepath.Join(dir, "relnotes.db")}}
	config.ApplyDefaults(cfg)

	docs, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { docs.Close() })

	engine, err := similarity.New(cfg.Similarity, docs, similarity.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(engine, docs, cfg, zap.NewNop(), opts...)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv, docs, cfg
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	r := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := do(t, srv.Router(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body: %s", w.Body.String())
	}
}

func TestHandleRelated(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()
	for _, in := range []models.DocumentInput{
		{ID: "a.md", Title: "A", Content: words("alpha", 40)},
		{ID: "b.md", Title: "B", Content: words("alpha", 40)},
		{ID: "c.md", Title: "C", Content: words("gamma", 40)},
	} {
		if w := do(t, h, http.MethodPost, "/api/v1/documents", in); w.Code != http.StatusCreated {
			t.Fatalf("index %s: got %d %s", in.ID, w.Code, w.Body.String())
		}
	}

	w := do(t, h, http.MethodGet, "/api/v1/related?id=a.md&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.RelatedResponse
	decode(t, w, &resp)
	if resp.ID != "a.md" || resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	got := resp.Results[0]
	if got.ID != "b.md" || got.Title != "B" || got.Rank != 1 || got.Score != 1 {
		t.Errorf("unexpected result: %+v", got)
	}
	if resp.Sampled || resp.Relaxed {
		t.Error("small corpus should be neither sampled nor relaxed")
	}
}

func TestHandleRelated_indexesStoredDocumentOnDemand(t *testing.T) {
	srv, docs, _ := newTestServer(t)
	ctx := context.Background()
	if err := docs.UpsertDocument(ctx, &models.Document{ID: "late.md", Content: words("late", 20)}); err != nil {
		t.Fatal(err)
	}
	w := do(t, srv.Router(), http.MethodGet, "/api/v1/related?id=late.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if _, ok := srv.engine.Document("late.md"); !ok {
		t.Error("document should be indexed after the query")
	}
}

func TestHandleRelated_errors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing id", "/api/v1/related", http.StatusBadRequest},
		{"bad limit", "/api/v1/related?id=a.md&limit=many", http.StatusBadRequest},
		{"unknown id", "/api/v1/related?id=nope.md", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.target, nil)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHandleSimilarity(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()
	do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "a.md", Content: words("alpha", 30)})
	do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "b.md", Content: words("beta", 30)})

	w := do(t, h, http.MethodGet, "/api/v1/similarity?a=a.md&b=b.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SimilarityResponse
	decode(t, w, &resp)
	if resp.A != "a.md" || resp.B != "b.md" {
		t.Errorf("unexpected ids: %+v", resp)
	}
	if resp.Score < 0 || resp.Score > 0.5 {
		t.Errorf("disjoint documents scored %g", resp.Score)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/similarity?a=a.md", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing b: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/similarity?a=a.md&b=nope.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown b: got %d", w.Code)
	}
}

func TestHandleIndexDocument(t *testing.T) {
	srv, docs, _ := newTestServer(t)
	h := srv.Router()

	w := do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{Title: "Untitled", Content: "hello world"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out map[string]string
	decode(t, w, &out)
	if out["id"] == "" {
		t.Fatal("expected a generated id")
	}
	doc, err := docs.GetDocument(context.Background(), out["id"])
	if err != nil {
		t.Fatalf("stored document: %v", err)
	}
	if doc.Title != "Untitled" {
		t.Errorf("title: got %q", doc.Title)
	}
	if d, ok := srv.engine.Document(out["id"]); !ok || d.Title != "Untitled" {
		t.Errorf("engine document: %+v, %v", d, ok)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	srv.handleIndexDocument(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d", rec.Code)
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	srv, docs, _ := newTestServer(t)
	h := srv.Router()
	do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "a.md", Content: "some text here"})

	if w := do(t, h, http.MethodDelete, "/api/v1/documents?id=a.md", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: got %d, body: %s", w.Code, w.Body.String())
	}
	if _, err := docs.GetDocument(context.Background(), "a.md"); err == nil {
		t.Error("document should be gone from the store")
	}
	if srv.engine.Len() != 0 {
		t.Errorf("engine documents: got %d", srv.engine.Len())
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/documents?id=a.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/documents", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing id: got %d", w.Code)
	}
}

func TestHandleReindex(t *testing.T) {
	srv, docs, _ := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		doc := &models.Document{ID: fmt.Sprintf("n%d.md", i), Content: words(fmt.Sprintf("v%d_", i/2), 30)}
		if err := docs.UpsertDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}

	w := do(t, srv.Router(), http.MethodPost, "/api/v1/reindex", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out map[string]string
	decode(t, w, &out)
	srv.runs.Wait()

	rep := srv.LastRun()
	if rep == nil {
		t.Fatal("expected a run report")
	}
	if rep.RunID != out["run_id"] {
		t.Errorf("run id: got %q, want %q", rep.RunID, out["run_id"])
	}
	if rep.Outcome != batch.OutcomeCompleted || rep.Processed != 4 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if srv.engine.Len() != 4 {
		t.Errorf("engine documents: got %d", srv.engine.Len())
	}
}

// listGate blocks List until release is closed.
type listGate struct {
	storage.DocumentStore
	entered chan struct{}
	release chan struct{}
}

func (g *listGate) List(ctx context.Context) ([]models.DocumentInfo, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.DocumentStore.List(ctx)
}

func TestHandleReindex_secondRequestConflicts(t *testing.T) {
	_, docs, cfg := newTestServer(t)
	gate := &listGate{DocumentStore: docs, entered: make(chan struct{}), release: make(chan struct{})}
	engine, err := similarity.New(cfg.Similarity, gate)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(engine, docs, cfg, zap.NewNop())
	h := srv.Router()

	if w := do(t, h, http.MethodPost, "/api/v1/reindex", nil); w.Code != http.StatusAccepted {
		t.Fatalf("first reindex: got %d", w.Code)
	}
	<-gate.entered
	if w := do(t, h, http.MethodPost, "/api/v1/reindex?incremental=true", nil); w.Code != http.StatusConflict {
		t.Errorf("second reindex: got %d, want %d", w.Code, http.StatusConflict)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/reindex", nil); w.Code != http.StatusAccepted {
		t.Errorf("cancel: got %d", w.Code)
	}
	close(gate.release)
	srv.runs.Wait()

	rep := srv.LastRun()
	if rep == nil || rep.Outcome != batch.OutcomeCancelled {
		t.Errorf("last run: %+v", rep)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestHandleCancelReindex_notRunning(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if w := do(t, srv.Router(), http.MethodDelete, "/api/v1/reindex", nil); w.Code != http.StatusConflict {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Router()
	do(t, h, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "a.md", Content: "hello world again"})

	w := do(t, h, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Engine         similarity.Stats `json:"engine"`
		APIDocuments   int64            `json:"api_documents"`
		DiskUsageBytes *int64           `json:"disk_usage_bytes"`
	}
	decode(t, w, &out)
	if out.Engine.Documents != 1 || out.APIDocuments != 1 {
		t.Errorf("documents: engine %d, api %d", out.Engine.Documents, out.APIDocuments)
	}
	if out.Engine.Family != config.FamilyMinHash {
		t.Errorf("family: got %q", out.Engine.Family)
	}
	if out.DiskUsageBytes == nil || *out.DiskUsageBytes < 1 {
		t.Errorf("disk_usage_bytes: got %v", out.DiskUsageBytes)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, _, _ := newTestServer(t, WithMetrics(metrics.New(reg), reg))
	h := srv.Router()
	do(t, h, http.MethodGet, "/health", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `relnotes_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("missing request counter in:\n%s", w.Body.String())
	}
}

func TestMetricsRoute_disabled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if w := do(t, srv.Router(), http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("status: got %d", w.Code)
	}
}
