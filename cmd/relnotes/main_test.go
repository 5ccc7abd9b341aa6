package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/server"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after id are moved first",
			args:     []string{"notes/a.md", "-limit", "5"},
			expected: []string{"-limit", "5", "notes/a.md"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "5", "notes/a.md"},
			expected: []string{"-limit", "5", "notes/a.md"},
		},
		{
			name:     "id only returns unchanged",
			args:     []string{"notes/a.md"},
			expected: []string{"notes/a.md"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 9090
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug || cfg.Server.Port != 9090 {
		t.Errorf("unexpected config: debug=%v port=%d", cfg.Debug, cfg.Server.Port)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "relnotes.yaml")
	if err := os.WriteFile(configPath, []byte("similarity:\n  family: simhash\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Similarity.Family != config.FamilySimHash {
		t.Errorf("family = %q", cfg.Similarity.Family)
	}
}

func TestProgressLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	progress := progressLogger(zap.New(core))
	for i := 0; i <= 100; i += 5 {
		progress(i, 100)
	}
	progress(0, 0)
	if n := logs.Len(); n != 11 {
		t.Errorf("progress lines = %d, want 11", n)
	}
}

// newVault writes n notes into a fresh vault; notes 2k and 2k+1 share their content.
func newVault(t *testing.T, n int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	if err := os.MkdirAll(filepath.Join(vault, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		words := make([]string, 40)
		for j := range words {
			words[j] = fmt.Sprintf("topic%d_%d", i/2, j)
		}
		name := fmt.Sprintf("note%02d.md", i)
		if i%2 == 1 {
			name = filepath.Join("sub", name)
		}
		body := "# Note " + fmt.Sprint(i) + "\n\n" + strings.Join(words, " ")
		if err := os.WriteFile(filepath.Join(vault, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{
		Storage: config.StorageConfig{DatabasePath: filepath.Join(dir, "relnotes.db")},
		Vault:   config.VaultConfig{Directories: []string{vault}},
	}
	config.ApplyDefaults(cfg)
	cfg.Indexing.YieldInterval = time.Microsecond
	return cfg
}

func TestInitializeComponents_indexesVault(t *testing.T) {
	cfg := newVault(t, 4)
	c, err := initializeComponents(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Files == nil || c.Metrics != nil {
		t.Fatalf("unexpected components: files=%v metrics=%v", c.Files, c.Metrics)
	}

	ctx := context.Background()
	rep, err := c.Engine.Initialize(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 4 || len(rep.Failed) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	resp := buildRelatedResponse(c.Engine, models.RelatedQuery{ID: "note00.md", Limit: 5}, time.Now())
	if resp.Total != 1 || resp.Results[0].ID != "sub/note01.md" {
		t.Errorf("related: %+v", resp.Results)
	}
	if resp.Results[0].Title != "note01" {
		t.Errorf("title: %q", resp.Results[0].Title)
	}

	// A snapshot saved by one process is picked up by the next.
	if err := c.Engine.SaveSnapshot(ctx, c.Snapshots); err != nil {
		t.Fatal(err)
	}
	c.Close()
	c2, err := initializeComponents(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	n, err := c2.Engine.LoadSnapshot(ctx, c2.Snapshots)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("restored %d documents, want 4", n)
	}
	rep, err = c2.Engine.Initialize(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 4 || rep.Processed != 0 {
		t.Errorf("incremental run: skipped %d processed %d", rep.Skipped, rep.Processed)
	}
}

func TestHTTPClient(t *testing.T) {
	cfg := newVault(t, 4)
	c, err := initializeComponents(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Engine.Initialize(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	srv := server.NewServer(c.Engine, c.Docs, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	defer srv.Stop(context.Background())

	resp, err := relatedViaHTTP(ts.URL, models.RelatedQuery{ID: "sub/note03.md", Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].ID != "note02.md" {
		t.Errorf("related: %+v", resp.Results)
	}

	status, err := statusViaHTTP(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if status.Engine.Documents != 4 || !status.Engine.Initialized {
		t.Errorf("status: %+v", status.Engine)
	}

	if _, err := relatedViaHTTP(ts.URL, models.RelatedQuery{ID: "missing.md"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("missing document: got %v", err)
	}
	if _, err := reindexViaHTTP(ts.URL, true, false); err == nil || !strings.Contains(err.Error(), "409") {
		t.Errorf("cancel without a run: got %v", err)
	}
	msg, err := reindexViaHTTP(ts.URL, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg, "Reindex started: ") {
		t.Errorf("message: %q", msg)
	}
}
