package docid

import (
	"path/filepath"
	"testing"
)

func TestResolver_singleRoot(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	id, ok := r.ID(filepath.Join(root, "notes", "a.md"))
	if !ok || id != "notes/a.md" {
		t.Fatalf("ID = %q, %v; want notes/a.md", id, ok)
	}
	path, ok := r.Path(id)
	if !ok || path != filepath.Join(root, "notes", "a.md") {
		t.Errorf("Path(%q) = %q, %v", id, path, ok)
	}
}

func TestResolver_deterministicAndNormalized(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	id1, _ := r.ID(filepath.Join(root, "x", "b.md"))
	id2, _ := r.ID(root + "/x/./b.md")
	if id1 != id2 {
		t.Errorf("same file should give same ID: %q vs %q", id1, id2)
	}
}

func TestResolver_outsideRoot(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver([]string{filepath.Join(root, "vault")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.ID(filepath.Join(root, "other", "a.md")); ok {
		t.Error("path outside root should not resolve")
	}
	if _, ok := r.ID(filepath.Join(root, "vault")); ok {
		t.Error("root itself is not a document")
	}
	if _, ok := r.Path("../escape.md"); ok {
		t.Error("escaping id should not resolve")
	}
	if _, ok := r.Path("/abs.md"); ok {
		t.Error("absolute id should not resolve")
	}
}

func TestResolver_multipleRoots(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "work")
	b := filepath.Join(base, "home")
	r, err := NewResolver([]string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	id, ok := r.ID(filepath.Join(b, "todo.md"))
	if !ok || id != "home/todo.md" {
		t.Fatalf("ID = %q, %v; want home/todo.md", id, ok)
	}
	path, ok := r.Path("work/plan.md")
	if !ok || path != filepath.Join(a, "plan.md") {
		t.Errorf("Path = %q, %v", path, ok)
	}
	if _, ok := r.Path("elsewhere/plan.md"); ok {
		t.Error("unknown prefix should not resolve")
	}
}

func TestNewResolver_duplicateBaseNames(t *testing.T) {
	base := t.TempDir()
	_, err := NewResolver([]string{filepath.Join(base, "a", "notes"), filepath.Join(base, "b", "notes")})
	if err == nil {
		t.Error("expected error for roots sharing a base name")
	}
}

func TestContentVersion(t *testing.T) {
	v1 := ContentVersion([]byte("hello"))
	if v1 != ContentVersion([]byte("hello")) {
		t.Error("content version should be deterministic")
	}
	if v1 == ContentVersion([]byte("hello!")) {
		t.Error("different content should change the version")
	}
	if v1 < 0 {
		t.Error("content version should be non-negative")
	}
}
