package repostore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirRoundTrip(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "octo", "demo")
	if err := os.MkdirAll(filepath.Join(project, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(project, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(project, "src", "main.py"), []byte("x = 1"), 0o644)
	_ = os.WriteFile(filepath.Join(project, ".git", "HEAD"), []byte("ref"), 0o644)

	store := NewDir(root)
	files, err := store.LoadFiles(context.Background(), "octo", "demo", "main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || files["src/main.py"] != "x = 1" {
		t.Fatalf("unexpected files %#v", files)
	}

	err = store.Commit(context.Background(), "octo", "demo", "main", map[string]string{
		"src/main.py":   "x = 2",
		"lib/util/a.py": "pass",
	}, "edit")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	files, _ = store.LoadFiles(context.Background(), "octo", "demo", "main")
	if files["src/main.py"] != "x = 2" || files["lib/util/a.py"] != "pass" {
		t.Fatalf("commit not visible: %#v", files)
	}
}

func TestDirCommitRejectsEscapingPaths(t *testing.T) {
	store := NewDir(t.TempDir())
	for _, p := range []string{"../evil", "/abs", "a/../../b", ""} {
		err := store.Commit(context.Background(), "o", "r", "", map[string]string{p: "x"}, "msg")
		if !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestDirLoadMissingProject(t *testing.T) {
	if _, err := NewDir(t.TempDir()).LoadFiles(context.Background(), "o", "missing", ""); err == nil {
		t.Fatalf("expected an error for a missing project")
	}
}
