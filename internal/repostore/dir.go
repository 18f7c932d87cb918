package repostore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Dir keeps projects as plain directories under Root, one per owner/repo.
// The branch is ignored.
type Dir struct {
	Root string
}

func NewDir(root string) *Dir { return &Dir{Root: root} }

func (d *Dir) project(owner, repo string) string {
	return filepath.Join(d.Root, owner, repo)
}

func (d *Dir) LoadFiles(ctx context.Context, owner, repo, _ string) (map[string]string, error) {
	root := d.project(owner, repo)
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if p != root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repostore: load %s/%s: %w", owner, repo, err)
	}
	return files, nil
}

func (d *Dir) Commit(ctx context.Context, owner, repo, _ string, files map[string]string, message string) error {
	if err := validateCommit(files, message); err != nil {
		return err
	}
	root := d.project(owner, repo)
	for p := range files {
		if !fs.ValidPath(p) || p == "." || path.Clean(p) != p {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	for p, content := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := writeFileAtomic(dst, []byte(content)); err != nil {
			return fmt.Errorf("repostore: write %s: %w", p, err)
		}
	}
	return nil
}

func writeFileAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".codesync-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
