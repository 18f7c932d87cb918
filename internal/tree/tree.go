// Package tree models a project's files as a folder hierarchy built from the
// flat path->content map handed out by the repository store.
//
// Nodes live in an arena keyed by their full path, so lookups and content
// updates never walk the hierarchy. A Tree belongs to a single workspace
// session and is not safe for concurrent use.
package tree

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
)

const Separator = "/"

type Kind uint8

const (
	File Kind = iota
	Folder
)

func (k Kind) String() string {
	if k == Folder {
		return "folder"
	}
	return "file"
}

var (
	ErrInvalidPath     = errors.New("tree: invalid path")
	ErrPathConflict    = errors.New("tree: path used as both file and folder")
	ErrNotFound        = errors.New("tree: path not found")
	ErrNotFile         = errors.New("tree: not a file")
	ErrNotFolder       = errors.New("tree: not a folder")
	ErrPathExists      = errors.New("tree: path already exists")
	ErrEmptyName       = errors.New("tree: name is empty")
	ErrInvalidName     = errors.New("tree: name must not contain a separator")
	ErrIdentityChanged = errors.New("tree: update must not change kind, name or path")
)

// Node is an immutable snapshot of a file or folder. Children is only set for
// folders and is already in display order.
type Node struct {
	Kind            Kind
	Name            string
	Path            string
	Content         string
	OriginalContent string
	Children        []Node
}

func (n Node) IsFolder() bool { return n.Kind == Folder }

// Modified maps a file path to its latest local content since the last commit.
type Modified map[string]string

type entry struct {
	kind     Kind
	name     string
	path     string
	content  string
	original string
	children []string
}

type Tree struct {
	nodes    map[string]*entry
	roots    []string
	expanded map[string]bool
}

func New() *Tree {
	return &Tree{
		nodes:    make(map[string]*entry),
		expanded: make(map[string]bool),
	}
}

// Build creates the hierarchy for a flat path->content map. Every folder
// starts expanded. Siblings are ordered folders first, then by name.
func Build(files map[string]string) (*Tree, error) {
	t := New()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		segments, err := split(p)
		if err != nil {
			return nil, err
		}
		parent := ""
		for i, name := range segments {
			full := join(parent, name)
			last := i == len(segments)-1
			existing, ok := t.nodes[full]
			switch {
			case ok && last:
				return nil, fmt.Errorf("%w: %q", ErrPathConflict, full)
			case ok && existing.kind == File:
				return nil, fmt.Errorf("%w: %q", ErrPathConflict, full)
			case ok:
				// folder reused
			case last:
				content := files[p]
				t.insert(parent, &entry{kind: File, name: name, path: full, content: content, original: content})
			default:
				t.insert(parent, &entry{kind: Folder, name: name, path: full})
				t.expanded[full] = true
			}
			parent = full
		}
	}

	t.sortChildren(t.roots)
	return t, nil
}

func (t *Tree) sortChildren(paths []string) {
	slices.SortStableFunc(paths, func(a, b string) int {
		ea, eb := t.nodes[a], t.nodes[b]
		if ea.kind != eb.kind {
			if ea.kind == Folder {
				return -1
			}
			return 1
		}
		return cmp.Compare(ea.name, eb.name)
	})
	for _, p := range paths {
		if e := t.nodes[p]; e.kind == Folder {
			t.sortChildren(e.children)
		}
	}
}

func (t *Tree) insert(parent string, e *entry) {
	t.nodes[e.path] = e
	if parent == "" {
		t.roots = append(t.roots, e.path)
		return
	}
	p := t.nodes[parent]
	p.children = append(p.children, e.path)
}

// Len returns the number of nodes, files and folders together.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Find(path string) (Node, bool) {
	e, ok := t.nodes[path]
	if !ok {
		return Node{}, false
	}
	return t.snapshot(e), true
}

// Roots returns the top-level nodes with their full subtrees.
func (t *Tree) Roots() []Node {
	out := make([]Node, 0, len(t.roots))
	for _, p := range t.roots {
		out = append(out, t.snapshot(t.nodes[p]))
	}
	return out
}

func (t *Tree) snapshot(e *entry) Node {
	n := Node{
		Kind:            e.kind,
		Name:            e.name,
		Path:            e.path,
		Content:         e.content,
		OriginalContent: e.original,
	}
	if e.kind == Folder {
		n.Children = make([]Node, 0, len(e.children))
		for _, c := range e.children {
			n.Children = append(n.Children, t.snapshot(t.nodes[c]))
		}
	}
	return n
}

// Update applies fn to a copy of the node at path and stores the result. Only
// file contents may change; renames and re-parenting are rejected.
func (t *Tree) Update(path string, fn func(Node) Node) (Node, error) {
	e, ok := t.nodes[path]
	if !ok {
		return Node{}, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	next := fn(t.snapshot(e))
	if next.Kind != e.kind || next.Name != e.name || next.Path != e.path {
		return Node{}, ErrIdentityChanged
	}
	if e.kind == File {
		e.content = next.Content
		e.original = next.OriginalContent
	}
	return t.snapshot(e), nil
}

func (t *Tree) SetContent(path, content string) error {
	e, ok := t.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if e.kind != File {
		return fmt.Errorf("%w: %q", ErrNotFile, path)
	}
	e.content = content
	return nil
}

// Content returns the stored content of the file at path.
func (t *Tree) Content(path string) (string, bool) {
	e, ok := t.nodes[path]
	if !ok || e.kind != File {
		return "", false
	}
	return e.content, true
}

// Files yields every file in display order. Each call walks the tree again.
func (t *Tree) Files() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		t.walkFiles(t.roots, yield)
	}
}

func (t *Tree) walkFiles(paths []string, yield func(Node) bool) bool {
	for _, p := range paths {
		e := t.nodes[p]
		if e.kind == Folder {
			if !t.walkFiles(e.children, yield) {
				return false
			}
			continue
		}
		if !yield(t.snapshot(e)) {
			return false
		}
	}
	return true
}

// FirstRootFile returns the first top-level file in display order.
func (t *Tree) FirstRootFile() (Node, bool) {
	for _, p := range t.roots {
		if e := t.nodes[p]; e.kind == File {
			return t.snapshot(e), true
		}
	}
	return Node{}, false
}

// ChangedFiles returns the files whose modified content differs from what was
// originally loaded. Content on the returned nodes is the modified value.
func (t *Tree) ChangedFiles(modified Modified) []Node {
	var out []Node
	for f := range t.Files() {
		v, ok := modified[f.Path]
		if !ok || v == f.OriginalContent {
			continue
		}
		f.Content = v
		out = append(out, f)
	}
	return out
}

// ChangedContents is ChangedFiles flattened to the path->content map sent on commit.
func (t *Tree) ChangedContents(modified Modified) map[string]string {
	out := make(map[string]string)
	for _, f := range t.ChangedFiles(modified) {
		out[f.Path] = f.Content
	}
	return out
}

// MarkCommitted makes the given contents the new baseline for diffing.
func (t *Tree) MarkCommitted(files map[string]string) {
	for p, content := range files {
		if e, ok := t.nodes[p]; ok && e.kind == File {
			e.original = content
		}
	}
}

// CreateFile appends an empty file to parent ("" for the top level) and
// expands the parent folder.
func (t *Tree) CreateFile(parent, name string) (Node, error) {
	return t.create(parent, name, File)
}

func (t *Tree) CreateFolder(parent, name string) (Node, error) {
	return t.create(parent, name, Folder)
}

func (t *Tree) create(parent, name string, kind Kind) (Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Node{}, ErrEmptyName
	}
	if strings.Contains(name, Separator) {
		return Node{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if parent != "" {
		p, ok := t.nodes[parent]
		if !ok {
			return Node{}, fmt.Errorf("%w: %q", ErrNotFound, parent)
		}
		if p.kind != Folder {
			return Node{}, fmt.Errorf("%w: %q", ErrNotFolder, parent)
		}
	}
	full := join(parent, name)
	if _, exists := t.nodes[full]; exists {
		return Node{}, fmt.Errorf("%w: %q", ErrPathExists, full)
	}

	e := &entry{kind: kind, name: name, path: full}
	t.insert(parent, e)
	if parent != "" {
		t.expanded[parent] = true
	}
	if kind == Folder {
		t.expanded[full] = true
	}
	return t.snapshot(e), nil
}

func (t *Tree) Expanded(path string) bool { return t.expanded[path] }

func (t *Tree) SetExpanded(path string, open bool) {
	if e, ok := t.nodes[path]; ok && e.kind == Folder {
		t.expanded[path] = open
	}
}

func (t *Tree) ToggleExpanded(path string) {
	t.SetExpanded(path, !t.expanded[path])
}

func split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segments := strings.Split(path, Separator)
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segments, nil
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + Separator + name
}
