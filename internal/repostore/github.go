package repostore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"codesync/internal/retry"
	"codesync/internal/utils"
)

const DefaultGitHubURL = "https://api.github.com"

// GitHub talks to the git data API: trees and blobs for reading, then
// blob -> tree -> commit -> ref for writing.
type GitHub struct {
	client  *http.Client
	baseURL string
	token   string
	retry   retry.Config
	log     *utils.Logger
}

type GitHubOption func(*GitHub)

func WithBaseURL(u string) GitHubOption {
	return func(g *GitHub) { g.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHub) { g.client = c }
}

func WithRetry(cfg retry.Config) GitHubOption {
	return func(g *GitHub) { g.retry = cfg }
}

func WithLogger(l *utils.Logger) GitHubOption {
	return func(g *GitHub) { g.log = l }
}

func NewGitHub(token string, opts ...GitHubOption) *GitHub {
	g := &GitHub{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: DefaultGitHubURL,
		token:   token,
		retry:   retry.DefaultConfig(),
		log:     utils.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type blobResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commitResponse struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

func (g *GitHub) LoadFiles(ctx context.Context, owner, repo, branch string) (map[string]string, error) {
	if g.token == "" {
		return nil, ErrMissingAuth
	}
	var tree treeResponse
	treePath := fmt.Sprintf("%s/git/trees/%s?recursive=1", g.repoPath(owner, repo), branch)
	if err := g.get(ctx, "load tree", treePath, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		g.log.Warn("repository tree truncated", "owner", owner, "repo", repo, "branch", branch, "entries", len(tree.Tree))
		return nil, fmt.Errorf("%w: %s/%s@%s lists %d entries", ErrTreeTruncated, owner, repo, branch, len(tree.Tree))
	}

	files := make(map[string]string)
	for _, e := range tree.Tree {
		if e.Type != "blob" {
			continue
		}
		var blob blobResponse
		if err := g.get(ctx, "load blob", g.repoPath(owner, repo)+"/git/blobs/"+e.SHA, &blob); err != nil {
			return nil, err
		}
		content, err := decodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Path, err)
		}
		files[e.Path] = content
	}
	g.log.Info("repository loaded", "owner", owner, "repo", repo, "branch", branch, "files", len(files))
	return files, nil
}

func decodeBlob(b blobResponse) (string, error) {
	if b.Encoding != "base64" {
		return b.Content, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(b.Content), ""))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (g *GitHub) Commit(ctx context.Context, owner, repo, branch string, files map[string]string, message string) error {
	if g.token == "" {
		return ErrMissingAuth
	}
	if err := validateCommit(files, message); err != nil {
		return err
	}
	base := g.repoPath(owner, repo)
	refPath := base + "/git/ref/heads/" + branch

	var ref refResponse
	if err := g.get(ctx, "read ref", refPath, &ref); err != nil {
		return err
	}
	var head commitResponse
	if err := g.get(ctx, "read commit", base+"/git/commits/"+ref.Object.SHA, &head); err != nil {
		return err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		if p == "" || strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]treeEntry, 0, len(paths))
	for _, p := range paths {
		var blob blobResponse
		body := map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte(files[p])),
			"encoding": "base64",
		}
		if err := g.send(ctx, "create blob", http.MethodPost, base+"/git/blobs", body, &blob); err != nil {
			return err
		}
		entries = append(entries, treeEntry{Path: p, Mode: "100644", Type: "blob", SHA: blob.SHA})
	}

	var tree treeResponse
	if err := g.send(ctx, "create tree", http.MethodPost, base+"/git/trees",
		map[string]any{"base_tree": head.Tree.SHA, "tree": entries}, &tree); err != nil {
		return err
	}
	var commit commitResponse
	if err := g.send(ctx, "create commit", http.MethodPost, base+"/git/commits",
		map[string]any{"message": message, "tree": tree.SHA, "parents": []string{ref.Object.SHA}}, &commit); err != nil {
		return err
	}
	if err := g.send(ctx, "update ref", http.MethodPatch, base+"/git/refs/heads/"+branch,
		map[string]string{"sha": commit.SHA}, nil); err != nil {
		return err
	}
	g.log.Info("commit pushed", "owner", owner, "repo", repo, "branch", branch, "sha", commit.SHA, "files", len(paths))
	return nil
}

func (g *GitHub) repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// get retries transient failures; writes are sent once.
func (g *GitHub) get(ctx context.Context, op, path string, out any) error {
	_, err := retry.Do(ctx, g.retry, func() (struct{}, error) {
		err := g.send(ctx, op, http.MethodGet, path, nil, out)
		var re *RemoteError
		if errors.As(err, &re) && (re.Status >= 500 || re.Status == http.StatusTooManyRequests) {
			return struct{}{}, retry.Retryable(err)
		}
		return struct{}{}, err
	})
	return err
}

func (g *GitHub) send(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("repostore: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("repostore: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("repostore: %s: decode response: %w", op, err)
	}
	return nil
}
