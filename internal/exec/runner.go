// Package exec runs a file's code through a sandbox: either the remote
// sandbox service over HTTP or a local Docker daemon.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codesync/internal/models"
)

// Executor runs one program and reports its output.
type Executor interface {
	Execute(ctx context.Context, req models.RunRequest) (models.RunResult, error)
}

// Limits bound a single run.
type Limits struct {
	WallTime time.Duration
	MemoryB  int64
	NanoCPUs int64
}

func (l Limits) withDefaults() Limits {
	if l.WallTime <= 0 {
		l.WallTime = 10 * time.Second
	}
	if l.MemoryB == 0 {
		l.MemoryB = 512 * 1024 * 1024
	}
	if l.NanoCPUs == 0 {
		l.NanoCPUs = 1_000_000_000
	}
	return l
}

// Runner calls the sandbox service's POST /run endpoint.
type Runner struct {
	client  *http.Client
	baseURL string
	limits  Limits
}

func NewRunner(baseURL string, limits Limits) *Runner {
	limits = limits.withDefaults()
	return &Runner{
		client:  &http.Client{Timeout: limits.WallTime + 5*time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  limits,
	}
}

type sandboxLimits struct {
	WallTimeMs  int64 `json:"wallTimeMs"`
	MemoryBytes int64 `json:"memoryBytes"`
	NanoCPUs    int64 `json:"nanoCPUs"`
}

type sandboxRequest struct {
	Language string        `json:"language"`
	Code     string        `json:"code"`
	Limits   sandboxLimits `json:"limits"`
}

type runExit struct {
	Code     int  `json:"code"`
	TimedOut bool `json:"timedOut"`
}

type sandboxResponse struct {
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	Exit     runExit `json:"exit"`
	TimeMs   int64   `json:"timeMs,omitempty"`
	MemoryKB int64   `json:"memoryKb,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func (r *Runner) Execute(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	lang, err := ParseLanguage(req.Language)
	if err != nil {
		return models.RunResult{}, err
	}
	body, err := json.Marshal(sandboxRequest{
		Language: string(lang),
		Code:     req.Code,
		Limits: sandboxLimits{
			WallTimeMs:  r.limits.WallTime.Milliseconds(),
			MemoryBytes: r.limits.MemoryB,
			NanoCPUs:    r.limits.NanoCPUs,
		},
	})
	if err != nil {
		return models.RunResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return models.RunResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return models.RunResult{}, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.RunResult{}, err
	}

	var out sandboxResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return models.RunResult{}, &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return models.RunResult{}, &RemoteError{Status: resp.StatusCode, Message: "non-JSON response: " + decodeErr.Error()}
	}
	if out.Error != "" {
		return models.RunResult{}, &RemoteError{Status: resp.StatusCode, Message: out.Error}
	}

	result := models.RunResult{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.Exit.Code,
		TimedOut: out.Exit.TimedOut,
		TimeMs:   out.TimeMs,
		MemoryKB: out.MemoryKB,
	}
	if result.TimeMs == 0 {
		result.TimeMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

// IsUnavailable reports whether err means no sandbox could be reached.
func IsUnavailable(err error) bool { return errors.Is(err, ErrSandboxUnavailable) }
