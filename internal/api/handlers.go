package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"codesync/internal/exec"
	"codesync/internal/metrics"
	"codesync/internal/models"
	"codesync/internal/repositories"
	"codesync/internal/session"
	"codesync/internal/store"
	"codesync/internal/utils"
)

const runTimeout = 30 * time.Second

type Options struct {
	Log         *utils.Logger
	Store       *store.Store
	Executor    exec.Executor
	Executions  *repositories.ExecutionLogRepository
	JWTSecret   []byte
	RequireAuth bool
	PingPeriod  time.Duration // websocket keepalive; defaults to session.DefaultPingPeriod
	Now         func() time.Time
}

type Handlers struct {
	log         *utils.Logger
	hub         *session.Hub
	store       *store.Store
	executor    exec.Executor
	executions  *repositories.ExecutionLogRepository
	jwtSecret   []byte
	requireAuth bool
	pingPeriod  time.Duration
	now         func() time.Time
}

func NewHandlers(opts Options) *Handlers {
	if opts.Log == nil {
		opts.Log = utils.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{
		log:         opts.Log,
		hub:         session.NewHub(),
		store:       opts.Store,
		executor:    opts.Executor,
		executions:  opts.Executions,
		jwtSecret:   opts.JWTSecret,
		requireAuth: opts.RequireAuth,
		pingPeriod:  opts.PingPeriod,
		now:         opts.Now,
	}
}

func (h *Handlers) Hub() *session.Hub { return h.hub }

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// Ready reports whether Redis is reachable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		utils.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
		return
	}
	utils.JSON(w, http.StatusOK, map[string]string{"status": "ok", "instance": h.store.InstanceID()})
}

func (h *Handlers) Roster(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	participants, err := h.store.Roster(r.Context(), roomID)
	if err != nil {
		h.log.Error("read roster failed", "room", roomID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "failed to read roster")
		return
	}
	utils.JSON(w, http.StatusOK, models.RosterSnapshot{RoomID: roomID, Participants: participants})
}

func (h *Handlers) ChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	messages, err := h.store.ChatHistory(r.Context(), roomID)
	if err != nil {
		h.log.Error("read chat history failed", "room", roomID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "failed to read chat history")
		return
	}
	utils.JSON(w, http.StatusOK, models.ChatHistory{Messages: messages})
}

// RunOnce executes code through the configured executor and records the run.
func (h *Handlers) RunOnce(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lang, err := exec.ParseLanguage(req.Language)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unsupported language: "+req.Language)
		return
	}
	req.Language = string(lang)
	if strings.TrimSpace(req.Code) == "" {
		utils.JSONError(w, http.StatusBadRequest, "No content to execute")
		return
	}
	if h.executor == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "executor not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	started := h.now()
	res, err := h.executor.Execute(ctx, req)
	finished := h.now()

	entry := &models.ExecutionLog{
		RoomID:     req.RoomID,
		ExecutedBy: req.UserID,
		FilePath:   req.FilePath,
		Language:   req.Language,
		SourceCode: req.Code,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		entry.Status = models.ExecutionFailed
		entry.Stderr = err.Error()
		entry.ExitCode = -1
	} else {
		entry.Stdout, entry.Stderr, entry.ExitCode = res.Stdout, res.Stderr, res.ExitCode
		entry.TimeMs, entry.MemoryKB = res.TimeMs, res.MemoryKB
		switch {
		case res.TimedOut:
			entry.Status = models.ExecutionTimedOut
		case res.ExitCode != 0:
			entry.Status = models.ExecutionFailed
		default:
			entry.Status = models.ExecutionCompleted
		}
	}
	metrics.Executions.WithLabelValues(req.Language, entry.Status).Inc()
	h.recordExecution(entry)

	if err != nil {
		h.log.Error("execution failed", "room", req.RoomID, "language", req.Language, "error", err)
		var remote *exec.RemoteError
		switch {
		case errors.Is(err, exec.ErrSandboxUnavailable):
			utils.JSONError(w, http.StatusServiceUnavailable, "sandbox unavailable")
		case errors.As(err, &remote):
			utils.JSONError(w, http.StatusBadGateway, remote.Message)
		case errors.Is(err, context.DeadlineExceeded):
			utils.JSONError(w, http.StatusGatewayTimeout, "execution timed out")
		default:
			utils.JSONError(w, http.StatusInternalServerError, "execution failed")
		}
		return
	}
	utils.JSON(w, http.StatusOK, res)
}

func (h *Handlers) recordExecution(entry *models.ExecutionLog) {
	if h.executions == nil || entry.RoomID == "" {
		return
	}
	if err := h.executions.Create(entry); err != nil {
		h.log.Warn("failed to record execution", "room", entry.RoomID, "error", err)
	}
}

func (h *Handlers) Executions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "execution log not configured")
		return
	}
	roomID := chi.URLParam(r, "roomId")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.executions.ListByRoom(roomID, limit)
	if err != nil {
		h.log.Error("list executions failed", "room", roomID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	utils.JSON(w, http.StatusOK, logs)
}
