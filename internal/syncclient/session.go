// Package syncclient is one participant's view of a shared project: the file
// tree, the active file's buffer, the edits it publishes and receives, and the
// room's chat.
//
// All state is guarded by a single mutex. Timer callbacks and inbound frames
// take the same lock, so the session behaves as if driven by one event loop.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"codesync/internal/chat"
	"codesync/internal/debounce"
	"codesync/internal/exec"
	"codesync/internal/models"
	"codesync/internal/repostore"
	"codesync/internal/transport"
	"codesync/internal/tree"
	"codesync/internal/utils"
)

const (
	DefaultEditDebounce = 300 * time.Millisecond
	// InitialFile is opened after a load when the project has one.
	InitialFile = "index.js"
)

// Conn is the wire to the broker. *transport.Client implements it.
type Conn interface {
	Send(frameType string, data any) error
	Run(ctx context.Context, h transport.Handler) error
	Close() error
}

type Options struct {
	EditDebounce time.Duration
	AfterFunc    debounce.AfterFunc
	Now          func() time.Time
	Store        repostore.Store
	Executor     exec.Executor
	Chat         chat.Options
	// OnChange runs after visible state changed: buffer, tree, roster, state or chat.
	OnChange func()
	// OnError receives non-fatal faults. Sync faults wrap ErrSyncDegraded.
	OnError func(error)
	Log     *utils.Logger
}

func (o *Options) defaults() {
	if o.EditDebounce <= 0 {
		o.EditDebounce = DefaultEditDebounce
	}
	if o.AfterFunc == nil {
		o.AfterFunc = debounce.Real
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = utils.NewNopLogger()
	}
	if o.Chat.AfterFunc == nil {
		o.Chat.AfterFunc = o.AfterFunc
	}
	if o.Chat.Now == nil {
		o.Chat.Now = o.Now
	}
}

type Session struct {
	sc   models.SessionContext
	conn Conn
	opts Options
	chat *chat.Client

	mu       sync.Mutex
	state    State
	tree     *tree.Tree
	modified tree.Modified
	active   string
	buffer   string
	cursor   Position

	roster      []string
	rosterStale bool

	edit    *debounce.Debouncer
	editSeq uint64
}

func New(sc models.SessionContext, conn Conn, opts Options) *Session {
	opts.defaults()
	s := &Session{
		sc:       sc,
		conn:     conn,
		opts:     opts,
		tree:     tree.New(),
		modified: make(tree.Modified),
		edit:     debounce.New(opts.EditDebounce, opts.AfterFunc),
	}
	chatOpts := opts.Chat
	userChange, userError := chatOpts.OnChange, chatOpts.OnError
	chatOpts.OnChange = func() {
		if userChange != nil {
			userChange()
		}
		s.changed()
	}
	chatOpts.OnError = func(err error) {
		if userError != nil {
			userError(err)
		}
		s.degraded(err)
	}
	s.chat = chat.NewClient(sc, conn, chatOpts)
	return s
}

func (s *Session) Context() models.SessionContext { return s.sc }

func (s *Session) Chat() *chat.Client { return s.chat }

// Run connects and keeps the session attached to the broker until ctx ends or
// Leave is called.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = Connecting
	s.mu.Unlock()
	s.changed()

	err := s.conn.Run(ctx, s)

	s.mu.Lock()
	if s.state != Closed {
		s.state = Disconnected
	}
	s.mu.Unlock()
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

/*** transport.Handler ***/

func (s *Session) OnConnected() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	reconnect := s.state == Reconnecting
	s.state = Connected
	if reconnect {
		s.rosterStale = true
	}
	err := s.conn.Send(models.FrameJoin, models.PresenceRequest{ParticipantID: s.sc.ParticipantID})
	if err == nil && s.active != "" {
		err = s.subscribeLocked(s.active)
	}
	s.mu.Unlock()

	s.opts.Log.Info("connected", "room", s.sc.RoomID(), "participant", s.sc.ParticipantID, "reconnect", reconnect)
	s.degraded(err)
	s.degraded(s.chat.Join())
	s.changed()
}

func (s *Session) OnDisconnected(err error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Reconnecting
	s.rosterStale = true
	s.mu.Unlock()

	s.opts.Log.Warn("connection lost", "room", s.sc.RoomID(), "error", err)
	if err != nil {
		s.degraded(fmt.Errorf("connection lost: %w", err))
	}
	s.changed()
}

func (s *Session) OnError(err error) { s.degraded(err) }

func (s *Session) OnFrame(frame models.InboundFrame) {
	var err error
	switch frame.Type {
	case models.FrameRoster:
		var v models.RosterSnapshot
		if err = decode(frame, &v); err == nil {
			s.HandleRoster(v)
		}
	case models.FrameEdit:
		var v models.EditMessage
		if err = decode(frame, &v); err == nil {
			s.HandleEdit(v)
		}
	case models.FrameChat:
		var v models.ChatMessage
		if err = decode(frame, &v); err == nil {
			s.chat.HandleMessage(v)
		}
	case models.FrameChatHistory:
		var v models.ChatHistory
		if err = decode(frame, &v); err == nil {
			s.chat.HandleHistory(v)
		}
	case models.FrameTyping:
		var v models.TypingStatus
		if err = decode(frame, &v); err == nil {
			s.chat.HandleTyping(v)
		}
	case models.FrameError:
		var msg string
		if err = decode(frame, &msg); err == nil {
			s.degraded(fmt.Errorf("broker: %s", msg))
		}
	default:
		s.opts.Log.Debug("ignoring frame", "type", frame.Type)
	}
	if err != nil {
		s.degraded(fmt.Errorf("%w: %s frame: %v", transport.ErrMalformedMessage, frame.Type, err))
	}
}

func decode(frame models.InboundFrame, v any) error {
	if len(frame.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(frame.Data, v)
}

/*** Presence ***/

func (s *Session) HandleRoster(r models.RosterSnapshot) {
	if r.RoomID != "" && r.RoomID != s.sc.RoomID() {
		return
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.roster = append([]string(nil), r.Participants...)
	s.rosterStale = false
	s.mu.Unlock()
	s.changed()
}

// Roster returns the last snapshot and whether it predates a reconnect.
func (s *Session) Roster() (participants []string, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roster...), s.rosterStale
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Leave announces departure when connected, stops every timer and closes the
// connection. Later operations fail with ErrClosed.
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	if s.state == Connected {
		if err := s.conn.Send(models.FrameLeave, models.PresenceRequest{ParticipantID: s.sc.ParticipantID}); err != nil {
			s.opts.Log.Warn("leave not delivered", "room", s.sc.RoomID(), "error", err)
		}
	}
	s.state = Closed
	s.edit.Cancel()
	s.editSeq++
	s.mu.Unlock()

	s.chat.Close()
	err := s.conn.Close()
	s.changed()
	return err
}

/*** Files ***/

// Load replaces the tree with the project's files from the store and opens
// the initial file. It returns the opened path, empty for an empty project.
func (s *Session) Load(ctx context.Context) (string, error) {
	if s.opts.Store == nil {
		return "", ErrNoStore
	}
	if s.closed() {
		return "", ErrClosed
	}
	files, err := s.opts.Store.LoadFiles(ctx, s.sc.Owner, s.sc.Repo, s.sc.Branch)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}
	t, err := tree.Build(files)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.tree = t
	s.modified = make(tree.Modified)
	initial := ""
	if n, ok := t.Find(InitialFile); ok && n.Kind == tree.File {
		initial = n.Path
	} else if n, ok := t.FirstRootFile(); ok {
		initial = n.Path
	}
	if initial != "" {
		err = s.openLocked(initial)
	}
	s.mu.Unlock()

	s.opts.Log.Info("project loaded", "owner", s.sc.Owner, "repo", s.sc.Repo, "files", len(files), "initial", initial)
	s.degraded(err)
	s.changed()
	return initial, nil
}

// Open makes path the active file. A pending publish for the previous file is
// dropped, not flushed.
func (s *Session) Open(path string) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	n, ok := s.tree.Find(path)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("open %q: %w", path, tree.ErrNotFound)
	}
	if n.Kind != tree.File {
		s.mu.Unlock()
		return fmt.Errorf("open %q: %w", path, tree.ErrNotFile)
	}
	if path == s.active {
		s.mu.Unlock()
		return nil
	}
	err := s.openLocked(path)
	s.mu.Unlock()
	s.degraded(err)
	s.changed()
	return nil
}

func (s *Session) openLocked(path string) error {
	s.edit.Cancel()
	s.editSeq++

	var err error
	prev := s.active
	s.active = path
	if content, ok := s.modified[path]; ok {
		s.buffer = content
	} else {
		s.buffer, _ = s.tree.Content(path)
	}
	s.cursor = Position{}

	if s.state != Connected {
		return nil
	}
	if prev != "" {
		err = s.conn.Send(models.FrameUnsubscribe, models.SubscribeRequest{FilePath: prev})
	}
	if subErr := s.subscribeLocked(path); err == nil {
		err = subErr
	}
	return err
}

func (s *Session) subscribeLocked(path string) error {
	if err := s.conn.Send(models.FrameSubscribe, models.SubscribeRequest{FilePath: path}); err != nil {
		return err
	}
	return s.conn.Send(models.FrameRequestCurrent, models.RequestCurrent{FilePath: path, RequesterID: s.sc.ParticipantID})
}

// Type records the active file's full new content. The edit is published
// once typing pauses for the edit debounce.
func (s *Session) Type(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return ErrClosed
	}
	if s.active == "" {
		return ErrNoActiveFile
	}
	if err := s.tree.SetContent(s.active, content); err != nil {
		return err
	}
	s.modified[s.active] = content
	s.buffer = content

	s.editSeq++
	seq, path := s.editSeq, s.active
	s.edit.Trigger(func() { s.publishEdit(path, seq) })
	return nil
}

func (s *Session) publishEdit(path string, seq uint64) {
	s.mu.Lock()
	if s.state == Closed || seq != s.editSeq || path != s.active {
		s.mu.Unlock()
		return
	}
	msg := models.EditMessage{
		RoomID:    s.sc.RoomID(),
		FilePath:  path,
		SenderID:  s.sc.ParticipantID,
		Content:   s.buffer,
		Timestamp: s.opts.Now().UnixMilli(),
	}
	err := s.conn.Send(models.FrameEdit, msg)
	s.mu.Unlock()
	if err != nil {
		s.degraded(fmt.Errorf("publish %s: %w", path, err))
	}
}

// HandleEdit applies an inbound edit for the active file. The last message
// wins, including this participant's own echo.
func (s *Session) HandleEdit(m models.EditMessage) {
	if m.RoomID != "" && m.RoomID != s.sc.RoomID() {
		return
	}
	s.mu.Lock()
	if s.state == Closed || m.FilePath != s.active {
		s.mu.Unlock()
		return
	}
	if err := s.tree.SetContent(m.FilePath, m.Content); err != nil {
		s.mu.Unlock()
		s.opts.Log.Warn("edit for unknown file", "path", m.FilePath, "error", err)
		return
	}
	s.buffer = m.Content
	s.cursor = s.cursor.clamp(m.Content)
	s.mu.Unlock()
	s.changed()
}

func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *Session) Cursor() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Session) SetCursor(p Position) {
	s.mu.Lock()
	s.cursor = p.clamp(s.buffer)
	s.mu.Unlock()
}

// Content returns a file's stored content.
func (s *Session) Content(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Content(path)
}

// Roots snapshots the file tree.
func (s *Session) Roots() []tree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Roots()
}

func (s *Session) Expanded(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Expanded(path)
}

func (s *Session) ToggleFolder(path string) {
	s.mu.Lock()
	s.tree.ToggleExpanded(path)
	s.mu.Unlock()
	s.changed()
}

// Changed lists files whose local content differs from the last commit.
func (s *Session) Changed() []tree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.ChangedFiles(s.modified)
}

func (s *Session) CreateFile(parent, name string) (tree.Node, error) {
	return s.create(parent, name, (*tree.Tree).CreateFile)
}

func (s *Session) CreateFolder(parent, name string) (tree.Node, error) {
	return s.create(parent, name, (*tree.Tree).CreateFolder)
}

func (s *Session) create(parent, name string, fn func(*tree.Tree, string, string) (tree.Node, error)) (tree.Node, error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return tree.Node{}, ErrClosed
	}
	n, err := fn(s.tree, parent, name)
	s.mu.Unlock()
	if err != nil {
		return tree.Node{}, err
	}
	s.changed()
	return n, nil
}

/*** Store and executor ***/

// Commit writes every changed file to the store as one commit. Local changes
// are only cleared once the store confirms.
func (s *Session) Commit(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return repostore.ErrMissingCommitMessage
	}
	if s.sc.Token == "" || s.sc.Owner == "" || s.sc.Repo == "" {
		return repostore.ErrMissingAuth
	}
	if s.opts.Store == nil {
		return ErrNoStore
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	files := s.tree.ChangedContents(s.modified)
	s.mu.Unlock()
	if len(files) == 0 {
		return repostore.ErrNoChanges
	}

	if err := s.opts.Store.Commit(ctx, s.sc.Owner, s.sc.Repo, s.sc.Branch, files, message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.tree.MarkCommitted(files)
	for p, content := range s.modified {
		if n, ok := s.tree.Find(p); !ok || n.OriginalContent == content {
			delete(s.modified, p)
		}
	}
	s.mu.Unlock()
	s.opts.Log.Info("changes committed", "repo", s.sc.Repo, "branch", s.sc.Branch, "files", len(files))
	s.changed()
	return nil
}

// Execute runs a file, the active one when path is empty, with the language
// implied by its extension.
func (s *Session) Execute(ctx context.Context, path string) (models.RunResult, error) {
	if s.opts.Executor == nil {
		return models.RunResult{}, exec.ErrSandboxUnavailable
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return models.RunResult{}, ErrClosed
	}
	if path == "" {
		path = s.active
	}
	if path == "" {
		s.mu.Unlock()
		return models.RunResult{}, ErrNoActiveFile
	}
	code, ok := s.modified[path]
	if !ok {
		code, ok = s.tree.Content(path)
	}
	s.mu.Unlock()
	if !ok {
		return models.RunResult{}, fmt.Errorf("execute %q: %w", path, tree.ErrNotFound)
	}
	lang, ok := exec.LanguageForPath(path)
	if !ok {
		return models.RunResult{}, fmt.Errorf("execute %q: %w", path, exec.ErrUnsupportedLanguage)
	}
	if code == "" {
		return models.RunResult{}, ErrNoContent
	}
	return s.opts.Executor.Execute(ctx, models.RunRequest{
		RoomID:   s.sc.RoomID(),
		UserID:   s.sc.ParticipantID,
		FilePath: path,
		Language: string(lang),
		Code:     code,
	})
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Closed
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// degraded reports a non-fatal sync fault wrapped in ErrSyncDegraded.
func (s *Session) degraded(err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, ErrSyncDegraded) {
		err = fmt.Errorf("%w: %w", ErrSyncDegraded, err)
	}
	s.opts.Log.Warn("sync degraded", "room", s.sc.RoomID(), "error", err)
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
