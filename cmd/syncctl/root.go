package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codesync/internal/exec"
	"codesync/internal/models"
	"codesync/internal/repostore"
	"codesync/internal/syncclient"
	"codesync/internal/transport"
	"codesync/internal/utils"
)

type globalOptions struct {
	server      string
	owner       string
	repo        string
	branch      string
	participant string
	roomToken   string
	jwtSecret   string
	storeKind   string
	dir         string
	githubToken string
	githubAPI   string
	sandboxURL  string
	verbose     bool
}

// app carries the parsed flags into every subcommand.
type app struct {
	opts globalOptions
	// dial builds the broker connection; replaced in tests.
	dial func(url string, header http.Header, log *utils.Logger) syncclient.Conn
}

func newApp() *app {
	return &app{
		dial: func(u string, header http.Header, log *utils.Logger) syncclient.Conn {
			return transport.New(transport.Options{URL: u, Header: header, Log: log})
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Work in a codesync room from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.repo == "" {
				return errors.New("--repo is required")
			}
			if a.opts.participant == "" {
				a.opts.participant = defaultParticipant()
			}
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.server, "server", envOr("CODESYNC_SERVER", "ws://localhost:8080"), "broker base URL")
	f.StringVar(&a.opts.owner, "owner", os.Getenv("CODESYNC_OWNER"), "repository owner")
	f.StringVar(&a.opts.repo, "repo", os.Getenv("CODESYNC_REPO"), "repository name, also the room id")
	f.StringVar(&a.opts.branch, "branch", envOr("CODESYNC_BRANCH", "main"), "repository branch")
	f.StringVar(&a.opts.participant, "participant", os.Getenv("CODESYNC_PARTICIPANT"), "participant id (defaults to $USER)")
	f.StringVar(&a.opts.roomToken, "room-token", os.Getenv("CODESYNC_ROOM_TOKEN"), "room token sent to the broker")
	f.StringVar(&a.opts.jwtSecret, "secret", os.Getenv("CODESYNC_JWT_SECRET"), "sign a room token locally with this secret")
	f.StringVar(&a.opts.storeKind, "store", envOr("CODESYNC_STORE", "github"), "repository store: github or dir")
	f.StringVar(&a.opts.dir, "dir", os.Getenv("CODESYNC_DIR"), "root of the directory store")
	f.StringVar(&a.opts.githubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token for the github store")
	f.StringVar(&a.opts.githubAPI, "github-api", os.Getenv("GITHUB_API_URL"), "GitHub API base URL")
	f.StringVar(&a.opts.sandboxURL, "sandbox", os.Getenv("SANDBOX_URL"), "sandbox service URL for run")
	f.BoolVarP(&a.opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newWatchCmd(a),
		newChatCmd(a),
		newEditCmd(a),
		newRunCmd(a),
		newPushCmd(a),
		newTokenCmd(a),
	)
	return root
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) logger() *utils.Logger {
	if !a.opts.verbose {
		return utils.NewNopLogger()
	}
	z, err := zap.NewDevelopment()
	if err != nil {
		return utils.NewNopLogger()
	}
	return utils.FromZap(z)
}

func (a *app) sessionContext() models.SessionContext {
	sc := models.SessionContext{
		ParticipantID: a.opts.participant,
		Owner:         a.opts.owner,
		Repo:          a.opts.repo,
		Branch:        a.opts.branch,
		Token:         a.opts.githubToken,
	}
	// A directory store needs no credential; its root stands in for one.
	if a.opts.storeKind == "dir" {
		sc.Token = "file://" + a.opts.dir
	}
	return sc
}

func (a *app) store(log *utils.Logger) (repostore.Store, error) {
	switch a.opts.storeKind {
	case "github":
		opts := []repostore.GitHubOption{repostore.WithLogger(log)}
		if a.opts.githubAPI != "" {
			opts = append(opts, repostore.WithBaseURL(a.opts.githubAPI))
		}
		return repostore.NewGitHub(a.opts.githubToken, opts...), nil
	case "dir":
		if a.opts.dir == "" {
			return nil, errors.New("--dir is required for the dir store")
		}
		return repostore.NewDir(a.opts.dir), nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.opts.storeKind)
	}
}

func (a *app) executor() exec.Executor {
	if a.opts.sandboxURL == "" {
		return nil
	}
	return exec.NewRunner(a.opts.sandboxURL, exec.Limits{})
}

// roomURL maps the broker base URL to the room websocket endpoint.
func (a *app) roomURL() (string, error) {
	u, err := url.Parse(a.opts.server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/rooms/" + url.PathEscape(a.opts.repo)
	u.RawQuery = url.Values{"participant": {a.opts.participant}}.Encode()
	return u.String(), nil
}

func (a *app) header() (http.Header, error) {
	token := a.opts.roomToken
	if token == "" && a.opts.jwtSecret != "" {
		t, err := utils.SignRoomToken([]byte(a.opts.jwtSecret), a.opts.repo, a.opts.participant)
		if err != nil {
			return nil, fmt.Errorf("sign room token: %w", err)
		}
		token = t
	}
	if token == "" {
		return nil, nil
	}
	return http.Header{"Authorization": {"Bearer " + token}}, nil
}

// newSession wires a session to the broker, the repository store and the
// sandbox. OnError defaults to printing faults on errOut.
func (a *app) newSession(opts syncclient.Options, errOut io.Writer) (*syncclient.Session, error) {
	log := a.logger()
	u, err := a.roomURL()
	if err != nil {
		return nil, err
	}
	header, err := a.header()
	if err != nil {
		return nil, err
	}
	st, err := a.store(log)
	if err != nil {
		return nil, err
	}
	opts.Store = st
	opts.Executor = a.executor()
	opts.Log = log
	if opts.OnError == nil {
		opts.OnError = func(err error) { fmt.Fprintln(errOut, "!", err) }
	}
	return syncclient.New(a.sessionContext(), a.dial(u, header, log), opts), nil
}

// offlineOptions is for commands that never connect: sync faults are expected
// and not worth reporting.
func offlineOptions() syncclient.Options {
	return syncclient.Options{OnError: func(error) {}}
}

// runUntilDone keeps sess attached to the broker until ctx ends, then runs
// beforeLeave and leaves the room.
func runUntilDone(ctx context.Context, sess *syncclient.Session, beforeLeave func() error) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(runCtx) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-done:
		done = nil
	}
	if beforeLeave != nil {
		if hookErr := beforeLeave(); hookErr != nil && err == nil {
			err = hookErr
		}
	}
	if leaveErr := sess.Leave(); leaveErr != nil && err == nil && !errors.Is(leaveErr, transport.ErrClosed) {
		err = leaveErr
	}
	cancel()
	if done != nil {
		<-done
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultParticipant() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}
