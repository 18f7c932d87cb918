package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"codesync/internal/syncclient"
)

func newEditCmd(a *app) *cobra.Command {
	var (
		local   string
		message string
	)
	cmd := &cobra.Command{
		Use:   "edit <path>",
		Short: "Mirror a project file into a local file and sync changes both ways",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if local == "" {
				local = filepath.Base(path)
			}
			m := &mirror{file: local}
			sess, err := a.newSession(syncclient.Options{OnChange: func() {
				if err := m.pull(); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "!", err)
				}
			}}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			m.attach(sess)

			ctx := cmd.Context()
			if _, err := sess.Load(ctx); err != nil {
				return err
			}
			if err := sess.Open(path); err != nil {
				return err
			}
			if err := m.pull(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "editing %s in %s\n", path, local)

			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			go func() {
				err := watchFile(watchCtx, local, func() {
					if err := m.push(); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "!", err)
					}
				})
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "! watch:", err)
				}
			}()

			return runUntilDone(ctx, sess, func() error {
				stopWatch()
				if message == "" {
					return nil
				}
				if err := sess.Commit(context.Background(), message); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "committed")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&local, "file", "f", "", "local file to mirror into (defaults to the base name)")
	cmd.Flags().StringVarP(&message, "commit-message", "m", "", "commit the changes with this message on exit")
	return cmd
}

// mirror keeps a local file and a session's active buffer in step. last is
// the content both sides agreed on most recently, so neither side echoes the
// other's write back.
type mirror struct {
	mu   sync.Mutex
	sess *syncclient.Session
	file string
	last string
}

func (m *mirror) attach(sess *syncclient.Session) {
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()
}

// push sends the local file's content to the session.
func (m *mirror) push() error {
	b, err := os.ReadFile(m.file)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || string(b) == m.last {
		return nil
	}
	m.last = string(b)
	return m.sess.Type(m.last)
}

// pull writes the session's buffer to the local file.
func (m *mirror) pull() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.sess.Active() == "" {
		return nil
	}
	buf := m.sess.Buffer()
	if buf == m.last {
		return nil
	}
	m.last = buf
	return os.WriteFile(m.file, []byte(buf), 0o644)
}

// watchFile calls fn whenever file is written or replaced, until ctx ends.
// The parent directory is watched so editors that save by rename are seen.
func watchFile(ctx context.Context, file string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fn()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				fn()
			}
		}
	}
}
