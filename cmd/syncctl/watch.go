package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"codesync/internal/syncclient"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the room's roster and chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := newFeed(cmd.OutOrStdout())
			sess, err := a.newSession(syncclient.Options{OnChange: f.update}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			f.attach(sess)
			return runUntilDone(cmd.Context(), sess, nil)
		},
	}
}

// feed prints what changed in a session since the last call to update.
type feed struct {
	mu     sync.Mutex
	out    io.Writer
	sess   *syncclient.Session
	state  syncclient.State
	roster string
	seen   map[string]bool
}

func newFeed(out io.Writer) *feed {
	return &feed{out: out, seen: make(map[string]bool)}
}

func (f *feed) attach(sess *syncclient.Session) {
	f.mu.Lock()
	f.sess = sess
	f.mu.Unlock()
}

func (f *feed) update() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == nil {
		return
	}

	if st := f.sess.State(); st != f.state {
		f.state = st
		fmt.Fprintf(f.out, "* %s\n", st)
	}
	if participants, stale := f.sess.Roster(); !stale {
		if r := strings.Join(participants, ", "); r != f.roster {
			f.roster = r
			fmt.Fprintf(f.out, "* online: %s\n", r)
		}
	}
	for _, m := range f.sess.Chat().Messages() {
		key := m.UserID + "/" + strconv.FormatInt(m.Timestamp, 10)
		if f.seen[key] {
			continue
		}
		f.seen[key] = true
		fmt.Fprintf(f.out, "[%s] %s: %s\n", time.UnixMilli(m.Timestamp).Format("15:04:05"), m.UserID, m.Message)
	}
}
