package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codesync/internal/syncclient"
	"codesync/internal/tree"
)

func newPushCmd(a *app) *cobra.Command {
	var (
		from    string
		message string
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Commit local copies of project files to the repository store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.newSession(offlineOptions(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.Leave()

			ctx := cmd.Context()
			if _, err := sess.Load(ctx); err != nil {
				return err
			}
			if err := stageLocalCopies(sess, from); err != nil {
				return err
			}
			changed := len(sess.Changed())
			if err := sess.Commit(ctx, message); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "committed %d file(s)\n", changed)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", ".", "directory holding the local copies")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	return cmd
}

// stageLocalCopies types the content of every project file that has a copy
// under dir into the session.
func stageLocalCopies(sess *syncclient.Session, dir string) error {
	var paths []string
	var walk func([]tree.Node)
	walk = func(nodes []tree.Node) {
		for _, n := range nodes {
			if n.IsFolder() {
				walk(n.Children)
				continue
			}
			paths = append(paths, n.Path)
		}
	}
	walk(sess.Roots())

	for _, p := range paths {
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if current, _ := sess.Content(p); current == string(b) {
			continue
		}
		if err := sess.Open(p); err != nil {
			return err
		}
		if err := sess.Type(string(b)); err != nil {
			return err
		}
	}
	return nil
}
