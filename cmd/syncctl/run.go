package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [path]",
		Short: "Execute a project file in the sandbox",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.newSession(offlineOptions(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.Leave()

			ctx := cmd.Context()
			if _, err := sess.Load(ctx); err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			res, err := sess.Execute(ctx, path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.Stdout)
			if res.Stderr != "" {
				fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			}
			status := fmt.Sprintf("exit %d in %dms", res.ExitCode, res.TimeMs)
			if res.TimedOut {
				status += " (timed out)"
			}
			fmt.Fprintln(out, "--", status)
			if res.ExitCode != 0 || res.TimedOut {
				return fmt.Errorf("program failed: %s", status)
			}
			return nil
		},
	}
}
