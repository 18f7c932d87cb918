package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"codesync/internal/syncclient"
)

func newChatCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one chat message to the room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			var sess *syncclient.Session
			ready := make(chan struct{})
			var once sync.Once
			sess, err := a.newSession(syncclient.Options{OnChange: func() {
				if sess.State() == syncclient.Connected {
					once.Do(func() { close(ready) })
				}
			}}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			result := make(chan error, 1)
			go func() {
				defer cancel()
				select {
				case <-ready:
					result <- sess.Chat().Send(text)
				case <-ctx.Done():
					result <- fmt.Errorf("broker not reachable: %w", ctx.Err())
				}
			}()

			runErr := runUntilDone(ctx, sess, nil)
			if err := <-result; err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the broker")
	return cmd
}
