package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"codesync/internal/utils"
)

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a room token signed with --secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.opts.jwtSecret == "" {
				return errors.New("--secret is required")
			}
			token, err := utils.SignRoomToken([]byte(a.opts.jwtSecret), a.opts.repo, a.opts.participant)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
