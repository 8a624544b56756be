package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/client"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Ask the ledger service whether a URL is blocked for the subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := client.New(cfg.ServiceURL, cfg.SubjectID, cfg.Token, client.WithHTTPTimeout(cfg.HTTPTimeout))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.BlockCheckTimeout)
			defer cancel()

			res, err := c.CheckBlocked(ctx, args[0])
			if err != nil {
				return err
			}
			verdict := "allowed"
			if res.Blocked {
				verdict = "blocked"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Domain, verdict)
			return err
		},
	}
}
