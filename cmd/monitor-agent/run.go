package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/agent"
	"github.com/tabwarden/tabwarden/internal/agent/linehost"
	"github.com/tabwarden/tabwarden/internal/agent/shardqueue"
	"github.com/tabwarden/tabwarden/internal/client"
	"github.com/tabwarden/tabwarden/internal/logger"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Read browser events as JSON lines on stdin and write host commands to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries host commands, so logs go to stderr.
			log := logger.NewWithWriter("monitor-agent", cmd.ErrOrStderr()).Level(logger.ParseLevel(cfg.LogLevel))

			c, err := client.New(cfg.ServiceURL, cfg.SubjectID, cfg.Token, client.WithHTTPTimeout(cfg.HTTPTimeout))
			if err != nil {
				return err
			}
			queue, err := shardqueue.LoadConfig()
			if err != nil {
				return err
			}
			host := linehost.NewHost(cmd.OutOrStdout())
			a, err := agent.New(cfg, agent.Deps{Telemetry: c, Host: host, Logger: log, Queue: queue})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The agent gets its own context so that end of input and a
			// signal both lead to the same orderly shutdown.
			runCtx, cancelRun := context.WithCancel(context.Background())
			defer cancelRun()
			runDone := make(chan error, 1)
			go func() { runDone <- a.Run(runCtx) }()
			select {
			case <-a.Ready():
			case err := <-runDone:
				return err
			}

			replayDone := make(chan error, 1)
			go func() { replayDone <- linehost.Replay(ctx, cmd.InOrStdin(), a, host, log) }()

			select {
			case err = <-replayDone:
			case <-ctx.Done():
				log.Info().Msg("signal received, shutting down")
			}
			cancelRun()
			if runErr := <-runDone; err == nil {
				err = runErr
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
