package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/filter"
	"github.com/tabwarden/tabwarden/internal/logger"
	"github.com/tabwarden/tabwarden/internal/observer"
)

func newFilterCmd() *cobra.Command {
	var vocabPath, classifierURL string
	var threshold float64

	cmd := &cobra.Command{
		Use:   "filter [file.html]",
		Short: "Redact profanity and blur flagged images in an HTML document (stdin if no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Only the filter settings matter here, so the agent identity is
			// not validated.
			cfg, err := config.LoadAgent()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("vocabulary") {
				cfg.VocabularyPath = vocabPath
			}
			if cmd.Flags().Changed("classifier-url") {
				cfg.ClassifierURL = classifierURL
			}
			if cmd.Flags().Changed("threshold") {
				cfg.BlurThreshold = threshold
			}
			if debug {
				cfg.LogLevel = "debug"
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				fh, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = fh.Close() }()
				in = fh
			}

			vocab, err := filter.LoadVocabularyFile(cfg.VocabularyPath)
			if err != nil {
				return fmt.Errorf("load vocabulary: %w", err)
			}
			opts := observer.Options{
				ClassifierTimeout: cfg.ClassifierWait,
				Logger:            logger.NewWithWriter("monitor-agent", cmd.ErrOrStderr()).Level(logger.ParseLevel(cfg.LogLevel)),
			}
			if cfg.ClassifierURL != "" {
				opts.Classifier = observer.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierWait)
			}
			obs := observer.New(filter.New(vocab, filter.WithBlurThreshold(cfg.BlurThreshold)), opts)

			doc, err := observer.Parse(in)
			if err != nil {
				return err
			}
			obs.Attach(context.Background(), doc)

			out, err := observer.Render(doc)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&vocabPath, "vocabulary", "", "YAML vocabulary file (built-in list if empty)")
	cmd.Flags().StringVar(&classifierURL, "classifier-url", "", "Image classifier base URL")
	cmd.Flags().Float64Var(&threshold, "threshold", filter.DefaultBlurThreshold, "Blur images scoring at or above this")
	return cmd
}
