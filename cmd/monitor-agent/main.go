package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/config"
)

var (
	serviceURL string
	subjectID  string
	token      string
	debug      bool
)

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "monitor-agent",
		Short:         "Tabwarden monitor agent: usage reporting, incognito and block enforcement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serviceURL, "service-url", "", "Ledger service base URL (overrides TABWARDEN_AGENT_SERVICE_URL)")
	rootCmd.PersistentFlags().StringVar(&subjectID, "subject", "", "Subject id (overrides TABWARDEN_AGENT_SUBJECT_ID)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (overrides TABWARDEN_AGENT_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newFilterCmd())
	return rootCmd
}

// loadConfig merges environment settings with persistent flags.
func loadConfig() (*config.AgentConfig, error) {
	cfg, err := config.LoadAgent()
	if err != nil {
		return nil, err
	}
	if serviceURL != "" {
		cfg.ServiceURL = serviceURL
	}
	if subjectID != "" {
		cfg.SubjectID = subjectID
	}
	if token != "" {
		cfg.Token = token
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
