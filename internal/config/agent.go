package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Delivery policies for agent telemetry. Drop sends each report once and
// discards it on failure; retry hands failed reports to the executor backoff.
const (
	DeliveryDrop  = "drop"
	DeliveryRetry = "retry"
)

// AgentConfig holds the monitor agent settings (prefix TABWARDEN_AGENT_).
type AgentConfig struct {
	ServiceURL string `envconfig:"SERVICE_URL" default:"http://localhost:8080"`
	SubjectID  string `envconfig:"SUBJECT_ID"`
	Token      string `envconfig:"TOKEN"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	ReportInterval    time.Duration `envconfig:"REPORT_INTERVAL" default:"60s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"60s"`
	BlockCheckTimeout time.Duration `envconfig:"BLOCK_CHECK_TIMEOUT" default:"3s"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`

	DeliveryPolicy string `envconfig:"DELIVERY_POLICY" default:"drop"`
	RetryAttempts  int    `envconfig:"RETRY_ATTEMPTS" default:"5"`

	// Hosts that never count as browsing (new-tab pages, the extension itself).
	IgnoredDomains []string `envconfig:"IGNORED_DOMAINS" default:"newtab,extensions,localhost"`
	// Search engine host -> query parameter carrying the search terms.
	SearchEngines map[string]string `envconfig:"SEARCH_ENGINES" default:"google.com:q,www.google.com:q,bing.com:q,www.bing.com:q,duckduckgo.com:q,search.yahoo.com:p,yandex.ru:text,www.youtube.com:search_query"`

	// Content filter
	VocabularyPath string        `envconfig:"VOCABULARY_PATH" default:""`
	ClassifierURL  string        `envconfig:"CLASSIFIER_URL" default:""`
	ClassifierWait time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"2s"`
	BlurThreshold  float64       `envconfig:"BLUR_THRESHOLD" default:"0.3"`
}

// Validate normalizes list entries and rejects unusable settings.
func (c *AgentConfig) Validate() error {
	if c.SubjectID == "" {
		return fmt.Errorf("TABWARDEN_AGENT_SUBJECT_ID is required")
	}
	if c.Token == "" {
		return fmt.Errorf("TABWARDEN_AGENT_TOKEN is required")
	}
	if c.ReportInterval <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("report and heartbeat intervals must be > 0")
	}
	if c.BlockCheckTimeout <= 0 {
		return fmt.Errorf("block check timeout must be > 0")
	}
	switch c.DeliveryPolicy {
	case DeliveryDrop, DeliveryRetry:
	default:
		return fmt.Errorf("unsupported DELIVERY_POLICY: %s", c.DeliveryPolicy)
	}
	for i, d := range c.IgnoredDomains {
		c.IgnoredDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	engines := make(map[string]string, len(c.SearchEngines))
	for host, param := range c.SearchEngines {
		engines[strings.ToLower(strings.TrimSpace(host))] = strings.TrimSpace(param)
	}
	c.SearchEngines = engines
	return nil
}

// MaxAttempts translates the delivery policy into executor attempts.
func (c *AgentConfig) MaxAttempts() int {
	if c.DeliveryPolicy == DeliveryRetry && c.RetryAttempts > 1 {
		return c.RetryAttempts
	}
	return 1
}

// NewAgent parses TABWARDEN_AGENT_* variables and validates the result.
func NewAgent() (*AgentConfig, error) {
	cfg, err := LoadAgent()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgent parses TABWARDEN_AGENT_* variables without validating, so
// command-line flags can fill in the rest first.
func LoadAgent() (*AgentConfig, error) {
	var cfg AgentConfig
	if err := envconfig.Process("TABWARDEN_AGENT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	return &cfg, nil
}

// NewAgentForTesting returns an agent config with short intervals.
func NewAgentForTesting() *AgentConfig {
	cfg := &AgentConfig{
		ServiceURL:        "http://localhost:8080",
		SubjectID:         "kid_1",
		Token:             "test-token",
		LogLevel:          "debug",
		ReportInterval:    time.Minute,
		HeartbeatInterval: time.Minute,
		BlockCheckTimeout: 200 * time.Millisecond,
		HTTPTimeout:       time.Second,
		DeliveryPolicy:    DeliveryDrop,
		RetryAttempts:     3,
		IgnoredDomains:    []string{"newtab", "extensions", "localhost"},
		SearchEngines:     map[string]string{"google.com": "q", "www.google.com": "q", "bing.com": "q"},
		BlurThreshold:     0.3,
		ClassifierWait:    time.Second,
	}
	return cfg
}
