package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models guardrails.yml.
type Config struct {
	Queue struct {
		UrgentPriority          int     `yaml:"urgent_priority" json:"urgent_priority"`
		AdvisoryImpactThreshold float64 `yaml:"advisory_impact_threshold" json:"advisory_impact_threshold"`
		HighImpactLimit         int     `yaml:"high_impact_limit" json:"high_impact_limit"`
		PendingLimit            int     `yaml:"pending_limit" json:"pending_limit"`
	} `yaml:"queue" json:"queue"`
	Notifications struct {
		Buffer int `yaml:"buffer" json:"buffer"`
		NATS   struct {
			URL           string `yaml:"url" json:"url"`
			SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
		} `yaml:"nats" json:"nats"`
		Redis struct {
			Addr     string `yaml:"addr" json:"addr"`
			Password string `yaml:"password" json:"-"`
			DB       int    `yaml:"db" json:"db"`
			Channel  string `yaml:"channel" json:"channel"`
		} `yaml:"redis" json:"redis"`
		Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
	} `yaml:"notifications" json:"notifications"`
	Advisory struct {
		Provider  string `yaml:"provider" json:"provider"`
		Model     string `yaml:"model" json:"model"`
		MaxTokens int64  `yaml:"max_tokens" json:"max_tokens"`
	} `yaml:"advisory" json:"advisory"`
	Server struct {
		RateLimit struct {
			RPS   float64 `yaml:"rps" json:"rps"`
			Burst int     `yaml:"burst" json:"burst"`
		} `yaml:"rate_limit" json:"rate_limit"`
	} `yaml:"server" json:"server"`
	Auth struct {
		Roles map[string][]string `yaml:"roles" json:"roles"`
	} `yaml:"auth" json:"auth"`
	Telemetry struct {
		Stdout bool `yaml:"stdout" json:"stdout"`
	} `yaml:"telemetry" json:"telemetry"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Queue.UrgentPriority < 0 || c.Queue.UrgentPriority > 100 {
		return fmt.Errorf("queue.urgent_priority must be within 0..100")
	}
	if c.Queue.AdvisoryImpactThreshold < 0 {
		return fmt.Errorf("queue.advisory_impact_threshold must be >= 0")
	}
	if c.Queue.HighImpactLimit <= 0 {
		return fmt.Errorf("queue.high_impact_limit must be > 0")
	}
	if c.Queue.PendingLimit <= 0 {
		return fmt.Errorf("queue.pending_limit must be > 0")
	}
	if c.Notifications.Buffer <= 0 {
		return fmt.Errorf("notifications.buffer must be > 0")
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("notifications.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	switch c.Advisory.Provider {
	case "heuristic":
	case "anthropic":
		if c.Advisory.Model == "" {
			return fmt.Errorf("advisory.model is required for provider anthropic")
		}
	default:
		return fmt.Errorf("advisory.provider must be heuristic or anthropic (got %q)", c.Advisory.Provider)
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must be >= 0")
	}
	if len(c.Auth.Roles) == 0 {
		return fmt.Errorf("auth.roles is required")
	}
	if _, ok := c.Auth.Roles["supervisor"]; !ok {
		return fmt.Errorf("auth.roles must include supervisor")
	}
	for roleID, perms := range c.Auth.Roles {
		if roleID == "" {
			return fmt.Errorf("auth.roles contains empty role id")
		}
		for _, perm := range perms {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "guardrails.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gr config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the parsed default template.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `queue:
  # priority at or above this is urgent: notified immediately, 30 minute review window
  urgent_priority: 80
  # estimated_impact above this flags the request for advisory analysis
  advisory_impact_threshold: 500
  high_impact_limit: 10
  pending_limit: 20

notifications:
  buffer: 256
  nats:
    url: ""
    subject_prefix: "guardrails."
  redis:
    addr: ""
    db: 0
    channel: "guardrails.events"
  webhooks: []

advisory:
  provider: heuristic
  model: claude-3-5-haiku-latest
  max_tokens: 1024

server:
  rate_limit:
    rps: 20
    burst: 40

auth:
  roles:
    supervisor:
      - validation.submit
      - validation.read
      - validation.decide
      - analysis.attach
      - metrics.read
      - workflow.start
      - workflow.read
      - workflow.communicate
      - bot.manage
      - audit.read
    bot:
      - validation.submit
      - validation.read
      - analysis.attach
      - workflow.start
      - workflow.read
      - workflow.communicate
    observer:
      - validation.read
      - metrics.read
      - workflow.read
      - audit.read

telemetry:
  stdout: false
`
