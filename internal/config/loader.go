package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, layered over Defaults().
// An empty path is valid: the defaults (with ${ENV_VAR} references expanded
// from the environment) are used as-is, so the service can run from a .env
// file alone.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", absPath, err)
		}
	}

	expandConfig(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandConfig substitutes ${ENV_VAR} references in string fields that may
// carry secrets or deployment-specific values.
func expandConfig(cfg *Config) {
	fields := []*string{
		&cfg.Service.Name,
		&cfg.Service.LogLevel,
		&cfg.State.Path,
		&cfg.Webhook.Listen,
		&cfg.API.Listen,
		&cfg.API.APIKey,
		&cfg.Todoist.BaseURL,
		&cfg.Todoist.APIToken,
		&cfg.Todoist.ClientSecret,
		&cfg.Todoist.TriggerLabel,
		&cfg.Beeminder.BaseURL,
		&cfg.Beeminder.Username,
		&cfg.Beeminder.AuthToken,
		&cfg.Beeminder.DefaultGoal,
	}
	for _, f := range fields {
		*f = expandEnv(*f)
	}
}

// expandEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// validate checks the configuration for fatal startup errors.
func validate(cfg *Config) error {
	if cfg.Todoist.APIToken == "" {
		return fmt.Errorf("todoist.api_token is required (set TODOIST_API_TOKEN)")
	}
	if cfg.Todoist.ClientSecret == "" {
		return fmt.Errorf("todoist.client_secret is required (set TODOIST_CLIENT_SECRET)")
	}
	if cfg.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen is empty")
	}
	if cfg.Webhook.Path == "" {
		return fmt.Errorf("webhook.path is empty")
	}
	if cfg.Webhook.MaxBodySize <= 0 {
		return fmt.Errorf("webhook.max_body_size must be positive")
	}
	if cfg.API.Enabled && cfg.API.APIKey == "" {
		return fmt.Errorf("api.api_key is required when the admin API is enabled")
	}
	if cfg.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive")
	}
	if cfg.Todoist.Timeout <= 0 {
		return fmt.Errorf("todoist.timeout must be positive")
	}
	return nil
}

// BeeminderEnabled reports whether Beeminder posting is configured.
func (c *Config) BeeminderEnabled() bool {
	return c.Beeminder.Username != "" && c.Beeminder.AuthToken != ""
}

// TriggerLabelID returns the trigger label as a numeric ID if it parses as
// one, along with ok=true. Label names return ok=false.
func (c *Config) TriggerLabelID() (int64, bool) {
	id, err := strconv.ParseInt(c.Todoist.TriggerLabel, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
