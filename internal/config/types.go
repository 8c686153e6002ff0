package config

import "time"

// Config represents the complete punchclock configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	API       APIConfig       `yaml:"api,omitempty"`
	Todoist   TodoistConfig   `yaml:"todoist"`
	Beeminder BeeminderConfig `yaml:"beeminder,omitempty"`
	Refresh   RefreshConfig   `yaml:"refresh,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines state storage settings (task links database).
type StateConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig defines the inbound webhook listener.
type WebhookConfig struct {
	Listen          string `yaml:"listen"`
	Path            string `yaml:"path"`
	SignatureHeader string `yaml:"signature_header"`
	DeliveryHeader  string `yaml:"delivery_header"`
	MaxBodySize     int64  `yaml:"max_body_size,omitempty"`
}

// APIConfig defines the optional admin API server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// TodoistConfig defines the outbound Todoist client and webhook secret.
type TodoistConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIToken authenticates outbound REST calls.
	APIToken string `yaml:"api_token"`
	// ClientSecret is the shared secret for webhook HMAC verification.
	ClientSecret string `yaml:"client_secret"`
	// TriggerLabel marks tasks whose completion is counted on Beeminder.
	// Either a label name or a numeric label ID.
	TriggerLabel string        `yaml:"trigger_label"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// BeeminderConfig defines Beeminder datapoint posting.
type BeeminderConfig struct {
	BaseURL     string `yaml:"base_url"`
	Username    string `yaml:"username"`
	AuthToken   string `yaml:"auth_token"`
	DefaultGoal string `yaml:"default_goal"`
}

// RefreshConfig defines the running-timer description refresh job.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "punchclock",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/punchclock.db",
		},
		Webhook: WebhookConfig{
			Listen:          "127.0.0.1:5001",
			Path:            "/webhook",
			SignatureHeader: "X-Todoist-Hmac-SHA256",
			DeliveryHeader:  "X-Todoist-Delivery-ID",
			MaxBodySize:     1048576, // 1 MB
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Todoist: TodoistConfig{
			BaseURL:      "https://api.todoist.com/rest/v2",
			APIToken:     "${TODOIST_API_TOKEN}",
			ClientSecret: "${TODOIST_CLIENT_SECRET}",
			TriggerLabel: "beeminder",
			Timeout:      15 * time.Second,
		},
		Beeminder: BeeminderConfig{
			BaseURL:     "https://www.beeminder.com/api/v1",
			Username:    "${BEEMINDER_USERNAME}",
			AuthToken:   "${BEEMINDER_AUTH_TOKEN}",
			DefaultGoal: "dailyprayers",
		},
		Refresh: RefreshConfig{
			Interval: 60 * time.Second,
		},
	}
}
