// ABOUTME: Configuration loading and parsing for teams-gateway
// ABOUTME: Supports YAML files with environment variable expansion and fail-fast validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App types accepted for bot.app_type.
const (
	AppTypeMultiTenant       = "MultiTenant"
	AppTypeUserAssignedMSI   = "UserAssignedMSI"
	AppTypeSystemAssignedMSI = "SystemAssignedMSI"
)

// Assistant backend selectors.
const (
	BackendAzureOpenAI          = "azure-openai"
	BackendFoundryThreads       = "foundry-threads"
	BackendFoundryConversations = "foundry-conversations"
)

// Config represents the complete teams-gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Assistant AssistantConfig `yaml:"assistant"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicBaseURL is the externally reachable URL of the messaging
	// endpoint. It is bound into the sign-in state blob, so it must match
	// what the Azure bot registration points at.
	PublicBaseURL string `yaml:"public_base_url"`
}

// BotConfig holds the Bot Framework identity and SSO configuration.
type BotConfig struct {
	AppID           string `yaml:"app_id"`
	AppType         string `yaml:"app_type"`
	TenantID        string `yaml:"tenant_id"`
	ClientSecret    string `yaml:"client_secret"`
	ConnectionName  string `yaml:"oauth_connection_name"`
	TokenServiceURL string `yaml:"token_service_url"`

	// AllowedTenants is the tenant allowlist. Empty means no restriction.
	// Accepts either a YAML list or a single comma-separated string, so
	// an ALLOWED_TENANTS env var can be expanded straight into it.
	AllowedTenants []string `yaml:"allowed_tenants"`

	// StrictTokenErrors controls what happens when the token service is
	// unreachable during a token lookup: false treats it as "not signed
	// in" and re-prompts, true propagates the failure.
	StrictTokenErrors bool `yaml:"strict_token_errors"`

	// SignOutOnReset also clears the cached user token when a reset
	// command wipes the conversation session.
	SignOutOnReset bool `yaml:"signout_on_reset"`
}

// AssistantConfig selects and configures the AI backend.
type AssistantConfig struct {
	Backend    string `yaml:"backend"`
	MaxHistory int    `yaml:"max_history"`

	AzureOpenAI AzureOpenAIConfig `yaml:"azure_openai"`
	Foundry     FoundryConfig     `yaml:"foundry"`
}

// AzureOpenAIConfig holds chat-completions backend settings.
type AzureOpenAIConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
	Deployment string `yaml:"deployment"`
}

// FoundryConfig holds Azure AI Foundry backend settings, shared by the
// threads and conversations variants.
type FoundryConfig struct {
	ProjectEndpoint string `yaml:"project_endpoint"`
	AgentName       string `yaml:"agent_name"`
}

// TailscaleConfig holds tsnet listener configuration. Funnel exposes the
// webhook on a public HTTPS URL without a separate reverse proxy.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DedupeConfig holds the webhook redelivery guard configuration.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	MaxSize int           `yaml:"max_size"`

	TTLRaw string `yaml:"ttl"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8000"
	}
	if c.Bot.AppType == "" {
		c.Bot.AppType = AppTypeMultiTenant
	}
	if c.Bot.TokenServiceURL == "" {
		c.Bot.TokenServiceURL = "https://token.botframework.com"
	}
	if c.Assistant.MaxHistory <= 0 {
		c.Assistant.MaxHistory = 20
	}
	if c.Dedupe.MaxSize <= 0 {
		c.Dedupe.MaxSize = 10000
	}
	if c.Dedupe.TTLRaw == "" {
		c.Dedupe.TTLRaw = "5m"
	}

	// Allow a comma-separated allowlist so ${ALLOWED_TENANTS} expansion
	// into a single YAML scalar still works.
	c.Bot.AllowedTenants = splitTenantList(c.Bot.AllowedTenants)
}

func splitTenantList(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Bot.AppID == "" {
		return fmt.Errorf("bot.app_id is required")
	}

	switch c.Bot.AppType {
	case AppTypeMultiTenant:
		if c.Bot.ClientSecret == "" {
			return fmt.Errorf("bot.client_secret is required for app_type %s", AppTypeMultiTenant)
		}
	case AppTypeUserAssignedMSI, AppTypeSystemAssignedMSI:
		// Managed identity needs no secret.
	default:
		return fmt.Errorf("bot.app_type must be one of %s, %s, %s",
			AppTypeMultiTenant, AppTypeUserAssignedMSI, AppTypeSystemAssignedMSI)
	}

	if c.Bot.ConnectionName == "" {
		return fmt.Errorf("bot.oauth_connection_name is required")
	}

	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("server.public_base_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicBaseURL, "http://") &&
		!strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		c.Server.PublicBaseURL = "https://" + c.Server.PublicBaseURL
	}

	switch c.Assistant.Backend {
	case BackendAzureOpenAI:
		ao := c.Assistant.AzureOpenAI
		if ao.Endpoint == "" || ao.APIKey == "" || ao.Deployment == "" {
			return fmt.Errorf("assistant.azure_openai endpoint, api_key, and deployment are required for backend %s", BackendAzureOpenAI)
		}
	case BackendFoundryThreads, BackendFoundryConversations:
		if c.Assistant.Foundry.ProjectEndpoint == "" {
			return fmt.Errorf("assistant.foundry.project_endpoint is required for backend %s", c.Assistant.Backend)
		}
		if c.Assistant.Foundry.AgentName == "" {
			return fmt.Errorf("assistant.foundry.agent_name is required for backend %s", c.Assistant.Backend)
		}
	case "":
		return fmt.Errorf("assistant.backend is required (one of %s, %s, %s)",
			BackendAzureOpenAI, BackendFoundryThreads, BackendFoundryConversations)
	default:
		return fmt.Errorf("unknown assistant.backend %q", c.Assistant.Backend)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func (c *Config) parseDurations() error {
	var err error

	if c.Dedupe.TTLRaw != "" {
		c.Dedupe.TTL, err = time.ParseDuration(c.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe ttl %q: %w", c.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
