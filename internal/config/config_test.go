// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Verifies fail-fast behavior for missing required fields

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `
server:
  http_addr: "127.0.0.1:8000"
  public_base_url: "https://bot.example.com/api/messages"
bot:
  app_id: "app-123"
  client_secret: "secret"
  oauth_connection_name: "teams-sso"
assistant:
  backend: "azure-openai"
  azure_openai:
    endpoint: "https://example.openai.azure.com"
    api_key: "key"
    api_version: "2024-06-01"
    deployment: "gpt-4o"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "app-123", cfg.Bot.AppID)
	assert.Equal(t, AppTypeMultiTenant, cfg.Bot.AppType)
	assert.Equal(t, "https://token.botframework.com", cfg.Bot.TokenServiceURL)
	assert.Equal(t, 20, cfg.Assistant.MaxHistory)
	assert.Equal(t, 5*time.Minute, cfg.Dedupe.TTL)
	assert.Empty(t, cfg.Bot.AllowedTenants)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_GATEWAY_SECRET", "from-env")
	cfg, err := Load(writeConfig(t, `
server:
  public_base_url: "bot.example.com/api/messages"
bot:
  app_id: "app-123"
  client_secret: "${TEST_GATEWAY_SECRET}"
  oauth_connection_name: "teams-sso"
assistant:
  backend: "foundry-threads"
  foundry:
    project_endpoint: "https://proj.services.ai.azure.com/api/projects/demo"
    agent_name: "helper"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Bot.ClientSecret)
	// Scheme is prefixed when missing.
	assert.Equal(t, "https://bot.example.com/api/messages", cfg.Server.PublicBaseURL)
}

func TestSplitTenantList(t *testing.T) {
	assert.Equal(t, []string{"t1", "t2", "t3"}, splitTenantList([]string{"t1, t2", "", "t3"}))
	assert.Nil(t, splitTenantList([]string{"", " ,, "}))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing app id",
			mutate:  func(c *Config) { c.Bot.AppID = "" },
			wantErr: "bot.app_id",
		},
		{
			name:    "missing secret for multi-tenant",
			mutate:  func(c *Config) { c.Bot.ClientSecret = "" },
			wantErr: "bot.client_secret",
		},
		{
			name:    "missing connection name",
			mutate:  func(c *Config) { c.Bot.ConnectionName = "" },
			wantErr: "oauth_connection_name",
		},
		{
			name:    "missing public base url",
			mutate:  func(c *Config) { c.Server.PublicBaseURL = "" },
			wantErr: "public_base_url",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Assistant.Backend = "llama-local" },
			wantErr: "unknown assistant.backend",
		},
		{
			name: "foundry without agent name",
			mutate: func(c *Config) {
				c.Assistant.Backend = BackendFoundryThreads
				c.Assistant.Foundry.ProjectEndpoint = "https://proj"
			},
			wantErr: "agent_name",
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
			},
			wantErr: "tailscale.hostname",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManagedIdentityNeedsNoSecret(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	cfg.Bot.AppType = AppTypeSystemAssignedMSI
	cfg.Bot.ClientSecret = ""
	assert.NoError(t, cfg.Validate())
}
