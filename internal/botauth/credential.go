// ABOUTME: Outbound service credential for Bot Framework REST calls
// ABOUTME: Builds the right azidentity credential for the configured app type

package botauth

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/2389/teams-gateway/internal/config"
)

// BotFrameworkScope is the OAuth scope for connector and token-service calls.
const BotFrameworkScope = "https://api.botframework.com/.default"

// AzureAIScope is the OAuth scope for Azure AI Foundry project endpoints.
const AzureAIScope = "https://ai.azure.com/.default"

// botFrameworkTenant is the tenant used by multi-tenant bot registrations.
const botFrameworkTenant = "botframework.com"

// ServiceCredential supplies bearer tokens for outbound Bot Framework calls.
type ServiceCredential struct {
	cred  azcore.TokenCredential
	scope string
}

// NewServiceCredential builds a credential from the bot identity config.
// MultiTenant uses a client secret; the MSI app types use managed identity.
func NewServiceCredential(cfg config.BotConfig) (*ServiceCredential, error) {
	cred, err := buildCredential(cfg)
	if err != nil {
		return nil, err
	}
	return &ServiceCredential{cred: cred, scope: BotFrameworkScope}, nil
}

// NewScopedCredential wraps an existing Azure credential with a fixed scope.
// Used by the Foundry backends, which authenticate against their own scope.
func NewScopedCredential(cred azcore.TokenCredential, scope string) *ServiceCredential {
	return &ServiceCredential{cred: cred, scope: scope}
}

// WithScope returns a credential sharing the same underlying identity but
// requesting tokens for a different scope.
func (c *ServiceCredential) WithScope(scope string) *ServiceCredential {
	return &ServiceCredential{cred: c.cred, scope: scope}
}

func buildCredential(cfg config.BotConfig) (azcore.TokenCredential, error) {
	switch cfg.AppType {
	case config.AppTypeMultiTenant:
		tenant := cfg.TenantID
		if tenant == "" {
			tenant = botFrameworkTenant
		}
		cred, err := azidentity.NewClientSecretCredential(tenant, cfg.AppID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("creating client secret credential: %w", err)
		}
		return cred, nil

	case config.AppTypeUserAssignedMSI:
		cred, err := azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(cfg.AppID),
		})
		if err != nil {
			return nil, fmt.Errorf("creating user-assigned MSI credential: %w", err)
		}
		return cred, nil

	case config.AppTypeSystemAssignedMSI:
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating system-assigned MSI credential: %w", err)
		}
		return cred, nil

	default:
		return nil, fmt.Errorf("unsupported app type %q", cfg.AppType)
	}
}

// Token returns a bearer token for the credential's scope. The underlying
// azidentity credential caches and refreshes internally.
func (c *ServiceCredential) Token(ctx context.Context) (string, error) {
	tok, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{c.scope}})
	if err != nil {
		return "", fmt.Errorf("acquiring service token: %w", err)
	}
	return tok.Token, nil
}
