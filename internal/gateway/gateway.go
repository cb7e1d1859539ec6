// ABOUTME: Gateway assembly and lifecycle: wiring, listeners, graceful shutdown
// ABOUTME: Serves the Bot Framework webhook over TCP or a Tailscale Funnel

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/teams-gateway/internal/activity"
	"github.com/2389/teams-gateway/internal/assistant"
	"github.com/2389/teams-gateway/internal/bot"
	"github.com/2389/teams-gateway/internal/botauth"
	"github.com/2389/teams-gateway/internal/config"
	"github.com/2389/teams-gateway/internal/connector"
	"github.com/2389/teams-gateway/internal/dedupe"
	"github.com/2389/teams-gateway/internal/session"
	"github.com/2389/teams-gateway/internal/tokensvc"
)

// TurnHandler is what the webhook needs from the bot layer.
type TurnHandler interface {
	OnTurn(ctx context.Context, act *activity.Activity) (*activity.InvokeResponse, error)
}

// Gateway owns the HTTP front door and the wired bot pipeline.
type Gateway struct {
	config      *config.Config
	logger      *slog.Logger
	handler     TurnHandler
	validator   botauth.TokenValidator
	dedupe      *dedupe.Cache
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New wires the full pipeline from configuration: outbound credential,
// inbound verifier, token-service and connector clients, the assistant
// backend, and the turn handler on top.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cred, err := botauth.NewServiceCredential(cfg.Bot)
	if err != nil {
		return nil, fmt.Errorf("building service credential: %w", err)
	}

	tokens := tokensvc.New(cfg.Bot.TokenServiceURL, cred, logger)
	poster := connector.New(cred, logger)

	asst, err := buildAssistant(cfg, cred, logger)
	if err != nil {
		return nil, err
	}

	decode := func(raw string) (string, string) {
		claims := botauth.DecodeUserClaims(raw)
		return claims.DisplayName(), claims.TenantID
	}
	handler := bot.New(cfg.Bot, cfg.Server.PublicBaseURL, session.NewStore(), tokens, poster, asst, decode, logger)

	g := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		handler:   handler,
		validator: botauth.NewVerifier(cfg.Bot.AppID, botauth.OpenIDMetadataURL, logger),
		dedupe:    dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
	}
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// buildAssistant selects the backend named by assistant.backend.
func buildAssistant(cfg *config.Config, cred *botauth.ServiceCredential, logger *slog.Logger) (assistant.Assistant, error) {
	switch cfg.Assistant.Backend {
	case config.BackendAzureOpenAI:
		return assistant.NewAzureOpenAI(cfg.Assistant.AzureOpenAI, cfg.Assistant.MaxHistory, logger), nil
	case config.BackendFoundryThreads:
		return assistant.NewFoundryThreads(cfg.Assistant.Foundry, cred.WithScope(botauth.AzureAIScope), logger), nil
	case config.BackendFoundryConversations:
		return assistant.NewFoundryConversations(cfg.Assistant.Foundry, cred.WithScope(botauth.AzureAIScope), logger), nil
	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Assistant.Backend)
	}
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("webhook listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases the tailscale node and the
// dedupe sweeper.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	g.dedupe.Close()
	return errors.Join(errs...)
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	return net.Listen("tcp", g.config.Server.HTTPAddr)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "teams-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns the webhook
// listener. With funnel enabled the endpoint is publicly reachable over
// HTTPS, which is what the Azure bot registration needs; without it the
// endpoint is tailnet-only, useful for testing behind a proxy.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
