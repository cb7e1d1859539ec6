// ABOUTME: Entry point for the teams-gateway webhook server
// ABOUTME: Bridges Microsoft Teams conversations to Azure AI backends

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/teams-gateway/internal/config"
	"github.com/2389/teams-gateway/internal/gateway"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| |_ ___  __ _ _ __ ___  ___        __ _  __ _| |_ _____      ____ _ _   _
| __/ _ \/ _' | '_ ' _ \/ __|_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| ||  __/ (_| | | | | | \__ \_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__\___|\__,_|_| |_| |_|___/      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                   |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: TEAMS_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/teams-gateway/gateway.yaml > ~/.config/teams-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TEAMS_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "teams-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: teams-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the webhook server")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  health  Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Webhook:   %s/api/messages\n", cfg.Server.PublicBaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Assistant.Backend)

	if len(cfg.Bot.AllowedTenants) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Tenants:   %d allowed\n", len(cfg.Bot.AllowedTenants))
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting teams-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Assistant.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("teams-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "0.0.0.0:8000")
	publicBaseURL := prompt(reader, "Public base URL (Azure messaging endpoint host)", "")

	fmt.Println("\n--- Bot Registration ---")
	appID := prompt(reader, "Bot app ID", "")
	appType := prompt(reader, "App type (MultiTenant/UserAssignedMSI/SystemAssignedMSI)", "MultiTenant")
	clientSecret := ""
	if appType == "MultiTenant" {
		clientSecret = prompt(reader, "Client secret (or ${BOT_CLIENT_SECRET} to read from env)", "${BOT_CLIENT_SECRET}")
	}
	connectionName := prompt(reader, "OAuth connection name", "teams-sso")
	allowedTenants := prompt(reader, "Allowed tenant IDs (comma-separated, empty allows all)", "")

	fmt.Println("\n--- Assistant Backend ---")
	backend := prompt(reader, "Backend (azure-openai/foundry-threads/foundry-conversations)", "azure-openai")

	var aoEndpoint, aoKey, aoDeployment, foundryEndpoint, foundryAgent string
	if backend == "azure-openai" {
		aoEndpoint = prompt(reader, "Azure OpenAI endpoint", "")
		aoKey = prompt(reader, "Azure OpenAI API key (or ${AZURE_OPENAI_API_KEY})", "${AZURE_OPENAI_API_KEY}")
		aoDeployment = prompt(reader, "Deployment name", "gpt-4o")
	} else {
		foundryEndpoint = prompt(reader, "Foundry project endpoint", "")
		foundryAgent = prompt(reader, "Foundry agent name", "")
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "teams-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "yes")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# teams-gateway configuration\n")
	cfg.WriteString("# Generated by teams-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  public_base_url: \"%s\"\n", publicBaseURL))
	cfg.WriteString("\n")

	cfg.WriteString("bot:\n")
	cfg.WriteString(fmt.Sprintf("  app_id: \"%s\"\n", appID))
	cfg.WriteString(fmt.Sprintf("  app_type: \"%s\"\n", appType))
	if clientSecret != "" {
		cfg.WriteString(fmt.Sprintf("  client_secret: \"%s\"\n", clientSecret))
	}
	cfg.WriteString(fmt.Sprintf("  oauth_connection_name: \"%s\"\n", connectionName))
	if allowedTenants != "" {
		cfg.WriteString(fmt.Sprintf("  allowed_tenants: [\"%s\"]\n", allowedTenants))
	}
	cfg.WriteString("\n")

	cfg.WriteString("assistant:\n")
	cfg.WriteString(fmt.Sprintf("  backend: \"%s\"\n", backend))
	if backend == "azure-openai" {
		cfg.WriteString("  azure_openai:\n")
		cfg.WriteString(fmt.Sprintf("    endpoint: \"%s\"\n", aoEndpoint))
		cfg.WriteString(fmt.Sprintf("    api_key: \"%s\"\n", aoKey))
		cfg.WriteString(fmt.Sprintf("    deployment: \"%s\"\n", aoDeployment))
	} else {
		cfg.WriteString("  foundry:\n")
		cfg.WriteString(fmt.Sprintf("    project_endpoint: \"%s\"\n", foundryEndpoint))
		cfg.WriteString(fmt.Sprintf("    agent_name: \"%s\"\n", foundryAgent))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  teams-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
