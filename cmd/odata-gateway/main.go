package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zmcp/odata-gateway/internal/auth"
	"github.com/zmcp/odata-gateway/internal/client"
	"github.com/zmcp/odata-gateway/internal/config"
	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/gateway"
	"github.com/zmcp/odata-gateway/internal/logging"
	"github.com/zmcp/odata-gateway/internal/metrics"
	"github.com/zmcp/odata-gateway/internal/models"
)

var (
	v       = config.NewViper()
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "odata-gateway",
	Short: "HTTP gateway for OData v2/v4 services",
	Long: `OData Gateway - reports required fields per entity set and runs generic
entity-set queries against remote OData v2 and v4 services.

Without a subcommand the HTTP server is started.

Examples:
  odata-gateway serve --http-addr :8080
  odata-gateway metadata --url https://services.odata.org/V2/Northwind/Northwind.svc/ -u user -p pass
  odata-gateway query --url https://services.odata.org/V4/TripPinServiceRW/ --entity-set People --options '$top=2'`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfigFile,
	RunE:              runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Print required fields per entity set of a service",
	Args:  cobra.NoArgs,
	RunE:  runMetadata,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the records of an entity set",
	Args:  cobra.NoArgs,
	RunE:  runQuery,
}

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, json, toml or any format viper reads)")
	pf.BoolP("verbose", "v", false, "Enable debug logging (same as --log-level debug)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Bool("log-pretty", false, "Human-readable console logs instead of JSON")
	pf.Int("request-timeout", constants.DefaultRequestTimeout, "Timeout in seconds for all upstream calls of one request")
	pf.Bool("insecure-trust-all", false, "Skip TLS certificate verification (test systems only)")
	pf.Int("max-response-size", constants.DefaultMaxResponseSize, "Maximum upstream response size in bytes")
	pf.Int("max-retries", 3, "Retries for 429/5xx and transport failures (0 disables)")
	pf.Int("retry-initial-backoff-ms", 100, "Delay before the first retry in milliseconds")
	pf.Int("retry-max-backoff-ms", 10000, "Maximum delay between retries in milliseconds")
	pf.Float64("retry-backoff-multiplier", 2.0, "Backoff growth factor")
	pf.String("aad-tenant", "", "Azure AD tenant ID or domain for gateway-wide client credentials (common/organizations are not accepted)")
	pf.String("aad-client-id", "", "Azure AD application (client) ID; enables AAD auth")
	pf.String("aad-client-secret", "", "Azure AD client secret")
	pf.String("aad-scopes", "", "Comma-separated OAuth2 scopes (default: service host + /.default)")

	serveCmd.Flags().String("http-addr", constants.DefaultHTTPAddr, "HTTP listen address")
	serveCmd.Flags().Int("shutdown-timeout", constants.DefaultShutdownTimeout, "Seconds to drain in-flight requests on shutdown")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	for _, cmd := range []*cobra.Command{metadataCmd, queryCmd} {
		cmd.Flags().String("url", "", "OData service root URL")
		cmd.Flags().StringP("user", "u", "", "Username for basic authentication (overrides ODATA_GATEWAY_USERNAME)")
		cmd.Flags().StringP("password", "p", "", "Password for basic authentication (overrides ODATA_GATEWAY_PASSWORD)")
		cmd.Flags().String("entity-set", "", "Entity set name")
	}
	queryCmd.Flags().String("options", "", "Raw query options, e.g. '$filter=Price gt 10&$top=5'")

	rootCmd.AddCommand(serveCmd, metadataCmd, queryCmd)
}

// loadConfigFile binds the running command's flags and reads --config
func loadConfigFile(cmd *cobra.Command, _ []string) error {
	bind := func(flag, key string) error {
		if f := cmd.Flags().Lookup(flag); f != nil {
			return v.BindPFlag(key, f)
		}
		return nil
	}

	for _, name := range []string{
		"verbose", "log-level", "log-pretty", "request-timeout", "insecure-trust-all",
		"max-response-size", "max-retries", "retry-initial-backoff-ms", "retry-max-backoff-ms",
		"retry-backoff-multiplier", "aad-tenant", "aad-client-id", "aad-client-secret", "aad-scopes",
		"http-addr", "shutdown-timeout", "url", "entity-set", "options",
	} {
		if err := bind(name, strings.ReplaceAll(name, "-", "_")); err != nil {
			return err
		}
	}
	if err := bind("user", "username"); err != nil {
		return err
	}
	if err := bind("password", "password"); err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}
	return nil
}

// setup loads the configuration and builds the logger
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func newService(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*gateway.Service, error) {
	opts := gateway.ServiceOptions{
		HTTPClient:      client.NewHTTPClient(cfg.RequestTimeoutDuration(), cfg.InsecureTrustAll),
		Retry:           client.NewRetryConfig(cfg.MaxRetries, cfg.RetryInitialBackoffMs, cfg.RetryMaxBackoffMs, cfg.RetryBackoffMultiplier),
		MaxResponseSize: int64(cfg.MaxResponseSize),
		RequestTimeout:  cfg.RequestTimeoutDuration(),
		Logger:          logger,
		Metrics:         m,
	}

	if cfg.HasAADAuth() {
		provider, err := auth.NewAADProvider(cfg.AADConfig(), logger)
		if err != nil {
			return nil, err
		}
		opts.Auth = provider
		logger.Info().Str("tenant", cfg.AADTenant).Msg("using Azure AD client credentials for upstream calls")
	}

	if cfg.InsecureTrustAll {
		logger.Warn().Msg("TLS certificate verification is disabled for upstream calls")
	}
	return gateway.NewService(opts), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	m := metrics.New()
	service, err := newService(cfg, logger, m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := gateway.NewServer(service, m, logger)
	return server.Run(ctx, gateway.ServerConfig{
		Addr:            cfg.HTTPAddr,
		ShutdownTimeout: cfg.ShutdownTimeoutDuration(),
	})
}

func runMetadata(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	service, err := newService(cfg, logger, nil)
	if err != nil {
		return err
	}

	req := models.ConnectionRequest{
		URL:       v.GetString("url"),
		Username:  v.GetString("username"),
		Password:  v.GetString("password"),
		EntitySet: v.GetString("entity_set"),
	}
	if strings.TrimSpace(req.URL) == "" {
		return fmt.Errorf("OData service URL not provided. Use --url or ODATA_GATEWAY_URL")
	}

	result, err := service.FetchMetadata(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runQuery(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	service, err := newService(cfg, logger, nil)
	if err != nil {
		return err
	}

	req := models.QueryRequest{
		URL:          v.GetString("url"),
		Username:     v.GetString("username"),
		Password:     v.GetString("password"),
		EntitySet:    v.GetString("entity_set"),
		QueryOptions: v.GetString("options"),
	}
	if strings.TrimSpace(req.URL) == "" {
		return fmt.Errorf("OData service URL not provided. Use --url or ODATA_GATEWAY_URL")
	}
	if strings.TrimSpace(req.EntitySet) == "" {
		return fmt.Errorf("entity set not provided. Use --entity-set")
	}

	records, err := service.Query(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), records)
}

func printJSON(w io.Writer, value interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "\n--- FATAL ERROR ---\n")
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Fprintf(os.Stderr, "-------------------\n")
		os.Exit(1)
	}
}
