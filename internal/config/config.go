package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zmcp/odata-gateway/internal/auth"
	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/logging"
)

// Config holds all configuration options for the OData gateway
type Config struct {
	// HTTP server
	HTTPAddr        string `mapstructure:"http_addr"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds

	// Upstream OData services
	RequestTimeout   int  `mapstructure:"request_timeout"`    // seconds, per inbound request
	InsecureTrustAll bool `mapstructure:"insecure_trust_all"` // skip TLS verification
	MaxResponseSize  int  `mapstructure:"max_response_size"`  // bytes read from any upstream body

	// Retry
	MaxRetries             int     `mapstructure:"max_retries"`
	RetryInitialBackoffMs  int     `mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs      int     `mapstructure:"retry_max_backoff_ms"`
	RetryBackoffMultiplier float64 `mapstructure:"retry_backoff_multiplier"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
	Verbose   bool   `mapstructure:"verbose"` // shorthand for log_level=debug

	// AAD client credentials; when set, replaces per-request basic auth
	AADTenant       string `mapstructure:"aad_tenant"`
	AADClientID     string `mapstructure:"aad_client_id"`
	AADClientSecret string `mapstructure:"aad_client_secret"`
	AADScopes       string `mapstructure:"aad_scopes"` // comma-separated
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		HTTPAddr:               constants.DefaultHTTPAddr,
		ShutdownTimeout:        constants.DefaultShutdownTimeout,
		RequestTimeout:         constants.DefaultRequestTimeout,
		MaxResponseSize:        constants.DefaultMaxResponseSize,
		MaxRetries:             3,
		RetryInitialBackoffMs:  100,
		RetryMaxBackoffMs:      10000,
		RetryBackoffMultiplier: 2.0,
		LogLevel:               "info",
	}
}

// SetDefaults registers Default() with v so every key is known to viper,
// which AutomaticEnv needs for Unmarshal to see environment variables
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("insecure_trust_all", d.InsecureTrustAll)
	v.SetDefault("max_response_size", d.MaxResponseSize)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_initial_backoff_ms", d.RetryInitialBackoffMs)
	v.SetDefault("retry_max_backoff_ms", d.RetryMaxBackoffMs)
	v.SetDefault("retry_backoff_multiplier", d.RetryBackoffMultiplier)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("aad_tenant", d.AADTenant)
	v.SetDefault("aad_client_id", "")
	v.SetDefault("aad_client_secret", "")
	v.SetDefault("aad_scopes", "")
}

// NewViper returns a viper instance reading ODATA_GATEWAY_* environment
// variables, with "-" in keys mapped to "_"
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the configuration from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the gateway cannot run with
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		return fmt.Errorf("invalid http_addr %q: %w", c.HTTPAddr, err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %d", c.ShutdownTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %d", c.RequestTimeout)
	}
	if c.MaxResponseSize <= 0 {
		return fmt.Errorf("max_response_size must be positive, got %d", c.MaxResponseSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("retry_backoff_multiplier must be at least 1, got %v", c.RetryBackoffMultiplier)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HasAADAuth() {
		if err := c.AADConfig().Validate(); err != nil {
			return fmt.Errorf("invalid AAD settings: %w", err)
		}
	}
	return nil
}

// RequestTimeoutDuration bounds every upstream call made for one inbound request
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// HasAADAuth returns true if AAD client credentials are configured
func (c *Config) HasAADAuth() bool {
	return c.AADConfig().Enabled()
}

// GetAADScopes returns the parsed AAD scopes
func (c *Config) GetAADScopes() []string {
	var scopes []string
	for _, scope := range strings.Split(c.AADScopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// AADConfig converts the AAD settings for the auth package
func (c *Config) AADConfig() *auth.AADConfig {
	return &auth.AADConfig{
		TenantID:     c.AADTenant,
		ClientID:     c.AADClientID,
		ClientSecret: c.AADClientSecret,
		Scopes:       c.GetAADScopes(),
	}
}

// LoggingConfig converts the logging settings for the logging package
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Pretty: c.LogPretty}
}
