// Package config provides configuration loading for the dispatcher: built-in
// defaults, an optional YAML file, then environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-dispatch/internal/provider/ses"
	smtpprovider "github.com/shineum/smtp-dispatch/internal/provider/smtp"
	"github.com/shineum/smtp-dispatch/internal/provider/stdout"
	tlsutil "github.com/shineum/smtp-dispatch/internal/tls"
	"github.com/shineum/smtp-dispatch/internal/transport"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the email provider: smtp, ses or stdout. When empty
	// it is detected from the other settings.
	Provider string        `yaml:"provider" env:"PROVIDER"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the SMTP provider configuration.
type SMTPConfig struct {
	Host      string                           `yaml:"host" env:"SMTP_HOST"`
	Port      *int                             `yaml:"port" env:"SMTP_PORT"`
	Security  smtpprovider.SecureSocketOptions `yaml:"security" env:"SMTP_SECURITY"`
	Encoding  string                           `yaml:"encoding" env:"SMTP_ENCODING"`
	Username  string                           `yaml:"username" env:"SMTP_USERNAME"`
	Password  string                           `yaml:"password" env:"SMTP_PASSWORD"`
	Timeout   time.Duration                    `yaml:"timeout" env:"SMTP_TIMEOUT"`
	LocalName string                           `yaml:"local_name" env:"SMTP_LOCAL_NAME"`
	TLS       TLSConfig                        `yaml:"tls"`
}

// TLSConfig holds client TLS settings for the SMTP connection.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file" env:"SMTP_TLS_CA_FILE"`
	ServerName         string `yaml:"server_name" env:"SMTP_TLS_SERVER_NAME"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"SMTP_TLS_INSECURE_SKIP_VERIFY"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region" env:"SES_REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"SES_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SES_SECRET_ACCESS_KEY"`
	Sender          string `yaml:"sender" env:"SES_SENDER"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SMTPConfigured returns true if an SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SelectedProvider returns the configured provider, or the detected one
// when none is set: smtp, then ses, then stdout.
func (c *Config) SelectedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case c.SMTPConfigured():
		return smtpprovider.ProviderID
	case c.SESConfigured():
		return ses.ProviderID
	default:
		return stdout.ProviderID
	}
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch p := c.SelectedProvider(); p {
	case smtpprovider.ProviderID:
		if !c.SMTPConfigured() {
			return fmt.Errorf("%w: smtp provider requires SMTP_HOST", ErrInvalidConfig)
		}
		if c.SMTP.Port != nil && (*c.SMTP.Port < 0 || *c.SMTP.Port > 65535) {
			return fmt.Errorf("%w: SMTP port %d out of range", ErrInvalidConfig, *c.SMTP.Port)
		}
	case ses.ProviderID:
		if !c.SESConfigured() {
			return fmt.Errorf("%w: ses provider requires SES_REGION and SES_SENDER", ErrInvalidConfig)
		}
	case stdout.ProviderID:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, p)
	}
	return nil
}

// SMTPOptions returns the SMTP provider options.
func (c *Config) SMTPOptions() smtpprovider.Options {
	return smtpprovider.Options{
		SocketOptions: c.SMTP.Security,
		Host:          c.SMTP.Host,
		Port:          c.SMTP.Port,
		Encoding:      c.SMTP.Encoding,
		UserName:      c.SMTP.Username,
		Password:      c.SMTP.Password,
	}
}

// TransportOptions returns the options of the SMTP transport client.
func (c *Config) TransportOptions(logger *slog.Logger) (transport.Options, error) {
	tlsConfig, err := tlsutil.ClientConfig(tlsutil.ClientOptions{
		CAFile:             c.SMTP.TLS.CAFile,
		ServerName:         c.SMTP.TLS.ServerName,
		InsecureSkipVerify: c.SMTP.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{
		TLSConfig: tlsConfig,
		LocalName: c.SMTP.LocalName,
		Timeout:   c.SMTP.Timeout,
		Logger:    logger,
	}, nil
}

// SESProviderConfig returns the SES provider configuration.
func (c *Config) SESProviderConfig() ses.Config {
	return ses.Config{
		Region:          c.SES.Region,
		AccessKeyID:     c.SES.AccessKeyID,
		SecretAccessKey: c.SES.SecretAccessKey,
		Sender:          c.SES.Sender,
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Encoding = "UTF-8"
	c.SMTP.Timeout = transport.DefaultTimeout
	c.SMTP.LocalName = "localhost"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	return nil
}
