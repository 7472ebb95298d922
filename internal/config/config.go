// Package config loads process configuration from a YAML file and
// MAILBOX_* environment variables. The credential encryption key is
// sourced from config or, failing that, the OS keyring; a key is
// generated and stored on first use so the same key survives restarts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hnguyen/mailbox/internal/crypto"
)

// Google holds the OAuth client registration and callback settings.
type Google struct {
	ClientID     string
	ClientSecret string
	CallbackPort int
	Scopes       []string
}

// RedirectURL is the loopback redirect the OAuth flow registers.
func (g Google) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", g.CallbackPort)
}

// Mail holds IMAP/SMTP endpoints for a password-backed provider.
type Mail struct {
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
}

// Sync holds fetch limits and watch-mode intervals.
type Sync struct {
	MessageLimit        int
	EventDays           int
	InitialMessageLimit int
	InitialEventDays    int
	EmailInterval       time.Duration
	CalendarInterval    time.Duration
}

// Log holds logger settings.
type Log struct {
	Level  string
	Format string
}

// Config is the process-wide configuration object, constructed once at
// startup and passed explicitly to component constructors.
type Config struct {
	EncryptionKey []byte
	DatabasePath  string
	MetricsAddr   string
	Google        Google
	Gmail         Mail
	Zoho          Mail
	Sync          Sync
	Log           Log
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.path", filepath.Join(configDir, "mailbox.db"))
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("google.callback_port", 8080)
	v.SetDefault("google.scopes", []string{
		"https://www.googleapis.com/auth/gmail.readonly",
		"https://www.googleapis.com/auth/gmail.send",
		"https://www.googleapis.com/auth/gmail.modify",
		"https://www.googleapis.com/auth/calendar.readonly",
	})

	v.SetDefault("gmail.imap_host", "imap.gmail.com")
	v.SetDefault("gmail.imap_port", 993)
	v.SetDefault("gmail.smtp_host", "smtp.gmail.com")
	v.SetDefault("gmail.smtp_port", 587)

	v.SetDefault("zoho.imap_host", "imap.zoho.com")
	v.SetDefault("zoho.imap_port", 993)
	v.SetDefault("zoho.smtp_host", "smtp.zoho.com")
	v.SetDefault("zoho.smtp_port", 465)

	v.SetDefault("sync.message_limit", 50)
	v.SetDefault("sync.event_days", 7)
	v.SetDefault("sync.initial_message_limit", 100)
	v.SetDefault("sync.initial_event_days", 30)
	v.SetDefault("sync.email_interval", "5m")
	v.SetDefault("sync.calendar_interval", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration and resolves the encryption key. A missing
// config file is not an error; defaults plus env vars apply.
func Load() (*Config, error) {
	configDir, err := defaultConfigDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("MAILBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		DatabasePath: v.GetString("database.path"),
		MetricsAddr:  v.GetString("metrics.addr"),
		Google: Google{
			ClientID:     v.GetString("google.client_id"),
			ClientSecret: v.GetString("google.client_secret"),
			CallbackPort: v.GetInt("google.callback_port"),
			Scopes:       v.GetStringSlice("google.scopes"),
		},
		Gmail: Mail{
			IMAPHost: v.GetString("gmail.imap_host"),
			IMAPPort: v.GetInt("gmail.imap_port"),
			SMTPHost: v.GetString("gmail.smtp_host"),
			SMTPPort: v.GetInt("gmail.smtp_port"),
		},
		Zoho: Mail{
			IMAPHost: v.GetString("zoho.imap_host"),
			IMAPPort: v.GetInt("zoho.imap_port"),
			SMTPHost: v.GetString("zoho.smtp_host"),
			SMTPPort: v.GetInt("zoho.smtp_port"),
		},
		Sync: Sync{
			MessageLimit:        v.GetInt("sync.message_limit"),
			EventDays:           v.GetInt("sync.event_days"),
			InitialMessageLimit: v.GetInt("sync.initial_message_limit"),
			InitialEventDays:    v.GetInt("sync.initial_event_days"),
			EmailInterval:       v.GetDuration("sync.email_interval"),
			CalendarInterval:    v.GetDuration("sync.calendar_interval"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	key, err := resolveEncryptionKey(v.GetString("encryption_key"), configDir)
	if err != nil {
		return nil, err
	}
	cfg.EncryptionKey = key

	return cfg, nil
}

// resolveEncryptionKey prefers an explicit base64 key from config/env,
// then the OS keyring. With neither present a new key is generated and
// stored in the keyring.
func resolveEncryptionKey(encoded, configDir string) ([]byte, error) {
	if encoded != "" {
		key, err := crypto.KeyFromBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("encryption_key: %w", err)
		}
		return key, nil
	}

	if stored, err := keyringGet(configDir); err == nil && stored != "" {
		key, err := crypto.KeyFromBase64(stored)
		if err != nil {
			return nil, fmt.Errorf("keyring encryption key: %w", err)
		}
		return key, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := keyringSet(configDir, crypto.KeyToBase64(key)); err != nil {
		return nil, fmt.Errorf("storing generated encryption key: %w", err)
	}
	return key, nil
}

func defaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mailbox"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mailbox"), nil
}
