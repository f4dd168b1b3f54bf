package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderOAuth holds the OAuth client settings for one external provider.
// Providers that authenticate with a plain API key leave these empty.
type ProviderOAuth struct {
	ClientID     string
	ClientSecret string
	IssuerURL    string
	AuthURL      string
	TokenURL     string
	RedirectPath string
	Scopes       []string
	// APIBaseURL is the root of the provider's contact API.
	APIBaseURL string
}

type Config struct {
	ListenAddr string
	BaseURL    string

	DB struct {
		DSN string
	}

	// SecretKey encrypts provider credentials at rest.
	SecretKey string

	ProviderA ProviderOAuth
	ProviderB ProviderOAuth
	// ProviderCAPIBaseURL is the database provider's API root; its key is
	// stored per-instance in the provider_configs table.
	ProviderCAPIBaseURL string

	PollInterval   time.Duration
	OutboxInterval time.Duration

	PrometheusEnabled bool
	TrustedProxies    []string
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		var missing []string
		if host == "" {
			missing = append(missing, "APP_DB_HOST")
		}
		if name == "" {
			missing = append(missing, "APP_DB_NAME")
		}
		if user == "" {
			missing = append(missing, "APP_DB_USER")
		}
		if password == "" {
			missing = append(missing, "APP_DB_PASSWORD")
		}

		if len(missing) == 0 {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.SecretKey = os.Getenv("APP_SECRET_KEY")

	cfg.ProviderA = ProviderOAuth{
		ClientID:     os.Getenv("APP_PROVIDER_A_CLIENT_ID"),
		ClientSecret: os.Getenv("APP_PROVIDER_A_CLIENT_SECRET"),
		IssuerURL:    os.Getenv("APP_PROVIDER_A_ISSUER_URL"),
		RedirectPath: getenvDefault("APP_PROVIDER_A_REDIRECT_PATH", "/providers/provider-a/callback"),
		Scopes:       getenvList("APP_PROVIDER_A_SCOPES"),
		APIBaseURL:   getenvDefault("APP_PROVIDER_A_API_BASE_URL", "https://people.provider-a.example.com"),
	}
	cfg.ProviderB = ProviderOAuth{
		ClientID:     os.Getenv("APP_PROVIDER_B_CLIENT_ID"),
		ClientSecret: os.Getenv("APP_PROVIDER_B_CLIENT_SECRET"),
		AuthURL:      os.Getenv("APP_PROVIDER_B_AUTH_URL"),
		TokenURL:     os.Getenv("APP_PROVIDER_B_TOKEN_URL"),
		RedirectPath: getenvDefault("APP_PROVIDER_B_REDIRECT_PATH", "/providers/provider-b/callback"),
		Scopes:       getenvList("APP_PROVIDER_B_SCOPES"),
		APIBaseURL:   getenvDefault("APP_PROVIDER_B_API_BASE_URL", "https://graph.provider-b.example.com"),
	}

	cfg.ProviderCAPIBaseURL = getenvDefault("APP_PROVIDER_C_API_BASE_URL", "https://api.provider-c.example.com")

	pollInterval, err := getenvDuration("APP_POLL_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = pollInterval

	outboxInterval, err := getenvDuration("APP_OUTBOX_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.OutboxInterval = outboxInterval

	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("APP_SECRET_KEY is required")
	}
	if len(cfg.SecretKey) < 32 {
		return nil, fmt.Errorf("APP_SECRET_KEY must be at least 32 characters long (got %d)", len(cfg.SecretKey))
	}

	if len(cfg.TrustedProxies) == 0 {
		fmt.Println("WARNING: No APP_TRUSTED_PROXIES configured. contactsync will trust all proxies - Not recommended for public environments.")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 5m: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
