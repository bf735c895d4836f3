package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// AppName names the XDG config directory.
const AppName = "calendar-assistant"

var (
	// ErrLoadConfig is returned when the environment cannot be processed.
	ErrLoadConfig = errors.New("unable to load configuration")
	// ErrMissingSetting is returned by Validate for a required empty setting.
	ErrMissingSetting = errors.New("missing required setting")
)

// Config is the full application configuration, read from the environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Supabase  SupabaseConfig  `env:", prefix=SUPABASE_"`
	OIDC      OIDCConfig      `env:", prefix=OIDC_"`
	LLM       LLMConfig
	Google    GoogleConfig    `env:", prefix=GOOGLE_"`
	Firecrawl FirecrawlConfig `env:", prefix=FIRECRAWL_"`
	Scheduler SchedulerConfig `env:", prefix=SCHEDULER_"`
	Log       LogConfig       `env:", prefix=LOG_"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host               string        `env:"HOST, default=0.0.0.0"`
	Port               string        `env:"PORT, default=8000"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT, default=120s"`
	IdleTimeout        time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS, default=*"`
	CronSecret         string        `env:"CRON_SECRET"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds the Postgres settings.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS, default=10"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME, default=30m"`
}

// SupabaseConfig holds the Supabase auth settings.
type SupabaseConfig struct {
	URL            string `env:"URL"`
	ServiceRoleKey string `env:"SERVICE_ROLE_KEY"`
}

// OIDCConfig enables local JWT verification when IssuerURL is set.
type OIDCConfig struct {
	IssuerURL string `env:"ISSUER_URL"`
	ClientID  string `env:"CLIENT_ID"`
}

// LLMConfig holds the OpenAI-compatible provider settings.
type LLMConfig struct {
	APIKey          string `env:"OPENROUTER_API_KEY"`
	BaseURL         string `env:"LLM_BASE_URL, default=https://openrouter.ai/api/v1"`
	Model           string `env:"DEFAULT_MODEL, default=openai/gpt-4o-mini"`
	ClassifierModel string `env:"CLASSIFIER_MODEL"`
	MaxSteps        int    `env:"AGENT_MAX_STEPS, default=10"`
}

// ClassifierModelOrDefault falls back to Model.
func (l LLMConfig) ClassifierModelOrDefault() string {
	if l.ClassifierModel != "" {
		return l.ClassifierModel
	}
	return l.Model
}

// GoogleConfig holds the OAuth client used for every user token.
type GoogleConfig struct {
	CredentialsFile string   `env:"CREDENTIALS_FILE"`
	ClientID        string   `env:"CLIENT_ID"`
	ClientSecret    string   `env:"CLIENT_SECRET"`
	Calendars       []string `env:"CALENDARS"`
}

// FirecrawlConfig holds the scraping service settings.
type FirecrawlConfig struct {
	APIKey  string        `env:"API_KEY"`
	BaseURL string        `env:"BASE_URL, default=https://api.firecrawl.dev"`
	Timeout time.Duration `env:"TIMEOUT, default=60s"`
}

// SchedulerConfig controls the in-process cron.
type SchedulerConfig struct {
	Enabled bool   `env:"ENABLED, default=false"`
	Spec    string `env:"SPEC, default=@every 1m"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
}

// Load reads an optional .env file and then the environment.
// envFile may be empty, in which case ./.env is tried.
func Load(ctx context.Context, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	} else {
		_ = godotenv.Load()
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith processes configuration from the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if cfg.Google.CredentialsFile == "" {
		// Not finding the file is fine, client id/secret may be set instead.
		if p, err := xdg.SearchConfigFile(filepath.Join(AppName, "credentials.json")); err == nil {
			cfg.Google.CredentialsFile = p
		}
	}
	var err error
	if cfg.Google.CredentialsFile, err = resolve(xdg.ConfigHome, cfg.Google.CredentialsFile); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.Firecrawl.BaseURL = strings.TrimRight(cfg.Firecrawl.BaseURL, "/")
	cfg.Supabase.URL = strings.TrimRight(cfg.Supabase.URL, "/")

	return &cfg, nil
}

// resolve makes a relative path absolute against base/AppName.
// Paths starting with ./ are left relative to the working directory.
func resolve(base, p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	if strings.HasPrefix(p, "."+string(os.PathSeparator)) {
		return filepath.Abs(p)
	}
	return filepath.Abs(filepath.Join(base, AppName, p))
}

// Validate reports the first missing setting needed to serve requests.
func (c *Config) Validate() error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", c.Database.URL},
		{"OPENROUTER_API_KEY", c.LLM.APIKey},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, r.name)
		}
	}
	if c.Supabase.URL == "" && c.OIDC.IssuerURL == "" {
		return fmt.Errorf("%w: SUPABASE_URL or OIDC_ISSUER_URL", ErrMissingSetting)
	}
	return nil
}

// HasGoogleClient reports whether Google OAuth client credentials are available.
func (c *Config) HasGoogleClient() bool {
	return c.Google.CredentialsFile != "" || (c.Google.ClientID != "" && c.Google.ClientSecret != "")
}
