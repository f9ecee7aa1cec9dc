package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

const identityIssuerBase = "https://securetoken.google.com/"

// Config is read from the environment once at startup. Secrets are not part
// of it; they live in SSM under ParamPrefix.
type Config struct {
	HistoryTable       string   `env:"HISTORY_TABLE,notEmpty"`
	ParamPrefix        string   `env:"PARAM_PREFIX,notEmpty"`
	IdentityProjectID  string   `env:"IDENTITY_PROJECT_ID,notEmpty"`
	IdentityIssuer     string   `env:"IDENTITY_ISSUER"`
	IdentityJWKSURL    string   `env:"IDENTITY_JWKS_URL" envDefault:"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"`
	IdentityToolkitURL string   `env:"IDENTITY_TOOLKIT_URL" envDefault:"https://identitytoolkit.googleapis.com/v1"`
	OpenAIBaseURL      string   `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	MaxDocumentBytes   int64    `env:"MAX_DOCUMENT_BYTES" envDefault:"20971520"`
	GCSEnabled         bool     `env:"GCS_ENABLED" envDefault:"true"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	LocalAddr          string   `env:"LOCAL_ADDR" envDefault:":8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.MaxDocumentBytes <= 0 {
		return Config{}, fmt.Errorf("config: MAX_DOCUMENT_BYTES must be positive, got %d", cfg.MaxDocumentBytes)
	}
	if strings.TrimSpace(cfg.IdentityIssuer) == "" {
		cfg.IdentityIssuer = identityIssuerBase + cfg.IdentityProjectID
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// NewLogger returns a JSON logger writing to w at the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := c.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
