package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL = "https://testnet.binancefuture.com"
	DefaultWSURL   = "wss://fstream.binancefuture.com/ws"
)

// Secret is a credential that never renders in logs or error messages.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// Reveal returns the raw value. Only the signer should need it.
func (s Secret) Reveal() string { return string(s) }

// Credentials are built once at startup and passed explicitly to the
// transport (key) and signer (secret).
type Credentials struct {
	APIKey    string `env:"BINANCE_TESTNET_API_KEY" validate:"required,printascii"`
	APISecret Secret `env:"BINANCE_TESTNET_API_SECRET" validate:"required,printascii"`
}

func (c Credentials) LogValue() slog.Value {
	key := c.APIKey
	if len(key) > 6 {
		key = key[:6] + "..."
	}
	return slog.GroupValue(slog.String("api_key", key), slog.Any("api_secret", c.APISecret))
}

type Config struct {
	BaseURL string `env:"BINANCE_BASE_URL" validate:"required,url"`
	WSURL   string `env:"BINANCE_WS_URL" validate:"omitempty,url"`

	// Checked by RequireCredentials only; public commands run without them.
	Credentials Credentials `validate:"-"`

	RecvWindowMs        int    `env:"BINANCE_RECV_WINDOW_MS" validate:"min=1,max=60000"`
	ProxyAddr           string `env:"BINANCE_PROXY"`
	TransportConfigPath string `env:"BINANCE_TRANSPORT_CONFIG"`
	Transport           Transport

	JournalPath    string `env:"JOURNAL_PATH"`
	TimeSync       bool   `env:"TIME_SYNC"`
	ClientOrderIDs bool   `env:"CLIENT_ORDER_IDS"`

	LogLevel string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogDir   string `env:"LOG_DIR"`
}

// Overrides are command-line values that win over the environment when
// set.
type Overrides struct {
	EnvFile   string
	BaseURL   string
	APIKey    string
	APISecret string
	LogLevel  string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		if name, _, _ := strings.Cut(f.Tag.Get("yaml"), ","); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads .env (or o.EnvFile), the process environment and the optional
// transport YAML file, applies o, and validates the result.
func Load(o Overrides) (*Config, error) {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", o.EnvFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		BaseURL: envStr("BINANCE_BASE_URL", DefaultBaseURL),
		WSURL:   envStr("BINANCE_WS_URL", DefaultWSURL),

		Credentials: Credentials{
			APIKey:    envStr("BINANCE_TESTNET_API_KEY", ""),
			APISecret: Secret(envStr("BINANCE_TESTNET_API_SECRET", "")),
		},

		RecvWindowMs:        envInt("BINANCE_RECV_WINDOW_MS", 5000),
		ProxyAddr:           envStr("BINANCE_PROXY", ""),
		TransportConfigPath: envStr("BINANCE_TRANSPORT_CONFIG", ""),
		Transport:           DefaultTransport(),

		JournalPath:    envStr("JOURNAL_PATH", "data/orders.db"),
		TimeSync:       envBool("TIME_SYNC", true),
		ClientOrderIDs: envBool("CLIENT_ORDER_IDS", true),

		LogLevel: envStr("LOG_LEVEL", "info"),
		LogDir:   envStr("LOG_DIR", "logs"),
	}

	if cfg.TransportConfigPath != "" {
		t, err := LoadTransport(cfg.TransportConfigPath, cfg.Transport)
		if err != nil {
			return nil, err
		}
		cfg.Transport = t
	}
	cfg.Transport.TimeoutMs = envInt("BINANCE_TIMEOUT_MS", cfg.Transport.TimeoutMs)
	cfg.Transport.MaxReadAttempts = envInt("BINANCE_MAX_READ_ATTEMPTS", cfg.Transport.MaxReadAttempts)

	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.APIKey != "" {
		cfg.Credentials.APIKey = o.APIKey
	}
	if o.APISecret != "" {
		cfg.Credentials.APISecret = Secret(o.APISecret)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", describe(err))
	}
	return cfg, nil
}

// RequireCredentials reports missing or malformed API credentials.
func (c *Config) RequireCredentials() error {
	if err := validate.Struct(c.Credentials); err != nil {
		return fmt.Errorf("credentials: %w", describe(err))
	}
	return nil
}

// describe flattens validator errors into one line naming each setting.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s%s)", fe.Field(), fe.Tag(), paramSuffix(fe.Param())))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
