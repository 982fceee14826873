package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
)

// Transport tunes the REST client. Defaults match the exchange's public
// limits with headroom; a YAML file can override any subset.
type Transport struct {
	TimeoutMs       int `yaml:"timeout_ms" validate:"min=100,max=60000"`
	MaxReadAttempts int `yaml:"max_read_attempts" validate:"min=1,max=10"`
	BackoffMinMs    int `yaml:"backoff_min_ms" validate:"min=1"`
	BackoffMaxMs    int `yaml:"backoff_max_ms" validate:"gtefield=BackoffMinMs"`

	ReadRPS    float64 `yaml:"read_rps" validate:"gt=0"`
	ReadBurst  int     `yaml:"read_burst" validate:"min=1"`
	WriteRPS   float64 `yaml:"write_rps" validate:"gt=0"`
	WriteBurst int     `yaml:"write_burst" validate:"min=1"`

	BreakerFailures    uint32 `yaml:"breaker_failures" validate:"min=1"`
	BreakerCooldownSec int    `yaml:"breaker_cooldown_sec" validate:"min=1"`
}

func DefaultTransport() Transport {
	return Transport{
		TimeoutMs:          5000,
		MaxReadAttempts:    3,
		BackoffMinMs:       250,
		BackoffMaxMs:       2000,
		ReadRPS:            20,
		ReadBurst:          20,
		WriteRPS:           10,
		WriteBurst:         10,
		BreakerFailures:    5,
		BreakerCooldownSec: 30,
	}
}

// LoadTransport overlays the YAML file at path onto base. Keys absent from
// the file keep their base values.
func LoadTransport(path string, base Transport) (Transport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transport{}, fmt.Errorf("read transport config: %w", err)
	}

	t := base
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Transport{}, fmt.Errorf("parse transport config: %w", err)
	}
	if err := validate.Struct(t); err != nil {
		return Transport{}, fmt.Errorf("transport config %s: %w", path, describe(err))
	}
	return t, nil
}

// ClientOptions converts the loaded settings into REST client options.
func (c *Config) ClientOptions() binance_http.Options {
	t := c.Transport
	return binance_http.Options{
		Timeout:         time.Duration(t.TimeoutMs) * time.Millisecond,
		MaxReadAttempts: t.MaxReadAttempts,
		BackoffMin:      time.Duration(t.BackoffMinMs) * time.Millisecond,
		BackoffMax:      time.Duration(t.BackoffMaxMs) * time.Millisecond,
		ReadRPS:         t.ReadRPS,
		ReadBurst:       t.ReadBurst,
		WriteRPS:        t.WriteRPS,
		WriteBurst:      t.WriteBurst,
		BreakerFailures: t.BreakerFailures,
		BreakerCooldown: time.Duration(t.BreakerCooldownSec) * time.Second,
		ProxyAddr:       c.ProxyAddr,
	}
}
