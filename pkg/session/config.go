package session

import (
	"time"

	"go.llib.dev/frameless/pkg/env"
)

// Config holds the session core's tunables.
// The zero value falls back to the documented defaults.
type Config struct {
	// StaleAfter is the cache staleness window.
	StaleAfter time.Duration `env:"SESSION_CACHE_STALE_AFTER" default:"5m"`
	// EvictAfter is the cache eviction window.
	EvictAfter time.Duration `env:"SESSION_CACHE_EVICT_AFTER" default:"10m"`
	// RefreshInterval is the background revalidation cadence.
	RefreshInterval time.Duration `env:"SESSION_REFRESH_INTERVAL" default:"5m"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var c Config
	err := env.Load(&c)
	return c, err
}
