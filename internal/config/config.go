// README: Config loader with env defaults for HTTP, DB, Redis, auth, and discovery settings.
package config

import (
	"os"
	"strconv"
	"time"
)

type DiscoveryConfig struct {
	BaseRadiusKm   float64
	WaveStepKm     float64
	OfferTTL       time.Duration
	NotifyChannel  string
	FavoritesFirst bool
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Auth struct {
		JWTSecret string
	}
	Guest struct {
		TTL time.Duration
	}
	Verification struct {
		Secret string
		TTL    time.Duration
	}
	Discovery DiscoveryConfig
	Maps      struct {
		APIKey string
	}
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("RIDECORE_HTTP_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("RIDECORE_DB_DSN")
	cfg.Redis.Addr = os.Getenv("RIDECORE_REDIS_ADDR")
	cfg.Log.Level = envOrDefault("RIDECORE_LOG_LEVEL", "info")
	cfg.Auth.JWTSecret = envOrDefault("RIDECORE_JWT_SECRET", "dev-secret-change-in-production")
	cfg.Guest.TTL = envOrDefaultDuration("RIDECORE_GUEST_TTL", 30*24*time.Hour)
	cfg.Verification.Secret = envOrDefault("RIDECORE_QR_SECRET", "dev-secret-change-in-production")
	cfg.Verification.TTL = envOrDefaultDuration("RIDECORE_QR_TTL", 10*time.Minute)
	cfg.Discovery.BaseRadiusKm = envOrDefaultFloat("RIDECORE_DISCOVERY_RADIUS_KM", 5.0)
	cfg.Discovery.WaveStepKm = envOrDefaultFloat("RIDECORE_DISCOVERY_WAVE_STEP_KM", 5.0)
	cfg.Discovery.OfferTTL = envOrDefaultDuration("RIDECORE_OFFER_TTL", 10*time.Minute)
	cfg.Discovery.NotifyChannel = envOrDefault("RIDECORE_NOTIFY_CHANNEL", "notify:drivers")
	cfg.Discovery.FavoritesFirst = envOrDefaultBool("RIDECORE_DISCOVERY_FAVORITES_FIRST", true)
	cfg.Maps.APIKey = os.Getenv("RIDECORE_MAPS_API_KEY")
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
