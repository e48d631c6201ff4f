// Package config loads process configuration from .env and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	StoreDriver string // mysql | memory
	LockDriver  string // local | redis

	MySQL MySQL
	Redis Redis
	Kafka Kafka

	Spotify Spotify

	JWTSecret         string
	AdminPassword     string
	AdminPasswordHash string

	FrontendURL string
	CORSOrigins []string

	QueueCacheTTL   time.Duration
	UpstreamTimeout time.Duration

	GithubOAuthConfigured bool
	GoogleOAuthConfigured bool
}

type MySQL struct {
	Host, Port, User, Password, Database string
}

type Redis struct {
	Host, Port, Password string
}

func (r Redis) Addr() string { return r.Host + ":" + r.Port }

type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

type Spotify struct {
	ClientID, ClientSecret, RedirectURI string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "mysql")
	v.SetDefault("LOCK_DRIVER", "local")
	v.SetDefault("MYSQL_HOST", "localhost")
	v.SetDefault("MYSQL_PORT", "3306")
	v.SetDefault("MYSQL_DATABASE", "spotiqueue")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("KAFKA_TOPIC", "spotiqueue-events")
	v.SetDefault("KAFKA_GROUP_ID", "spotiqueue-server")
	v.SetDefault("FRONTEND_URL", "/")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("QUEUE_CACHE_TTL", "20s")
	v.SetDefault("UPSTREAM_TIMEOUT", "10s")
}

// Load reads .env when present, then the environment. Env vars win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := FromViper(v)
	switch cfg.StoreDriver {
	case "mysql", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.LockDriver {
	case "local", "redis":
	default:
		return nil, fmt.Errorf("unknown LOCK_DRIVER %q", cfg.LockDriver)
	}
	return cfg, nil
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Port:        v.GetString("PORT"),
		Env:         v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		LockDriver:  strings.ToLower(v.GetString("LOCK_DRIVER")),
		MySQL: MySQL{
			Host:     v.GetString("MYSQL_HOST"),
			Port:     v.GetString("MYSQL_PORT"),
			User:     v.GetString("MYSQL_USER"),
			Password: v.GetString("MYSQL_PASSWORD"),
			Database: v.GetString("MYSQL_DATABASE"),
		},
		Redis: Redis{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Kafka: Kafka{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		Spotify: Spotify{
			ClientID:     v.GetString("SPOTIFY_CLIENT_ID"),
			ClientSecret: v.GetString("SPOTIFY_CLIENT_SECRET"),
			RedirectURI:  v.GetString("SPOTIFY_REDIRECT_URI"),
		},
		JWTSecret:             v.GetString("JWT_SECRET"),
		AdminPassword:         v.GetString("ADMIN_PASSWORD"),
		AdminPasswordHash:     v.GetString("ADMIN_PASSWORD_HASH"),
		FrontendURL:           v.GetString("FRONTEND_URL"),
		CORSOrigins:           splitList(v.GetString("CORS_ORIGINS")),
		QueueCacheTTL:         v.GetDuration("QUEUE_CACHE_TTL"),
		UpstreamTimeout:       v.GetDuration("UPSTREAM_TIMEOUT"),
		GithubOAuthConfigured: v.GetString("GITHUB_CLIENT_ID") != "" && v.GetString("GITHUB_CLIENT_SECRET") != "",
		GoogleOAuthConfigured: v.GetString("GOOGLE_CLIENT_ID") != "" && v.GetString("GOOGLE_CLIENT_SECRET") != "",
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
