package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := FromViper(v)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "mysql", cfg.StoreDriver)
	require.Equal(t, "local", cfg.LockDriver)
	require.Equal(t, 20*time.Second, cfg.QueueCacheTTL)
	require.Equal(t, 10*time.Second, cfg.UpstreamTimeout)
	require.False(t, cfg.Kafka.Enabled())
	require.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestFromViper_Overrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("KAFKA_BROKERS", "k1:9092, k2:9092,")
	v.Set("STORE_DRIVER", "Memory")
	v.Set("QUEUE_CACHE_TTL", "5s")
	v.Set("GITHUB_CLIENT_ID", "id")
	v.Set("GITHUB_CLIENT_SECRET", "secret")

	cfg := FromViper(v)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.True(t, cfg.Kafka.Enabled())
	require.Equal(t, "memory", cfg.StoreDriver)
	require.Equal(t, 5*time.Second, cfg.QueueCacheTTL)
	require.True(t, cfg.GithubOAuthConfigured)
	require.False(t, cfg.GoogleOAuthConfigured)
}
