package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unset = "\x00unset"

func baseEnv() map[string]string {
	return map[string]string{
		"JWT_SIGNING_KEYS":  "k1:0123456789abcdef0123456789abcdef,k0:fedcba9876543210fedcba9876543210",
		"JWT_ACTIVE_KEY_ID": "k1",
		"CORS_ORIGINS":      "https://app.devlink.dev,http://localhost:3000",
	}
}

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadFrom(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, "user", cfg.Auth.DefaultRole)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, MailLog, cfg.Mail.Driver)
	assert.Equal(t, TracingNone, cfg.Tracing.Exporter)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Len(t, cfg.Auth.SigningKeys, 2)
	assert.Equal(t, []string{"https://app.devlink.dev", "http://localhost:3000"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoad_TrustedProxies(t *testing.T) {
	env := baseEnv()
	env["TRUSTED_PROXIES"] = "10.0.0.0/8,192.0.2.7,2001:db8::1"
	cfg, err := load(t, env)
	require.NoError(t, err)

	ranges, err := cfg.TrustedProxyRanges()
	require.NoError(t, err)
	require.Len(t, ranges, 3)
	assert.Equal(t, "10.0.0.0/8", ranges[0].String())
	assert.Equal(t, "192.0.2.7/32", ranges[1].String())
	assert.Equal(t, "2001:db8::1/128", ranges[2].String())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"no keys", map[string]string{"JWT_SIGNING_KEYS": unset}, "JWT_SIGNING_KEYS is required"},
		{"short key", map[string]string{"JWT_SIGNING_KEYS": "k1:short"}, "at least 32 bytes"},
		{"placeholder", map[string]string{"JWT_SIGNING_KEYS": "k1:CHANGE_ME_CHANGE_ME_CHANGE_ME_CHANGE_ME"}, "placeholder"},
		{"active key missing", map[string]string{"JWT_ACTIVE_KEY_ID": "k9"}, "not in JWT_SIGNING_KEYS"},
		{"no active key", map[string]string{"JWT_ACTIVE_KEY_ID": unset}, "JWT_ACTIVE_KEY_ID is required"},
		{"no cors", map[string]string{"CORS_ORIGINS": unset}, "CORS_ORIGINS is required"},
		{"wildcard cors", map[string]string{"CORS_ORIGINS": "*"}, "explicit origins"},
		{"access outlives refresh", map[string]string{"ACCESS_TOKEN_TTL": "200h"}, "shorter than REFRESH_TOKEN_TTL"},
		{"reset ttl too long", map[string]string{"RESET_TOKEN_TTL": "3h"}, "RESET_TOKEN_TTL must not exceed"},
		{"refresh ttl too long", map[string]string{"REFRESH_TOKEN_TTL": "2160h"}, "REFRESH_TOKEN_TTL must be between"},
		{"refresh ttl too short", map[string]string{"REFRESH_TOKEN_TTL": "12h", "ACCESS_TOKEN_TTL": "5m"}, "REFRESH_TOKEN_TTL must be between"},
		{"bad trusted proxy", map[string]string{"TRUSTED_PROXIES": "10.0.0.0/33"}, "TRUSTED_PROXIES entry"},
		{"negative rate limit", map[string]string{"RATE_LIMIT_RPS": "-1"}, "RATE_LIMIT_RPS"},
		{"bcrypt cost", map[string]string{"BCRYPT_COST": "40"}, "BCRYPT_COST"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}, "unknown STORE_DRIVER"},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}, "POSTGRES_DSN"},
		{"memory in production", map[string]string{"STORE_DRIVER": "memory", "ENV": "production"}, "not allowed in production"},
		{"mqtt without broker", map[string]string{"MAIL_DRIVER": "mqtt"}, "MQTT_BROKER"},
		{"relative verify url", map[string]string{"MAIL_VERIFY_URL": "/verify"}, "MAIL_VERIFY_URL"},
		{"log links in production", map[string]string{"MAIL_LOG_LINKS": "true", "ENV": "production"}, "MAIL_LOG_LINKS"},
		{"otlp without endpoint", map[string]string{"TRACING_EXPORTER": "otlp"}, "OTEL_EXPORTER_OTLP_ENDPOINT"},
		{"unknown exporter", map[string]string{"TRACING_EXPORTER": "jaeger"}, "unknown TRACING_EXPORTER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range tt.env {
				if v == unset {
					delete(env, k)
					continue
				}
				env[k] = v
			}
			_, err := load(t, env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	_, err := load(t, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SIGNING_KEYS is required")
	assert.Contains(t, err.Error(), "JWT_ACTIVE_KEY_ID is required")
	assert.Contains(t, err.Error(), "CORS_ORIGINS is required")
}

func TestLoad_PostgresAndMQTT(t *testing.T) {
	env := baseEnv()
	env["STORE_DRIVER"] = "postgres"
	env["POSTGRES_DSN"] = "postgres://identity@localhost/identity?sslmode=disable"
	env["MAIL_DRIVER"] = "mqtt"
	env["MQTT_BROKER"] = "tcp://localhost:1883"
	env["REDIS_ADDR"] = "localhost:6379"

	cfg, err := load(t, env)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "identity/notifications", cfg.Mail.MQTTTopicPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
}

func TestLoadStore_IgnoresAuthSettings(t *testing.T) {
	sc, err := LoadStore(context.Background(), envconfig.MapLookuper(map[string]string{"STORE_DRIVER": "memory"}))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, sc.Driver)

	_, err = LoadStore(context.Background(), envconfig.MapLookuper(map[string]string{"STORE_DRIVER": "postgres"}))
	assert.ErrorContains(t, err, "POSTGRES_DSN")
}
