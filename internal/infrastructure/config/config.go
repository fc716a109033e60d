package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/crypto/bcrypt"
)

const (
	minSigningKeyLen = 32

	minRefreshTTL = 24 * time.Hour
	maxRefreshTTL = 30 * 24 * time.Hour
	maxResetTTL   = time.Hour
)

// Store drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Mail drivers.
const (
	MailLog  = "log"
	MailMQTT = "mqtt"
)

// Tracing exporters.
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

type Config struct {
	Port      string `env:"PORT,       default=8080"`
	Env       string `env:"ENV,        default=development"`
	LogLevel  string `env:"LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	CORSOrigins    []string      `env:"CORS_ORIGINS"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL,   default=1h"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS,   default=10"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST, default=20"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is honoured.
	// Empty means the peer address is the client address.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	Auth    AuthConfig
	Store   StoreConfig
	Redis   RedisConfig
	Mail    MailConfig
	Tracing TracingConfig
}

type AuthConfig struct {
	Issuer      string            `env:"JWT_ISSUER,        default=devlink-identity"`
	SigningKeys map[string]string `env:"JWT_SIGNING_KEYS"`
	ActiveKeyID string            `env:"JWT_ACTIVE_KEY_ID"`
	AccessTTL   time.Duration     `env:"ACCESS_TOKEN_TTL,  default=15m"`
	RefreshTTL  time.Duration     `env:"REFRESH_TOKEN_TTL, default=168h"`
	VerifyTTL   time.Duration     `env:"VERIFY_TOKEN_TTL,  default=24h"`
	ResetTTL    time.Duration     `env:"RESET_TOKEN_TTL,   default=1h"`
	BcryptCost  int               `env:"BCRYPT_COST,       default=12"`
	DefaultRole string            `env:"DEFAULT_ROLE,      default=user"`
}

type StoreConfig struct {
	Driver      string        `env:"STORE_DRIVER, default=mongo"`
	MongoURI    string        `env:"MONGO_URI,    default=mongodb://localhost:27017"`
	MongoDB     string        `env:"MONGO_DB,     default=identity"`
	PostgresDSN string        `env:"POSTGRES_DSN"`
	Timeout     time.Duration `env:"DB_TIMEOUT,   default=5s"`
}

// RedisConfig enables the permission cache when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,             default=0"`
	CacheTTL time.Duration `env:"PERMISSION_CACHE_TTL, default=5m"`
}

type MailConfig struct {
	Driver    string `env:"MAIL_DRIVER,     default=log"`
	VerifyURL string `env:"MAIL_VERIFY_URL, default=http://localhost:3000/verify-email"`
	ResetURL  string `env:"MAIL_RESET_URL,  default=http://localhost:3000/reset-password"`
	Workers   int    `env:"MAIL_WORKERS,    default=4"`
	LogLinks  bool   `env:"MAIL_LOG_LINKS,  default=false"`

	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID,    default=identity"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX, default=identity/notifications"`
}

type TracingConfig struct {
	Exporter     string `env:"TRACING_EXPORTER, default=none"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME, default=identity"`
}

// Load reads configuration from environment variables and validates it.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom is Load with an explicit variable source.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// TrustedProxyRanges parses TRUSTED_PROXIES. A bare address is a single host.
func (c *Config) TrustedProxyRanges() ([]*net.IPNet, error) {
	ranges := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		p = strings.TrimSpace(p)
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			ranges = append(ranges, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
		ranges = append(ranges, n)
	}
	return ranges, nil
}

// Validate rejects configurations that would start the service insecurely.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Auth.SigningKeys) == 0 {
		add("JWT_SIGNING_KEYS is required")
	}
	for kid, secret := range c.Auth.SigningKeys {
		if kid == "" {
			add("JWT_SIGNING_KEYS contains an empty key id")
		}
		if len(secret) < minSigningKeyLen {
			add("signing key %q must be at least %d bytes", kid, minSigningKeyLen)
		}
		if isPlaceholder(secret) {
			add("signing key %q is a placeholder", kid)
		}
	}
	if c.Auth.ActiveKeyID == "" {
		add("JWT_ACTIVE_KEY_ID is required")
	} else if _, ok := c.Auth.SigningKeys[c.Auth.ActiveKeyID]; !ok && len(c.Auth.SigningKeys) > 0 {
		add("JWT_ACTIVE_KEY_ID %q is not in JWT_SIGNING_KEYS", c.Auth.ActiveKeyID)
	}

	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.VerifyTTL <= 0 || c.Auth.ResetTTL <= 0 {
		add("token TTLs must be positive")
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		add("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if c.Auth.RefreshTTL < minRefreshTTL || c.Auth.RefreshTTL > maxRefreshTTL {
		add("REFRESH_TOKEN_TTL must be between %s and %s", minRefreshTTL, maxRefreshTTL)
	}
	if c.Auth.ResetTTL > maxResetTTL {
		add("RESET_TOKEN_TTL must not exceed %s", maxResetTTL)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		add("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.DefaultRole == "" {
		add("DEFAULT_ROLE is required")
	}

	if len(c.CORSOrigins) == 0 {
		add("CORS_ORIGINS is required")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" {
			add("CORS_ORIGINS must list explicit origins")
		}
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		add("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if _, err := c.TrustedProxyRanges(); err != nil {
		add("%v", err)
	}

	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDB == "" {
			add("MONGO_URI and MONGO_DB are required for the mongo driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			add("POSTGRES_DSN is required for the postgres driver")
		}
	case DriverMemory:
		if c.IsProduction() {
			add("the memory store is not allowed in production")
		}
	default:
		add("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailMQTT:
		if c.Mail.MQTTBroker == "" {
			add("MQTT_BROKER is required for the mqtt mail driver")
		}
	default:
		add("unknown MAIL_DRIVER %q", c.Mail.Driver)
	}
	if c.Mail.LogLinks && c.IsProduction() {
		add("MAIL_LOG_LINKS must be off in production")
	}
	for name, raw := range map[string]string{"MAIL_VERIFY_URL": c.Mail.VerifyURL, "MAIL_RESET_URL": c.Mail.ResetURL} {
		if u, err := url.Parse(raw); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			add("%s must be an absolute http(s) URL", name)
		}
	}

	switch c.Tracing.Exporter {
	case TracingNone, TracingStdout:
	case TracingOTLP:
		if c.Tracing.OTLPEndpoint == "" {
			add("OTEL_EXPORTER_OTLP_ENDPOINT is required for the otlp exporter")
		}
	default:
		add("unknown TRACING_EXPORTER %q", c.Tracing.Exporter)
	}

	return errors.Join(errs...)
}

func isPlaceholder(secret string) bool {
	s := strings.ToLower(secret)
	for _, p := range []string{"change_me", "changeme", "your-secret", "xxxxxxxx"} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// LoadStore reads only the storage settings, for tooling that never serves
// traffic.
func LoadStore(ctx context.Context, l envconfig.Lookuper) (*StoreConfig, error) {
	var sc StoreConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &sc, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch sc.Driver {
	case DriverMongo, DriverMemory:
	case DriverPostgres:
		if sc.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", sc.Driver)
	}
	return &sc, nil
}
