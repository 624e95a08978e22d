package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Quota     QuotaConfig
	Provider  ProviderConfig
	Storage   StorageConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
	MigrationsPath     string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

// TierLimits is the daily allowance for one subscription tier.
type TierLimits struct {
	Generations int
	Upscales    int
}

type QuotaConfig struct {
	// Backend selects the quota record store: "postgres" or "redis".
	Backend         string
	DefaultTimezone string
	Tiers           map[string]TierLimits
	UpgradeURL      string
}

type ProviderConfig struct {
	APIToken        string
	BaseURL         string
	GenerateModel   string
	UpscaleModel    string
	UpscaleScale    int
	FaceEnhance     bool
	Timeout         time.Duration
	PollInterval    time.Duration
	RequestsPerSec  float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type StorageConfig struct {
	Provider        string // "local" or "s3"
	BasePath        string
	BaseURL         string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

type JobsConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
	ProgressTick  time.Duration
}

type RateLimitConfig struct {
	MaxRequests int
	WindowSec   int
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultTiers is the observed tier table; any entry can be overridden
// through QUOTA_TIER_<NAME>_GENERATIONS / QUOTA_TIER_<NAME>_UPSCALES.
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		"free":       {Generations: 2, Upscales: 3},
		"premium":    {Generations: 20, Upscales: 10},
		"enterprise": {Generations: 100, Upscales: 50},
	}
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: splitList(k.String("cors.allowed.origins")),
			MigrationsPath:     k.String("migrations.path"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			Secret: k.String("jwt.secret"),
			Issuer: k.String("jwt.issuer"),
		},
		Quota: QuotaConfig{
			Backend:         k.String("quota.backend"),
			DefaultTimezone: k.String("quota.default.timezone"),
			UpgradeURL:      k.String("quota.upgrade.url"),
			Tiers:           DefaultTiers(),
		},
		Provider: ProviderConfig{
			APIToken:        k.String("replicate.api.token"),
			BaseURL:         k.String("replicate.base.url"),
			GenerateModel:   k.String("replicate.generate.model"),
			UpscaleModel:    k.String("replicate.upscale.model"),
			UpscaleScale:    k.Int("replicate.upscale.scale"),
			FaceEnhance:     k.Bool("replicate.face.enhance"),
			RequestsPerSec:  k.Float64("replicate.rate"),
			Burst:           k.Int("replicate.burst"),
			BreakerFailures: uint32(k.Int("replicate.breaker.failures")),
		},
		Storage: StorageConfig{
			Provider:        k.String("storage.provider"),
			BasePath:        k.String("storage.base.path"),
			BaseURL:         k.String("storage.base.url"),
			Bucket:          k.String("storage.bucket"),
			Region:          k.String("storage.region"),
			Endpoint:        k.String("storage.endpoint"),
			AccessKeyID:     k.String("storage.access.key.id"),
			SecretAccessKey: k.String("storage.secret.access.key"),
			PublicURL:       k.String("storage.public.url"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: k.Int("ratelimit.max.requests"),
			WindowSec:   k.Int("ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	for name, limits := range cfg.Quota.Tiers {
		if v := k.Int("quota.tier." + name + ".generations"); v > 0 {
			limits.Generations = v
		}
		if v := k.Int("quota.tier." + name + ".upscales"); v > 0 {
			limits.Upscales = v
		}
		cfg.Quota.Tiers[name] = limits
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MigrationsPath == "" {
		cfg.Server.MigrationsPath = "migrations"
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "pixora"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "pixora"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "pixora"
	}
	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = "postgres"
	}
	if cfg.Quota.DefaultTimezone == "" {
		cfg.Quota.DefaultTimezone = "UTC"
	}
	if cfg.Quota.UpgradeURL == "" {
		cfg.Quota.UpgradeURL = "/pricing"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.replicate.com"
	}
	if cfg.Provider.GenerateModel == "" {
		cfg.Provider.GenerateModel = "black-forest-labs/flux-dev"
	}
	if cfg.Provider.UpscaleModel == "" {
		cfg.Provider.UpscaleModel = "nightmareai/real-esrgan"
	}
	if cfg.Provider.UpscaleScale == 0 {
		cfg.Provider.UpscaleScale = 4
	}
	if cfg.Provider.RequestsPerSec == 0 {
		cfg.Provider.RequestsPerSec = 5
	}
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = 10
	}
	if cfg.Provider.BreakerFailures == 0 {
		cfg.Provider.BreakerFailures = 5
	}
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "local"
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "./data"
	}
	if cfg.Storage.BaseURL == "" {
		cfg.Storage.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "auto"
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 30
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"jwt.expiry", "24h", &cfg.JWT.Expiry},
		{"replicate.timeout", "120s", &cfg.Provider.Timeout},
		{"replicate.poll.interval", "1s", &cfg.Provider.PollInterval},
		{"replicate.breaker.timeout", "60s", &cfg.Provider.BreakerTimeout},
		{"jobs.retention", "10m", &cfg.Jobs.Retention},
		{"jobs.sweep.interval", "30s", &cfg.Jobs.SweepInterval},
		{"jobs.progress.tick", "1s", &cfg.Jobs.ProgressTick},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dest, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
