package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "pixora",
			Password: "secret", Name: "pixora", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT: JWTConfig{
			Secret: "jwt-secret-that-is-at-least-32-chars!!",
			Issuer: "pixora",
			Expiry: 24 * time.Hour,
		},
		Quota: QuotaConfig{
			Backend:         "postgres",
			DefaultTimezone: "Europe/Berlin",
			Tiers:           DefaultTiers(),
		},
		Provider: ProviderConfig{APIToken: "r8_token", Timeout: 2 * time.Minute},
		Storage:  StorageConfig{Provider: "local", BasePath: "./data"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_UnknownQuotaBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Backend = "memcached"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QUOTA_BACKEND") {
		t.Fatalf("expected QUOTA_BACKEND error, got: %v", err)
	}
}

func TestValidate_UnknownTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.DefaultTimezone = "Mars/Olympus_Mons"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QUOTA_DEFAULT_TIMEZONE") {
		t.Fatalf("expected QUOTA_DEFAULT_TIMEZONE error, got: %v", err)
	}
}

func TestValidate_MissingTier(t *testing.T) {
	cfg := validConfig()
	delete(cfg.Quota.Tiers, "enterprise")
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `"enterprise"`) {
		t.Fatalf("expected missing tier error, got: %v", err)
	}
}

func TestValidate_S3RequiresBucketAndKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Provider = "s3"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected s3 validation errors")
	}
	if !strings.Contains(err.Error(), "STORAGE_BUCKET") {
		t.Errorf("expected STORAGE_BUCKET error in: %v", err)
	}
	if !strings.Contains(err.Error(), "STORAGE_ACCESS_KEY_ID") {
		t.Errorf("expected credentials error in: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 0},
		DB:      DBConfig{Port: 5432},
		Redis:   RedisConfig{Port: 6379},
		Quota:   QuotaConfig{Backend: "postgres", DefaultTimezone: "UTC", Tiers: DefaultTiers()},
		Storage: StorageConfig{Provider: "local"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_SECRET", "DB_PASSWORD", "SERVER_PORT", "REPLICATE_TIMEOUT"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	want := map[string]TierLimits{
		"free":       {Generations: 2, Upscales: 3},
		"premium":    {Generations: 20, Upscales: 10},
		"enterprise": {Generations: 100, Upscales: 50},
	}
	for name, limits := range want {
		if tiers[name] != limits {
			t.Errorf("tier %s: got %+v, want %+v", name, tiers[name], limits)
		}
	}
}
