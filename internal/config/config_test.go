package config

import (
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func validBase(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "peersupport", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase("production")
	c.DB.SSLMode = ""
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase("local")
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_StoreDriverDefaultsToRedis(t *testing.T) {
	c := validBase("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Store.Driver != "redis" {
		t.Fatalf("expected redis driver default, got %q", c.Store.Driver)
	}
}

func TestValidate_RejectsMemoryStoreInProduction(t *testing.T) {
	c := validBase("production")
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	c.Store.Driver = "memory"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for memory store in production")
	}
}

func TestValidate_WatchDefaults(t *testing.T) {
	c := validBase("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Watch.MaxPerUser <= 0 {
		t.Fatalf("expected watch cap default, got %d", c.Watch.MaxPerUser)
	}
	if c.Watch.SlotTTL <= 0 {
		t.Fatalf("expected watch slot ttl default, got %v", c.Watch.SlotTTL)
	}
	if c.Push.Timeout != 5*time.Second {
		t.Fatalf("expected push timeout default, got %v", c.Push.Timeout)
	}
}
