package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
port: "8090"
localDir: "testdata"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DataMode != "local" {
		t.Fatalf("dataMode = %q, want local", cfg.DataMode)
	}
	if cfg.SessionBackend != SessionFile || cfg.SessionFile != "data/session.json" {
		t.Fatalf("session defaults = %q %q", cfg.SessionBackend, cfg.SessionFile)
	}
	if cfg.LandingRoute != "books" {
		t.Fatalf("landingRoute = %q", cfg.LandingRoute)
	}
	if d, _ := ParseFetchTimeout(cfg.FetchTimeout); d != 10*time.Second {
		t.Fatalf("fetchTimeout = %v", d)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONSOLE_DATA_MODE", "mock")
	t.Setenv("CONSOLE_MOCK_URL", "http://localhost:3000")
	t.Setenv("CONSOLE_SESSION_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CONSOLE_LOGIN_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("CONSOLE_ALLOWED_ORIGINS", "http://localhost:5173, https://shop.example")

	cfg, err := Load(writeConfig(t, `
port: "8090"
dataMode: "local"
localDir: "testdata"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DataMode != "mock" || cfg.MockURL != "http://localhost:3000" {
		t.Fatalf("data source = %q %q", cfg.DataMode, cfg.MockURL)
	}
	if cfg.SessionBackend != SessionRedis || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("session backend = %q %q", cfg.SessionBackend, cfg.RedisAddr)
	}
	if cfg.LoginRateLimitPerMinute != 5 {
		t.Fatalf("loginRateLimitPerMinute = %d", cfg.LoginRateLimitPerMinute)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://shop.example" {
		t.Fatalf("allowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"missing port":        {`localDir: "x"`, "port is required"},
		"unknown mode":        {"port: \"1\"\ndataMode: ftp", "unknown dataMode"},
		"api without url":     {"port: \"1\"\ndataMode: api", "apiURL is required"},
		"bucket without name": {"port: \"1\"\nminioEndpoint: localhost:9000", "localBucket is required"},
		"redis session":       {"port: \"1\"\nlocalDir: x\nsessionBackend: redis", "redisAddr is required"},
		"rate limit":          {"port: \"1\"\nlocalDir: x\nloginRateLimitPerMinute: 3", "redisAddr is required"},
		"bad timeout":         {"port: \"1\"\nlocalDir: x\nfetchTimeout: soon", "invalid fetchTimeout"},
		"bad backend":         {"port: \"1\"\nlocalDir: x\nsessionBackend: cookie", "unknown sessionBackend"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}
