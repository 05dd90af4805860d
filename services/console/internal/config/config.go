package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load gets an empty path.
const ConfigPath = "config.yaml"

// Session backends.
const (
	SessionFile   = "file"
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
	SessionMemory = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DataMode       string `yaml:"dataMode"`
	LocalDir       string `yaml:"localDir"`
	LocalBucket    string `yaml:"localBucket"`
	BucketPrefix   string `yaml:"bucketPrefix"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioRegion    string `yaml:"minioRegion"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MockURL        string `yaml:"mockURL"`
	APIURL         string `yaml:"apiURL"`
	FetchTimeout   string `yaml:"fetchTimeout"`

	SessionBackend string `yaml:"sessionBackend"`
	SessionFile    string `yaml:"sessionFile"`
	SessionDB      string `yaml:"sessionDB"`
	SessionKey     string `yaml:"sessionKey"`

	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	ChangeStream            string   `yaml:"changeStream"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins          []string `yaml:"allowedOrigins"`

	LandingRoute string `yaml:"landingRoute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("CONSOLE_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CONSOLE_DATA_MODE"); v != "" {
		cfg.DataMode = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_LOCAL_DIR"); v != "" {
		cfg.LocalDir = v
	}
	if v := os.Getenv("CONSOLE_MOCK_URL"); v != "" {
		cfg.MockURL = v
	}
	if v := os.Getenv("CONSOLE_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_REGION"); v != "" {
		cfg.MinioRegion = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.LocalBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("CONSOLE_SESSION_BACKEND"); v != "" {
		cfg.SessionBackend = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_SESSION_FILE"); v != "" {
		cfg.SessionFile = v
	}
	if v := os.Getenv("CONSOLE_SESSION_DB"); v != "" {
		cfg.SessionDB = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CONSOLE_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CONSOLE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CONSOLE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DataMode == "" {
		cfg.DataMode = "local"
	}
	if cfg.FetchTimeout == "" {
		cfg.FetchTimeout = "10s"
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = SessionFile
	}
	if cfg.SessionBackend == SessionFile && cfg.SessionFile == "" {
		cfg.SessionFile = "data/session.json"
	}
	if cfg.SessionBackend == SessionSQLite && cfg.SessionDB == "" {
		cfg.SessionDB = "data/session.db"
	}
	if cfg.LandingRoute == "" {
		cfg.LandingRoute = "books"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DataMode {
	case "local":
		if cfg.LocalDir == "" && cfg.MinioEndpoint == "" {
			return errors.New("config: local mode requires localDir or minioEndpoint")
		}
		if cfg.MinioEndpoint != "" && cfg.LocalBucket == "" {
			return errors.New("config: localBucket is required with minioEndpoint")
		}
	case "mock":
		if cfg.MockURL == "" {
			return errors.New("config: mockURL is required in mock mode")
		}
	case "api":
		if cfg.APIURL == "" {
			return errors.New("config: apiURL is required in api mode")
		}
	default:
		return fmt.Errorf("config: unknown dataMode %q (want local, mock or api)", cfg.DataMode)
	}
	if _, err := ParseFetchTimeout(cfg.FetchTimeout); err != nil {
		return err
	}
	switch cfg.SessionBackend {
	case SessionFile, SessionSQLite, SessionMemory:
	case SessionRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis session backend")
		}
	default:
		return fmt.Errorf("config: unknown sessionBackend %q", cfg.SessionBackend)
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: loginRateLimitPerMinute must be >= 0")
	}
	if cfg.LoginRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for login rate limiting")
	}
	if cfg.ChangeStream != "" && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required to follow changeStream")
	}
	return nil
}

// ParseFetchTimeout parses the fetchTimeout duration.
func ParseFetchTimeout(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid fetchTimeout %q", v)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
