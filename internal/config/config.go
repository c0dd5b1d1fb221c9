package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the captioner server and workers.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Cache    CacheConfig
	Model    ModelConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        slog.Level
	MaxUploadBytes  int64
	MediaDir        string
	MediaURL        string
	RateLimitPerMin int

	// TrustedProxies lists peers, as IPs or CIDRs, whose X-Forwarded-For
	// header is believed. Empty means the header is ignored.
	TrustedProxies []string
}

// ProxyPrefixes parses TrustedProxies. A bare IP becomes a single-address prefix.
func (s ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, v := range s.TrustedProxies {
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", v)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Key               string
	Workers           int
	JobTimeout        time.Duration
	ClaimWait         time.Duration
	VisibilityTimeout time.Duration
	ReapInterval      time.Duration
	Retention         time.Duration
}

type CacheConfig struct {
	PredictionTTL time.Duration
	StatusTTL     time.Duration
}

type ModelConfig struct {
	Provider string
	Device   string
	Ollama   OllamaConfig
}

type OllamaConfig struct {
	BaseURL   string
	Model     string
	KeepAlive time.Duration
}

var validProviders = map[string]bool{
	"ollama": true,
	"mock":   true,
}

var validDevices = map[string]bool{
	"auto": true,
	"gpu":  true,
	"cpu":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDev is Load without the backing-service requirements, for the
// single-process mode that keeps jobs, cache and queue in memory.
func LoadDev() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            envInt("CAPTIONER_PORT", 8080),
			Env:             envString("CAPTIONER_ENV", "development"),
			LogLevel:        envLevel("LOG_LEVEL", slog.LevelInfo),
			MaxUploadBytes:  int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
			MediaDir:        envString("MEDIA_DIR", "./media"),
			MediaURL:        envString("MEDIA_URL", "/media/"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
			TrustedProxies:  envList("TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Key:               envString("QUEUE_KEY", "captioner:jobs"),
			Workers:           envInt("QUEUE_WORKERS", 1),
			JobTimeout:        envDurationSecs("JOB_TIMEOUT_SECS", 120*time.Second),
			ClaimWait:         envDuration("QUEUE_CLAIM_WAIT", 5*time.Second),
			VisibilityTimeout: envDuration("QUEUE_VISIBILITY_TIMEOUT", 10*time.Minute),
			ReapInterval:      envDuration("QUEUE_REAP_INTERVAL", 15*time.Second),
			Retention:         envDuration("JOB_RETENTION", 24*time.Hour),
		},
		Cache: CacheConfig{
			PredictionTTL: envDuration("PREDICTION_CACHE_TTL", time.Hour),
			StatusTTL:     envDuration("STATUS_CACHE_TTL", 30*time.Minute),
		},
		Model: ModelConfig{
			Provider: envString("MODEL_PROVIDER", "ollama"),
			Device:   strings.ToLower(envString("MODEL_DEVICE", "auto")),
			Ollama: OllamaConfig{
				BaseURL:   envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:     envString("OLLAMA_MODEL", "moondream"),
				KeepAlive: envDuration("OLLAMA_KEEP_ALIVE", 30*time.Minute),
			},
		},
	}
}

func (c *Config) validate(requireBackends bool) error {
	if requireBackends {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if !strings.HasPrefix(c.Server.MediaURL, "/") || !strings.HasSuffix(c.Server.MediaURL, "/") {
		return fmt.Errorf("MEDIA_URL must start and end with /, got %q", c.Server.MediaURL)
	}

	if _, err := c.Server.ProxyPrefixes(); err != nil {
		return err
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECS must be positive")
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"QUEUE_CLAIM_WAIT", c.Queue.ClaimWait},
		{"QUEUE_VISIBILITY_TIMEOUT", c.Queue.VisibilityTimeout},
		{"QUEUE_REAP_INTERVAL", c.Queue.ReapInterval},
		{"PREDICTION_CACHE_TTL", c.Cache.PredictionTTL},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.val)
		}
	}
	// Zero disables purging and status caching respectively.
	if c.Queue.Retention < 0 {
		return fmt.Errorf("JOB_RETENTION must not be negative, got %s", c.Queue.Retention)
	}
	if c.Cache.StatusTTL < 0 {
		return fmt.Errorf("STATUS_CACHE_TTL must not be negative, got %s", c.Cache.StatusTTL)
	}

	if !validProviders[c.Model.Provider] {
		return fmt.Errorf("MODEL_PROVIDER must be one of ollama, mock; got %q", c.Model.Provider)
	}
	if !validDevices[c.Model.Device] {
		return fmt.Errorf("MODEL_DEVICE must be one of auto, gpu, cpu; got %q", c.Model.Device)
	}
	if !strings.HasPrefix(c.Model.Ollama.BaseURL, "http://") && !strings.HasPrefix(c.Model.Ollama.BaseURL, "https://") {
		return fmt.Errorf("OLLAMA_BASE_URL must start with http:// or https://, got %q", c.Model.Ollama.BaseURL)
	}
	if c.Model.Ollama.Model == "" {
		return fmt.Errorf("OLLAMA_MODEL is required")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return l
}
