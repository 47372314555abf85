// Package config loads service configuration from the environment, an
// optional .env file, and an optional config.yaml, then validates it.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "change-me-now"
	DefaultOrigin        = "https://club-feedback-system.onrender.com"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Admin     AdminConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Backup    BackupConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            int
	StaticDir       string
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

// Addr returns the listen address for Port.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

type StoreConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type AdminConfig struct {
	Username string
	Password string
}

// UsingDefaultPassword reports whether the placeholder password is still in place.
func (a AdminConfig) UsingDefaultPassword() bool {
	return a.Password == DefaultAdminPassword
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	APIRate      int
	APIWindow    time.Duration
	SubmitRate   int
	SubmitWindow time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether rate-limit state should live in Redis.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type BackupConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Interval  time.Duration
}

// Enabled reports whether any object-storage setting was provided.
func (b BackupConfig) Enabled() bool {
	return b.Endpoint != "" || b.AccessKey != "" || b.SecretKey != "" || b.Bucket != ""
}

type LogConfig struct {
	Level  string
	Format string
}

// envKeys maps viper keys to the environment variables that may set them.
// The first non-empty variable wins.
var envKeys = map[string][]string{
	"server.port":             {"PORT"},
	"server.static_dir":       {"STATIC_DIR"},
	"server.trust_proxy":      {"TRUST_PROXY"},
	"server.shutdown_timeout": {"SHUTDOWN_TIMEOUT"},
	"store.uri":               {"STORE_URI", "MONGODB_URI"},
	"store.database":          {"STORE_DATABASE"},
	"store.collection":        {"STORE_COLLECTION"},
	"store.timeout":           {"STORE_TIMEOUT"},
	"admin.username":          {"ADMIN_USERNAME"},
	"admin.password":          {"ADMIN_PASSWORD"},
	"cors.allowed_origins":    {"ALLOWED_ORIGINS"},
	"ratelimit.api_rate":      {"API_RATE_LIMIT"},
	"ratelimit.api_window":    {"API_RATE_WINDOW"},
	"ratelimit.submit_rate":   {"SUBMIT_RATE_LIMIT"},
	"ratelimit.submit_window": {"SUBMIT_RATE_WINDOW"},
	"redis.addr":              {"REDIS_ADDR"},
	"redis.password":          {"REDIS_PASSWORD"},
	"redis.db":                {"REDIS_DB"},
	"backup.endpoint":         {"S3_ENDPOINT"},
	"backup.access_key":       {"S3_ACCESS_KEY"},
	"backup.secret_key":       {"S3_SECRET_KEY"},
	"backup.bucket":           {"S3_BUCKET"},
	"backup.prefix":           {"BACKUP_PREFIX"},
	"backup.interval":         {"BACKUP_INTERVAL"},
	"log.level":               {"LOG_LEVEL"},
	"log.format":              {"LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "web")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("store.database", "club_feedback")
	v.SetDefault("store.collection", "submissions")
	v.SetDefault("store.timeout", 10*time.Second)
	v.SetDefault("admin.username", DefaultAdminUsername)
	v.SetDefault("admin.password", DefaultAdminPassword)
	v.SetDefault("cors.allowed_origins", DefaultOrigin)
	v.SetDefault("ratelimit.api_rate", 10)
	v.SetDefault("ratelimit.api_window", 15*time.Minute)
	v.SetDefault("ratelimit.submit_rate", 3)
	v.SetDefault("ratelimit.submit_window", time.Hour)
	v.SetDefault("backup.prefix", "backups/")
	v.SetDefault("backup.interval", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env (if present), config.yaml (if present) and the
// environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper applies defaults and environment bindings to v and decodes it.
// It does not validate.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	for key, envs := range envKeys {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			StaticDir:       v.GetString("server.static_dir"),
			TrustProxy:      v.GetBool("server.trust_proxy"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Store: StoreConfig{
			URI:        strings.TrimSpace(v.GetString("store.uri")),
			Database:   v.GetString("store.database"),
			Collection: v.GetString("store.collection"),
			Timeout:    v.GetDuration("store.timeout"),
		},
		Admin: AdminConfig{
			Username: v.GetString("admin.username"),
			Password: v.GetString("admin.password"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.Get("cors.allowed_origins")),
		},
		RateLimit: RateLimitConfig{
			APIRate:      v.GetInt("ratelimit.api_rate"),
			APIWindow:    v.GetDuration("ratelimit.api_window"),
			SubmitRate:   v.GetInt("ratelimit.submit_rate"),
			SubmitWindow: v.GetDuration("ratelimit.submit_window"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Backup: BackupConfig{
			Endpoint:  v.GetString("backup.endpoint"),
			AccessKey: v.GetString("backup.access_key"),
			SecretKey: v.GetString("backup.secret_key"),
			Bucket:    v.GetString("backup.bucket"),
			Prefix:    v.GetString("backup.prefix"),
			Interval:  v.GetDuration("backup.interval"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}, nil
}

// splitList accepts either a YAML list or a comma-separated string.
func splitList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
