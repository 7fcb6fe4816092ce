package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Render   RenderConfig   `mapstructure:"render"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int    `mapstructure:"port"`
	InternalSecret string `mapstructure:"internal_secret"`
	// PublicBaseURL 用于拼接条码/二维码等图片的绝对地址。
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	CacheKey string        `mapstructure:"cache_key"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Addr 返回 host:port。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 控制写接口的 JWT 校验。公钥为空时不校验。
type AuthConfig struct {
	PublicKeyPEM string `mapstructure:"public_key_pem"`
}

// ClamdConfig 指定背景图上传时使用的 clamd 地址，为空则跳过扫描。
type ClamdConfig struct {
	Address string `mapstructure:"address"`
}

// RenderConfig 控制工牌渲染时的素材解析与输出。
type RenderConfig struct {
	PhotoPrefix     string        `mapstructure:"photo_prefix"`
	QREndpoint      string        `mapstructure:"qr_endpoint"`
	FontDir         string        `mapstructure:"font_dir"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries    int           `mapstructure:"fetch_retries"`
	PresignTTL      time.Duration `mapstructure:"presign_ttl"`
	ChromiumEnabled bool          `mapstructure:"chromium_enabled"`
	// PrintLimit 限制单个访客每小时的打印次数，0 表示不限制。
	PrintLimit int64 `mapstructure:"print_limit"`
}

// WorkerConfig 控制 asynq worker。
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// InternalAPIURL 是 worker 拉取打印数据时访问的 API 地址。
	InternalAPIURL string `mapstructure:"internal_api_url"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.public_base_url", "http://localhost:8080")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "carddesigner")
	v.SetDefault("database.user", "carddesigner")
	v.SetDefault("database.password", "carddesigner")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.cache_key", "card-design:cache")
	v.SetDefault("redis.cache_ttl", time.Duration(0))
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "badges")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("render.photo_prefix", "visitor-photos/")
	v.SetDefault("render.fetch_timeout", 5*time.Second)
	v.SetDefault("render.fetch_retries", 2)
	v.SetDefault("render.presign_ttl", time.Hour)
	v.SetDefault("render.chromium_enabled", true)
	v.SetDefault("render.print_limit", 20)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.internal_api_url", "http://localhost:8080")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"api.internal_secret":      "API_INTERNAL_SECRET",
		"api.public_base_url":      "API_PUBLIC_BASE_URL",
		"database.host":            "DATABASE_HOST",
		"database.port":            "DATABASE_PORT",
		"database.name":            "POSTGRES_DB",
		"database.user":            "POSTGRES_USER",
		"database.password":        "POSTGRES_PASSWORD",
		"database.sslmode":         "DATABASE_SSLMODE",
		"redis.host":               "REDIS_HOST",
		"redis.port":               "REDIS_PORT",
		"redis.cache_key":          "REDIS_CACHE_KEY",
		"redis.cache_ttl":          "REDIS_CACHE_TTL",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.public_endpoint":    "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.region":             "MINIO_REGION",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"auth.public_key_pem":      "AUTH_JWT_PUBLIC_KEY",
		"clamd.address":            "CLAMD_ADDRESS",
		"render.photo_prefix":      "RENDER_PHOTO_PREFIX",
		"render.qr_endpoint":       "RENDER_QR_ENDPOINT",
		"render.font_dir":          "RENDER_FONT_DIR",
		"render.fetch_timeout":     "RENDER_FETCH_TIMEOUT",
		"render.fetch_retries":     "RENDER_FETCH_RETRIES",
		"render.presign_ttl":       "RENDER_PRESIGN_TTL",
		"render.chromium_enabled":  "RENDER_CHROMIUM_ENABLED",
		"render.print_limit":       "RENDER_PRINT_LIMIT",
		"worker.concurrency":       "WORKER_CONCURRENCY",
		"worker.internal_api_url":  "WORKER_INTERNAL_API_URL",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if u, err := url.Parse(cfg.API.PublicBaseURL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid api public base url %q", cfg.API.PublicBaseURL)
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.Redis.CacheTTL < 0 {
		return errors.New("redis cache ttl must not be negative")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if t := strings.TrimSpace(cfg.Render.QREndpoint); t != "" && !strings.Contains(t, "{data}") {
		return errors.New("render qr endpoint must contain a {data} placeholder")
	}
	if cfg.Render.FetchTimeout <= 0 {
		return errors.New("render fetch timeout must be positive")
	}
	if cfg.Render.FetchRetries < 0 {
		return errors.New("render fetch retries must not be negative")
	}
	if cfg.Render.PrintLimit < 0 {
		return errors.New("render print limit must not be negative")
	}
	if u, err := url.Parse(cfg.Worker.InternalAPIURL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid worker internal api url %q", cfg.Worker.InternalAPIURL)
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
