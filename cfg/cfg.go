package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Host            string
	Port            string
	Environment     string
	LogLevel        string
	DB              DBCfg
	RedisURL        string
	RedisPassword   Secret
	RedisTimeout    time.Duration
	RedisCacheTTL   time.Duration
	LRUCacheSize    int
	MaxBodySize     int64
	WorkerPoolSize  int
	ClickQueueSize  int
	ContextTimeout  time.Duration
	AllowedOrigins  []string
	TrustedProxies  []string
	MetricsUser     string
	MetricsPass     Secret
	ShutdownTimeout time.Duration
}

// DBCfg holds the relational store settings. Host/Port/User/Name/Password
// are only read by the postgres driver, Path only by sqlite3.
type DBCfg struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Name         string
	Password     Secret
	SSLMode      string
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first; it never overrides variables that
// are already set.
func Load() (*Cfg, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
	}
	c := &Cfg{}
	c.Host = getEnv("HOST", "127.0.0.1")
	c.Port = getEnv("PORT", "9095")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")

	c.DB.Driver = getEnv("DATABASE_DRIVER", DriverPostgres)
	c.DB.Host = getEnv("DB_HOST", "localhost")
	c.DB.Port = getEnv("DB_PORT", "5432")
	c.DB.User = getEnv("DB_USER", "db_user")
	c.DB.Name = getEnv("DB_NAME", "paste_db_new")
	c.DB.Password = NewSecret(getEnv("DB_PASSWORD", ""))
	c.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	c.DB.Path = getEnv("DATABASE_PATH", "pastebin.db")
	var err error
	c.DB.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DB.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	c.DB.QueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	c.RedisCacheTTL, err = getDuration("REDIS_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.MaxBodySize, err = getInt64("MAX_BODY_SIZE", 4000)
	if err != nil {
		return nil, err
	}
	c.WorkerPoolSize, err = getInt("WORKER_POOL_SIZE", 4)
	if err != nil {
		return nil, err
	}
	c.ClickQueueSize, err = getInt("CLICK_QUEUE_SIZE", 1024)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{"*"})
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		return errors.New("PORT must be a number between 0 and 65535")
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.Host == "" || c.DB.User == "" || c.DB.Name == "" {
			return errors.New("DB_HOST, DB_USER and DB_NAME are required for the postgres driver")
		}
		if _, err := strconv.Atoi(c.DB.Port); err != nil {
			return errors.New("DB_PORT must be a number")
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			return errors.New("DATABASE_PATH is required for the sqlite3 driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DB.Driver)
	}
	if c.DB.MaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}
	if c.DB.MaxIdleConns < 0 || c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		return errors.New("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS")
	}
	if c.DB.QueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.MaxBodySize <= 0 {
		return errors.New("MAX_BODY_SIZE must be positive")
	}
	if c.MaxBodySize > 10*1024*1024 {
		return errors.New("MAX_BODY_SIZE cannot exceed 10MB")
	}
	if c.WorkerPoolSize <= 0 {
		return errors.New("WORKER_POOL_SIZE must be positive")
	}
	if c.ClickQueueSize < 0 {
		return errors.New("CLICK_QUEUE_SIZE must not be negative")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *Cfg) Wipe() {
	c.DB.Password.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
