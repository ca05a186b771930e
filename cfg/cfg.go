package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
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
	Port             string
	Environment      string
	LogLevel         string
	DatabasePath     string
	RedisURL         string
	RedisPassword    Secret
	RedisTimeout     time.Duration
	LRUCacheSize     int
	RateLimit        RateLimitCfg
	MaxPasteSize     int64
	MaxEntries       int64
	IDLength         int
	RemovalKeyLength int
	DefaultTTLDays   int
	MinTTLDays       int
	MaxTTLDays       int
	MetricsUser      string
	MetricsPass      Secret
	ContextTimeout   time.Duration
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBQueryTimeout   time.Duration
}

// RateLimitCfg holds per-endpoint requests-per-minute limits. The defaults
// mirror the public deployment: creation is the most expensive operation,
// reads the cheapest.
type RateLimitCfg struct {
	CreateRPM int
	ReadRPM   int
	UpdateRPM int
	DeleteRPM int
	Burst     int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "paste.db")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	var err error
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.RateLimit.CreateRPM, err = getInt("RATE_LIMIT_CREATE_RPM", 6)
	if err != nil {
		return nil, err
	}
	c.RateLimit.ReadRPM, err = getInt("RATE_LIMIT_READ_RPM", 20)
	if err != nil {
		return nil, err
	}
	c.RateLimit.UpdateRPM, err = getInt("RATE_LIMIT_UPDATE_RPM", 3)
	if err != nil {
		return nil, err
	}
	c.RateLimit.DeleteRPM, err = getInt("RATE_LIMIT_DELETE_RPM", 10)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 5)
	if err != nil {
		return nil, err
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 5*1024*1024)
	if err != nil {
		return nil, err
	}
	c.MaxEntries, err = getInt64("MAX_ENTRIES", 100_000)
	if err != nil {
		return nil, err
	}
	c.IDLength, err = getInt("PASTE_ID_LENGTH", 8)
	if err != nil {
		return nil, err
	}
	c.RemovalKeyLength, err = getInt("REMOVAL_KEY_LENGTH", 24)
	if err != nil {
		return nil, err
	}
	c.DefaultTTLDays, err = getInt("DEFAULT_TTL_DAYS", 7)
	if err != nil {
		return nil, err
	}
	c.MinTTLDays, err = getInt("MIN_TTL_DAYS", 1)
	if err != nil {
		return nil, err
	}
	c.MaxTTLDays, err = getInt("MAX_TTL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.DatabasePath != ":memory:" {
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		absWorkDir, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		absDBPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PATH: %w", err)
		}
		if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
			return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxEntries <= 0 {
		return errors.New("MAX_ENTRIES must be positive")
	}
	if c.IDLength < 4 || c.IDLength > 32 {
		return errors.New("PASTE_ID_LENGTH must be between 4 and 32")
	}
	if c.RemovalKeyLength < 16 || c.RemovalKeyLength > 64 {
		return errors.New("REMOVAL_KEY_LENGTH must be between 16 and 64")
	}
	if c.RemovalKeyLength == c.IDLength {
		return errors.New("REMOVAL_KEY_LENGTH must differ from PASTE_ID_LENGTH")
	}
	if c.MinTTLDays < 1 {
		return errors.New("MIN_TTL_DAYS must be at least 1")
	}
	if c.MaxTTLDays < c.MinTTLDays {
		return errors.New("MAX_TTL_DAYS must be >= MIN_TTL_DAYS")
	}
	if c.DefaultTTLDays < c.MinTTLDays || c.DefaultTTLDays > c.MaxTTLDays {
		return errors.New("DEFAULT_TTL_DAYS must fall within MIN_TTL_DAYS..MAX_TTL_DAYS")
	}
	if c.RateLimit.CreateRPM <= 0 || c.RateLimit.ReadRPM <= 0 ||
		c.RateLimit.UpdateRPM <= 0 || c.RateLimit.DeleteRPM <= 0 {
		return errors.New("rate limits must be positive")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}

// DefaultTTL converts the configured default retention into a duration.
func (c *Cfg) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLDays) * 24 * time.Hour
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
