package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Advisory  AdvisoryConfig
	Batch     BatchConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig tunes the study schedule engine and its store access.
type SchedulerConfig struct {
	SessionLength    string
	Distribution     string
	CoordinationMode string
	StoreTimeout     time.Duration
	MaxRangeDays     int
	TuningFile       string
	BlockedWindows   []string
}

// AdvisoryConfig configures the external advisory reasoning service.
type AdvisoryConfig struct {
	Enabled     bool
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	CacheTTL    time.Duration
}

// BatchConfig configures the offline household batch runner.
type BatchConfig struct {
	Workers   int
	ExportDir string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		SessionLength:    v.GetString("SCHEDULER_SESSION_LENGTH"),
		Distribution:     v.GetString("SCHEDULER_DISTRIBUTION"),
		CoordinationMode: v.GetString("SCHEDULER_COORDINATION_MODE"),
		StoreTimeout:     parseDuration(v.GetString("SCHEDULER_STORE_TIMEOUT"), 3*time.Second),
		MaxRangeDays:     v.GetInt("SCHEDULER_MAX_RANGE_DAYS"),
		TuningFile:       v.GetString("SCHEDULER_TUNING_FILE"),
		BlockedWindows:   splitAndTrim(v.GetString("SCHEDULER_BLOCKED_WINDOWS")),
	}

	cfg.Advisory = AdvisoryConfig{
		Enabled:     v.GetBool("ADVISORY_ENABLED"),
		BaseURL:     v.GetString("ADVISORY_BASE_URL"),
		APIKey:      v.GetString("ADVISORY_API_KEY"),
		Model:       v.GetString("ADVISORY_MODEL"),
		Timeout:     parseDuration(v.GetString("ADVISORY_TIMEOUT"), 20*time.Second),
		Temperature: v.GetFloat64("ADVISORY_TEMPERATURE"),
		MaxTokens:   v.GetInt("ADVISORY_MAX_TOKENS"),
		CacheTTL:    parseDuration(v.GetString("ADVISORY_CACHE_TTL"), 30*time.Minute),
	}

	cfg.Batch = BatchConfig{
		Workers:   v.GetInt("BATCH_WORKERS"),
		ExportDir: v.GetString("BATCH_EXPORT_DIR"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "study_planner")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_SESSION_LENGTH", "medium")
	v.SetDefault("SCHEDULER_DISTRIBUTION", "evenly_distributed")
	v.SetDefault("SCHEDULER_COORDINATION_MODE", "balanced")
	v.SetDefault("SCHEDULER_STORE_TIMEOUT", "3s")
	v.SetDefault("SCHEDULER_MAX_RANGE_DAYS", 92)
	v.SetDefault("SCHEDULER_TUNING_FILE", "")
	v.SetDefault("SCHEDULER_BLOCKED_WINDOWS", "12:00-13:00")

	v.SetDefault("ADVISORY_ENABLED", false)
	v.SetDefault("ADVISORY_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("ADVISORY_API_KEY", "")
	v.SetDefault("ADVISORY_MODEL", "gpt-4o-mini")
	v.SetDefault("ADVISORY_TIMEOUT", "20s")
	v.SetDefault("ADVISORY_TEMPERATURE", 0.2)
	v.SetDefault("ADVISORY_MAX_TOKENS", 2048)
	v.SetDefault("ADVISORY_CACHE_TTL", "30m")

	v.SetDefault("BATCH_WORKERS", 2)
	v.SetDefault("BATCH_EXPORT_DIR", "./exports")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
