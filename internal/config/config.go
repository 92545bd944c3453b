package config

import (
	"os"
	"strconv"
	"time"
)

// Config skylark-data service configuration, loaded from the environment.
type Config struct {
	HTTP struct {
		Addr string
	}
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	S3           S3Config
	Push         PushConfig
	Processing   ProcessingConfig
	JobsDisabled bool // run as a pure API node, no cron workers
}

// DatabaseConfig postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN renders the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// S3Config object store settings.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Memory switches the backend to the in-memory store for local dev.
	Memory bool
}

// PushConfig push notification service settings.
type PushConfig struct {
	Endpoint            string // FCM HTTP v1 base URL
	ProjectID           string
	CredentialsPath     string // service account json; empty disables push
	ResendEnabled       bool
	ResendPeriodMinutes int
	AttemptBudget       int // attempts before a token is written off
	BlockQuotaErrors    bool
	Workers             int // push_notifications queue pool size
}

// ProcessingConfig data pipeline settings.
type ProcessingConfig struct {
	PageSize         int // upload inbox page size per merge pass
	CompressionLevel int // zstd, hard capped at 4
	Workers          int // data_processing queue pool size
	CycleInterval    time.Duration
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "skylark")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.S3.Endpoint = getEnv("S3_ENDPOINT", "s3.amazonaws.com")
	cfg.S3.Region = getEnv("S3_REGION", "us-east-1")
	cfg.S3.Bucket = getEnv("S3_BUCKET", "")
	cfg.S3.AccessKey = getEnv("S3_ACCESS_KEY", "")
	cfg.S3.SecretKey = getEnv("S3_SECRET_KEY", "")
	cfg.S3.UseSSL = getEnv("S3_USE_SSL", "true") == "true"
	cfg.S3.Memory = getEnv("S3_MEMORY", "false") == "true"

	cfg.Push.Endpoint = getEnv("PUSH_ENDPOINT", "https://fcm.googleapis.com")
	cfg.Push.ProjectID = getEnv("PUSH_PROJECT_ID", "")
	cfg.Push.CredentialsPath = getEnv("PUSH_CREDENTIALS", "")
	cfg.Push.ResendEnabled = getEnv("PUSH_RESEND_ENABLED", "false") == "true"
	cfg.Push.ResendPeriodMinutes = parseInt(getEnv("PUSH_RESEND_PERIOD_MINUTES", "30"), 30)
	cfg.Push.AttemptBudget = parseInt(getEnv("PUSH_ATTEMPT_BUDGET", "720"), 720)
	cfg.Push.BlockQuotaErrors = getEnv("PUSH_BLOCK_QUOTA_ERRORS", "true") == "true"
	cfg.Push.Workers = parseInt(getEnv("PUSH_WORKERS", "4"), 4)

	cfg.Processing.PageSize = parseInt(getEnv("FILE_PROCESS_PAGE_SIZE", "100"), 100)
	cfg.Processing.CompressionLevel = parseInt(getEnv("DATA_COMPRESSION_LEVEL", "2"), 2)
	cfg.Processing.Workers = parseInt(getEnv("DATA_PROCESSING_WORKERS", "4"), 4)
	cfg.Processing.CycleInterval = time.Duration(parseInt(getEnv("CYCLE_INTERVAL_MINUTES", "6"), 6)) * time.Minute

	cfg.JobsDisabled = getEnv("JOBS_DISABLED", "false") == "true"

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
