package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Env         string
	CORSOrigins string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Connection pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Session tokens
	JWTSecret string
	JWTExpiry time.Duration

	// Admin surface (sync triggers, block/unblock)
	AdminToken string

	// Lockout policy
	MaxLoginAttempts int
	LockoutDuration  time.Duration

	// Remote provider
	RemoteBaseURL    string
	RemoteAPIKey     string
	RemoteTimeout    time.Duration
	InternetProbeURL string
	InternetTimeout  time.Duration

	// Sync
	SyncInterval   time.Duration
	SyncBatchSize  int
	SyncMaxRetries int

	// Photos
	UploadDir     string
	MaxPhotoBytes int64

	// System log retention
	LogRetention time.Duration

	// Object storage (remote media too large for embedded documents)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

func Load() *Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "signalements"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: parseDuration(getEnv("DB_CONN_MAX_LIFETIME", "30m"), 30*time.Minute),
		DBConnMaxIdleTime: parseDuration(getEnv("DB_CONN_MAX_IDLE_TIME", "5m"), 5*time.Minute),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		JWTExpiry: parseDuration(getEnv("JWT_EXPIRY", "24h"), 24*time.Hour),

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 3),
		LockoutDuration:  time.Duration(getEnvInt("LOCKOUT_MINUTES", 1440)) * time.Minute,

		RemoteBaseURL:    getEnv("REMOTE_BASE_URL", ""),
		RemoteAPIKey:     getEnv("REMOTE_API_KEY", ""),
		RemoteTimeout:    parseDuration(getEnv("REMOTE_TIMEOUT", "5s"), 5*time.Second),
		InternetProbeURL: getEnv("INTERNET_PROBE_URL", "https://clients3.google.com/generate_204"),
		InternetTimeout:  parseDuration(getEnv("INTERNET_TIMEOUT", "3s"), 3*time.Second),

		SyncInterval:   parseDuration(getEnv("SYNC_INTERVAL", "1m"), time.Minute),
		SyncBatchSize:  getEnvInt("SYNC_BATCH_SIZE", 50),
		SyncMaxRetries: getEnvInt("SYNC_MAX_RETRIES", 5),

		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
		MaxPhotoBytes: int64(getEnvInt("MAX_PHOTO_BYTES", 1048487)),

		LogRetention: time.Duration(getEnvInt("LOG_RETENTION_DAYS", 30)) * 24 * time.Hour,

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
	}

	if cfg.Env == "production" && cfg.JWTSecret == "dev-secret-change-in-production" {
		slog.Error("JWT_SECRET must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
