package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL settings for the optional request log mirror.
// The mirror is disabled when Host is empty.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// Enabled reports whether a Postgres mirror is configured.
func (c DatabaseConfig) Enabled() bool { return c.Host != "" }

// MinIOConfig holds settings for the optional S3-compatible image origin.
// The origin is disabled when Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an object storage origin is configured.
func (c MinIOConfig) Enabled() bool { return c.Endpoint != "" }

// PathsConfig locates every node-local resource the service reads or writes.
// Relative values are resolved against DataDir by Resolve.
type PathsConfig struct {
	DataDir     string
	MappingCSV  string
	Snapshot    string
	ImagesDir   string
	LogFile     string
	CounterFile string
}

// ImageConfig holds request-path tuning for the image endpoint.
type ImageConfig struct {
	LockTimeout      time.Duration
	ResolverCacheTTL time.Duration
	Confine          bool
	WatchMapping     bool
	PlaceholderURL   string
	MaxAgeSec        int
	StatsLimit       int
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	LogLevel string
	Paths    PathsConfig
	Image    ImageConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:  getEnv("APP_HOST", "localhost:8080"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Paths: PathsConfig{
			DataDir:     getEnv("DATA_DIR", "."),
			MappingCSV:  getEnv("MAPPING_CSV", filepath.Join("data", "document_image_mapping.csv")),
			Snapshot:    getEnv("MAPPING_SNAPSHOT", filepath.Join("cache", "document_image_mapping.snapshot.json")),
			ImagesDir:   getEnv("IMAGES_DIR", "images"),
			LogFile:     getEnv("LOG_FILE", filepath.Join("logs", "request_log.txt")),
			CounterFile: getEnv("COUNTER_FILE", filepath.Join("logs", "request_counter.json")),
		},
		Image: ImageConfig{
			LockTimeout:      getEnvDuration("LOCK_TIMEOUT", 2*time.Second),
			ResolverCacheTTL: getEnvDuration("RESOLVER_CACHE_TTL", 30*time.Second),
			Confine:          getEnvBool("IMAGES_CONFINE", false),
			WatchMapping:     getEnvBool("MAPPING_WATCH", false),
			PlaceholderURL:   getEnv("PLACEHOLDER_URL", "https://via.placeholder.com"),
			MaxAgeSec:        getEnvInt("IMAGE_MAX_AGE", 86400),
			StatsLimit:       getEnvInt("STATS_DEFAULT_LIMIT", 100),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}
}

// Resolve returns a copy of the paths with relative entries joined under DataDir.
func (p PathsConfig) Resolve() PathsConfig {
	abs := func(v string) string {
		if v == "" || filepath.IsAbs(v) {
			return v
		}
		return filepath.Join(p.DataDir, v)
	}
	return PathsConfig{
		DataDir:     p.DataDir,
		MappingCSV:  abs(p.MappingCSV),
		Snapshot:    abs(p.Snapshot),
		ImagesDir:   abs(p.ImagesDir),
		LogFile:     abs(p.LogFile),
		CounterFile: abs(p.CounterFile),
	}
}

// EnsureDirs creates the directories holding every resolved resource.
func (p PathsConfig) EnsureDirs() error {
	dirs := []string{
		p.ImagesDir,
		filepath.Dir(p.MappingCSV),
		filepath.Dir(p.Snapshot),
		filepath.Dir(p.LogFile),
		filepath.Dir(p.CounterFile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
