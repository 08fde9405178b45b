package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置，stem 资源可以使用 minio://bucket/key 形式的地址
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// 外部服务（分轨、click track、BPM/调性/拍号分析）
	SeparationURL string
	ClickTrackURL string
	AnalysisURL   string

	WaveformResolution int           // envelope points per asset
	DriftInterval      time.Duration // transport playhead refresh interval
	MaxConcurrentLoads int
	FetchTimeout       time.Duration
	SampleRate         int // output sample rate of the audio engine

	LogLevel string
	LogPath  string
	WatchDir string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return fromEnv()
}

func fromEnv() *Config {
	cfg := &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "stemmixer"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "stems"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		SeparationURL: getEnv("SEPARATION_URL", "http://localhost:8000"),
		ClickTrackURL: getEnv("CLICK_TRACK_URL", "http://localhost:8000"),
		AnalysisURL:   getEnv("ANALYSIS_URL", "http://localhost:8000"),

		WaveformResolution: getEnvInt("WAVEFORM_RESOLUTION", 800),
		DriftInterval:      time.Duration(getEnvInt("DRIFT_INTERVAL_MS", 50)) * time.Millisecond,
		MaxConcurrentLoads: getEnvInt("MAX_CONCURRENT_LOADS", 4),
		FetchTimeout:       time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 60)) * time.Second,
		SampleRate:         getEnvInt("SAMPLE_RATE", 44100),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
		WatchDir: getEnv("WATCH_DIR", ""),
	}

	if cfg.WaveformResolution <= 0 {
		cfg.WaveformResolution = 800
	}
	if cfg.DriftInterval <= 0 {
		cfg.DriftInterval = 50 * time.Millisecond
	}
	if cfg.MaxConcurrentLoads <= 0 {
		cfg.MaxConcurrentLoads = 1
	}
	return cfg
}
