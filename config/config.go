package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 应用配置，取自环境变量（可由 .env 预置），缺省时使用默认值
type Config struct {
	// 流媒体服务
	Port                string
	ServerVersion       string
	Provider            string
	SuggestedCollateral int64
	MaxListResults      int
	StdComment          string

	// 曲目索引与切片存储
	TrackIndex    string // "file" or "mysql"
	StreamsDB     string // path of the streams.json index
	WatchIndex    bool
	AudioDir      string // root directory of slice files and covers
	DefaultCover  string
	SliceStore    string // "fs" or "minio"
	SliceCache    bool
	SliceCacheTTL time.Duration

	// 支付服务
	PayServerURL    string
	PayServerPort   string
	PayServerSecret string
	PayServerStore  string // "memory" or "redis"
	PayTimeout      time.Duration
	WalletBudget    int64
	WalletPrepay    bool
	WalletMaxPPM    int64

	// 客户端
	BridgeURL          string
	BridgeTimeout      time.Duration
	Prebuffer          int
	PreinitStreams     int
	LowBalanceSec      float64
	PayAmountSec       float64
	PayRateLimitDelay  time.Duration
	ManageBuffersEvery time.Duration

	// MySQL
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

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv 读取环境变量，不存在时返回默认值
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt 以 int 读取环境变量，不存在时返回默认值
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return v
		}
	}
	return fallback
}

// getEnvMillis 读取毫秒数并转为 time.Duration
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// Load 从环境变量（经 .env 文件）或默认值加载配置
func Load() *Config {
	// godotenv.Load() 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv 只根据当前环境构建配置
func FromEnv() *Config {
	return &Config{
		Port:                getEnv("PORT", "10010"),
		ServerVersion:       getEnv("SERVER_VERSION", "0.1.0"),
		Provider:            getEnv("PROVIDER", "rosipoc01"),
		SuggestedCollateral: getEnvInt64("SUGGESTED_COLLATERAL", 200),
		MaxListResults:      getEnvInt("MAX_LIST_RESULTS", 1000),
		StdComment:          getEnv("STD_COMMENT", ""),

		TrackIndex:    getEnv("TRACK_INDEX", "file"),
		StreamsDB:     getEnv("STREAMS_DB", "db/streams.json"),
		WatchIndex:    getEnvBool("WATCH_INDEX", true),
		AudioDir:      getEnv("AUDIO_DIR", "db/audio"),
		DefaultCover:  getEnv("DEFAULT_COVER", "db/default_cover.jpg"),
		SliceStore:    getEnv("SLICE_STORE", "fs"),
		SliceCache:    getEnvBool("SLICE_CACHE", false),
		SliceCacheTTL: time.Duration(getEnvInt("SLICE_CACHE_TTL_SEC", 600)) * time.Second,

		PayServerURL:    getEnv("PAYSERVER_URL", "http://localhost:9000"),
		PayServerPort:   getEnv("PAYSERVER_PORT", "9000"),
		PayServerSecret: getEnv("PAYSERVER_SECRET", ""),
		PayServerStore:  getEnv("PAYSERVER_STORE", "memory"),
		PayTimeout:      getEnvMillis("PAYSERVER_TIMEOUT_MS", 5*time.Second),
		WalletBudget:    getEnvInt64("WALLET_BUDGET", 100000),
		WalletPrepay:    getEnvBool("WALLET_PREPAY", true),
		WalletMaxPPM:    getEnvInt64("WALLET_MAX_PPM", 0),

		BridgeURL:          getEnv("BRIDGE_URL", "ws://localhost:9000/bridge"),
		BridgeTimeout:      getEnvMillis("BRIDGE_TIMEOUT_MS", 10*time.Second),
		Prebuffer:          getEnvInt("PREBUFFER", 4),
		PreinitStreams:     getEnvInt("PREINIT_STREAMS", 5),
		LowBalanceSec:      getEnvFloat("LOW_BALANCE_SEC", 31),
		PayAmountSec:       getEnvFloat("PAY_AMOUNT_SEC", 60),
		PayRateLimitDelay:  getEnvMillis("PAY_RATE_LIMIT_MS", 5*time.Second),
		ManageBuffersEvery: getEnvMillis("MANAGE_BUFFERS_MS", 500*time.Millisecond),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "slicefm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9001"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "slicefm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}
