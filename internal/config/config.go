package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
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

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DexcomConfig Dexcom 提供方配置
type DexcomConfig struct {
	BaseURL      string // API 基地址（sandbox 或 production）
	ClientID     string
	ClientSecret string
	RedirectURI  string // OAuth 回调地址
	Timeout      time.Duration
}

// PollConfig 轮询配置
type PollConfig struct {
	Interval     time.Duration // 轮询间隔（dev 约 10s / prod 约 60s，纯配置值）
	FetchWindow  time.Duration // 读数查询窗口，默认 24h
	DedupWindow  time.Duration // 去重时间窗口，默认 5m
	DedupEpsilon float64       // 去重值容差
	RefreshAhead time.Duration // token 提前刷新窗口，默认 5m
}

// MQTTConfig MQTT配置（状态显示设备推送，可选）
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	TopicPrefix string // 如 "glucowatch/athlete/"
}

// Config glucowatch 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Dexcom   DexcomConfig
	Poll     PollConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string
	}

	Cache struct {
		LatestKeyPrefix string // 最新状态缓存键前缀，如 "glucose:athlete:"
		LatestSuffix    string // 最新状态缓存键后缀，如 ":latest"
		LatestTTL       time.Duration
		EventStream     string // Redis Streams 事件流名称
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "glucowatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Dexcom.BaseURL = getEnv("DEXCOM_BASE_URL", "https://sandbox-api.dexcom.com")
	cfg.Dexcom.ClientID = getEnv("DEXCOM_CLIENT_ID", "")
	cfg.Dexcom.ClientSecret = getEnv("DEXCOM_CLIENT_SECRET", "")
	cfg.Dexcom.RedirectURI = getEnv("DEXCOM_REDIRECT_URI", "http://localhost:8080/api/v1/dexcom/callback")
	cfg.Dexcom.Timeout = getEnvDuration("DEXCOM_TIMEOUT", 10*time.Second)

	// 轮询间隔：dev 10s / prod 60s，由环境决定
	defaultInterval := 60 * time.Second
	if getEnv("APP_ENV", "production") == "development" {
		defaultInterval = 10 * time.Second
	}
	cfg.Poll.Interval = getEnvDuration("POLL_INTERVAL", defaultInterval)
	cfg.Poll.FetchWindow = getEnvDuration("POLL_FETCH_WINDOW", 24*time.Hour)
	cfg.Poll.DedupWindow = getEnvDuration("POLL_DEDUP_WINDOW", 5*time.Minute)
	cfg.Poll.DedupEpsilon = getEnvFloat("POLL_DEDUP_EPSILON", 0.5)
	cfg.Poll.RefreshAhead = getEnvDuration("POLL_REFRESH_AHEAD", 5*time.Minute)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "glucowatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "glucowatch/athlete/")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Cache.LatestKeyPrefix = getEnv("CACHE_LATEST_PREFIX", "glucose:athlete:")
	cfg.Cache.LatestSuffix = ":latest"
	cfg.Cache.LatestTTL = getEnvDuration("CACHE_LATEST_TTL", 10*time.Minute)
	cfg.Cache.EventStream = getEnv("CACHE_EVENT_STREAM", "glucose:events")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
