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

// MQTTConfig MQTT 配置（危急值告警转发，默认禁用）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // 危急值转发主题
	QoS      byte
}

// AlertingConfig 外部告警协作方（HTTP Webhook）配置
type AlertingConfig struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// SyncConfig 同步引擎配置
type SyncConfig struct {
	// 服务绑定的领域：patient | appointment | laboratory
	// 决定 stream 名称前缀以及是否订阅危急值告警通道
	Domain string

	Interval        time.Duration // 定时增量同步间隔
	DefaultLookback time.Duration // 无历史 checkpoint 时的增量回溯窗口
	MergeThreshold  time.Duration // autoResolve 近同时写入判定阈值
	LeaseTTL        time.Duration // 分布式同步租约 TTL

	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
}

// EventsStream 入站实体事件通道名
func (c *SyncConfig) EventsStream() string { return c.Domain + "-events" }

// CommandsStream 入站同步命令通道名
func (c *SyncConfig) CommandsStream() string { return c.Domain + "-sync-commands" }

// AcksStream 出站确认通道名
func (c *SyncConfig) AcksStream() string { return c.Domain + "-sync-acknowledgments" }

// ErrorsStream 出站错误通道名
func (c *SyncConfig) ErrorsStream() string { return c.Domain + "-sync-errors" }

// ResultsStream 出站同步结果通道名
func (c *SyncConfig) ResultsStream() string { return c.Domain + "-sync-results" }

// HealthStream 出站健康状态通道名
func (c *SyncConfig) HealthStream() string { return c.Domain + "-service-health" }

// 危急值通道（仅 laboratory 领域消费/发布）
const (
	CriticalValueAlertsStream    = "critical-value-alerts"
	CriticalValueNotifyStream    = "critical-value-notifications"
	CriticalValueForwardedStream = "critical-value-forwarded"
)

// Config medsync 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	ServiceName string

	// 主系统（system-of-record）与微服务副本各自独立的连接
	MainDB    DatabaseConfig
	ReplicaDB DatabaseConfig

	Redis    RedisConfig
	MQTT     MQTTConfig
	Alerting AlertingConfig
	Sync     SyncConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Sync.Domain = getEnv("SYNC_DOMAIN", "laboratory")
	cfg.ServiceName = getEnv("SERVICE_NAME", "medsync-"+cfg.Sync.Domain)

	cfg.MainDB.Host = getEnv("MAIN_DB_HOST", "localhost")
	cfg.MainDB.Port = parseInt(getEnv("MAIN_DB_PORT", "5432"), 5432)
	cfg.MainDB.User = getEnv("MAIN_DB_USER", "postgres")
	cfg.MainDB.Password = getEnv("MAIN_DB_PASSWORD", "postgres")
	cfg.MainDB.Database = getEnv("MAIN_DB_NAME", "hospital_main")
	cfg.MainDB.SSLMode = getEnv("MAIN_DB_SSLMODE", "disable")
	cfg.MainDB.MaxConns = parseInt(getEnv("MAIN_DB_MAX_CONNS", "10"), 10)
	cfg.MainDB.MaxIdle = parseInt(getEnv("MAIN_DB_MAX_IDLE", "5"), 5)

	cfg.ReplicaDB.Host = getEnv("DB_HOST", "localhost")
	cfg.ReplicaDB.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.ReplicaDB.User = getEnv("DB_USER", "postgres")
	cfg.ReplicaDB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.ReplicaDB.Database = getEnv("DB_NAME", "medsync_"+cfg.Sync.Domain)
	cfg.ReplicaDB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.ReplicaDB.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.ReplicaDB.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Sync.Interval = parseDuration(getEnv("SYNC_INTERVAL", "5m"), 5*time.Minute)
	cfg.Sync.DefaultLookback = parseDuration(getEnv("SYNC_DEFAULT_LOOKBACK", "24h"), 24*time.Hour)
	cfg.Sync.MergeThreshold = parseDuration(getEnv("SYNC_MERGE_THRESHOLD", "5m"), 5*time.Minute)
	cfg.Sync.LeaseTTL = parseDuration(getEnv("SYNC_LEASE_TTL", "10m"), 10*time.Minute)
	cfg.Sync.ConsumerGroup = getEnv("SYNC_CONSUMER_GROUP", "medsync-"+cfg.Sync.Domain)
	cfg.Sync.ConsumerName = getEnv("SYNC_CONSUMER_NAME", hostnameOr("medsync-1"))
	cfg.Sync.BatchSize = int64(parseInt(getEnv("SYNC_BATCH_SIZE", "10"), 10))

	// MQTT 配置（危急值转发，默认禁用）
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.ServiceName)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "critical-values/"+cfg.Sync.Domain)
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))

	// 告警协作方（升级通知 + 危急值）
	cfg.Alerting.Enabled = getEnv("ALERTING_ENABLED", "false") == "true"
	cfg.Alerting.BaseURL = getEnv("ALERTING_BASE_URL", "http://localhost:9090")
	cfg.Alerting.Timeout = parseDuration(getEnv("ALERTING_TIMEOUT", "10s"), 10*time.Second)

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

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
