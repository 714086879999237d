package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"registro-pacientes/common/config"
	"registro-pacientes/internal/models"

	"gopkg.in/yaml.v3"
)

// 本地快照存储类型
const (
	LocalLevelDB  = "leveldb"
	LocalPostgres = "postgres"
	LocalMemory   = "memory"
)

// 远端快照存储类型
const (
	RemoteNone  = "none"
	RemoteRedis = "redis"
	RemoteMQTT  = "mqtt"
)

// Config 患者随访服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	LevelDB  config.LevelDBConfig

	HTTP struct {
		Addr string
	}

	Tracker struct {
		// 同一份共享文档的标识（本地 key / 远端 key / 主题 都以它区分）
		ID       string
		Timezone string // 诊所时区，用于计算"今天"
		Locale   string // 名称排序语言
		// 任务类型表文件（YAML），为空时使用默认 PIAT/ENT/FAM
		TaskTypesFile string
		TaskTypes     models.TaskCatalog
	}

	Local struct {
		Mode string // leveldb | postgres | memory
	}

	Remote struct {
		Mode           string // none | redis | mqtt
		PublishTimeout time.Duration
		// Redis
		KeyPrefix    string
		StreamMaxLen int64
		Block        time.Duration
		// MQTT
		TopicPrefix string
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
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "registro")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 5
	cfg.Database.MaxIdle = 2
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "registro-pacientes")
	cfg.MQTT.QoS = 1
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	if err := cfg.MQTT.LoadFromEnv("MQTT"); err != nil {
		return nil, err
	}

	cfg.LevelDB.Path = "./data/registro"
	if err := cfg.LevelDB.LoadFromEnv("LEVELDB"); err != nil {
		return nil, err
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Tracker.ID = getEnv("TRACKER_ID", "default")
	cfg.Tracker.Timezone = getEnv("TRACKER_TIMEZONE", "Europe/Madrid")
	cfg.Tracker.Locale = getEnv("TRACKER_LOCALE", "es")
	cfg.Tracker.TaskTypesFile = getEnv("TASK_TYPES_FILE", "")
	cfg.Tracker.TaskTypes = models.DefaultTaskCatalog()
	if cfg.Tracker.TaskTypesFile != "" {
		catalog, err := LoadTaskCatalog(cfg.Tracker.TaskTypesFile)
		if err != nil {
			return nil, err
		}
		cfg.Tracker.TaskTypes = catalog
	}

	cfg.Local.Mode = strings.ToLower(getEnv("LOCAL_STORE", LocalLevelDB))
	switch cfg.Local.Mode {
	case LocalLevelDB, LocalPostgres, LocalMemory:
	default:
		return nil, fmt.Errorf("invalid LOCAL_STORE: %s", cfg.Local.Mode)
	}

	cfg.Remote.Mode = strings.ToLower(getEnv("REMOTE_STORE", RemoteNone))
	switch cfg.Remote.Mode {
	case RemoteNone, RemoteRedis, RemoteMQTT:
	default:
		return nil, fmt.Errorf("invalid REMOTE_STORE: %s", cfg.Remote.Mode)
	}
	cfg.Remote.PublishTimeout = time.Duration(parseInt(getEnv("REMOTE_PUBLISH_TIMEOUT", "5"), 5)) * time.Second
	cfg.Remote.KeyPrefix = getEnv("SNAPSHOT_KEY_PREFIX", "registro:snapshot:")
	cfg.Remote.StreamMaxLen = int64(parseInt(getEnv("SNAPSHOT_STREAM_MAXLEN", "100"), 100))
	cfg.Remote.Block = 5 * time.Second
	cfg.Remote.TopicPrefix = getEnv("SNAPSHOT_TOPIC_PREFIX", "registro/snapshots/")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Location 诊所时区（无法加载时退回 UTC）
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// taskCatalogFile YAML 文件结构
//
//	task_types:
//	  - code: PIAT
//	    label: PIAT
//	    interval_months: 6
type taskCatalogFile struct {
	TaskTypes []models.TaskDefinition `yaml:"task_types"`
}

// LoadTaskCatalog 从 YAML 文件读取任务类型表（顺序即优先级）
func LoadTaskCatalog(path string) (models.TaskCatalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task types file: %w", err)
	}
	return ParseTaskCatalog(content)
}

// ParseTaskCatalog 解析 YAML 任务类型表
func ParseTaskCatalog(content []byte) (models.TaskCatalog, error) {
	var file taskCatalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse task types: %w", err)
	}
	catalog := make(models.TaskCatalog, 0, len(file.TaskTypes))
	for _, def := range file.TaskTypes {
		def.Code = models.TaskType(strings.ToUpper(strings.TrimSpace(string(def.Code))))
		if def.Label == "" {
			def.Label = string(def.Code)
		}
		catalog = append(catalog, def)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
