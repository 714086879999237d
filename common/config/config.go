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

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// ConnectTimeout 连接超时（0 表示使用 paho 默认值）
	ConnectTimeout time.Duration
}

// LevelDBConfig 本地嵌入式存储配置
type LevelDBConfig struct {
	Path string
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 用 {prefix}_HOST 等环境变量覆盖已有值；数值格式错误时返回错误
func (c *DatabaseConfig) LoadFromEnv(prefix string) error {
	overrideString(&c.Host, prefix+"_HOST")
	overrideString(&c.User, prefix+"_USER")
	overrideString(&c.Password, prefix+"_PASSWORD")
	overrideString(&c.Database, prefix+"_NAME")
	overrideString(&c.SSLMode, prefix+"_SSLMODE")
	for key, dst := range map[string]*int{
		prefix + "_PORT":      &c.Port,
		prefix + "_MAX_CONNS": &c.MaxConns,
		prefix + "_MAX_IDLE":  &c.MaxIdle,
	} {
		if err := overrideInt(dst, key); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) error {
	overrideString(&c.Addr, prefix+"_ADDR")
	overrideString(&c.Password, prefix+"_PASSWORD")
	return overrideInt(&c.DB, prefix+"_DB")
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) error {
	overrideString(&c.Broker, prefix+"_BROKER")
	overrideString(&c.ClientID, prefix+"_CLIENT_ID")
	overrideString(&c.Username, prefix+"_USERNAME")
	overrideString(&c.Password, prefix+"_PASSWORD")

	qos := int(c.QoS)
	if err := overrideInt(&qos, prefix+"_QOS"); err != nil {
		return err
	}
	if qos < 0 || qos > 2 {
		return fmt.Errorf("%s_QOS must be 0, 1 or 2, got %d", prefix, qos)
	}
	c.QoS = byte(qos)

	if v := os.Getenv(prefix + "_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s_CONNECT_TIMEOUT %q: %w", prefix, v, err)
		}
		c.ConnectTimeout = d
	}
	return nil
}

// LoadFromEnv 从环境变量加载LevelDB配置
func (c *LevelDBConfig) LoadFromEnv(prefix string) error {
	overrideString(&c.Path, prefix+"_PATH")
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}
