package redis

import (
	"context"
	"time"

	"registro-pacientes/common/config"

	"github.com/go-redis/redis/v8"
)

const (
	dialTimeout = 5 * time.Second
	pingTimeout = 3 * time.Second
)

// NewRedisClient 创建Redis客户端
// 阻塞读（XREADGROUP BLOCK）的超时由 go-redis 按 Block 自动放宽，这里只设置连接超时
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}

// GetBytes 读取 key；不存在时返回 (nil, nil)
func GetBytes(ctx context.Context, client *redis.Client, key string) ([]byte, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// setIfNewerScript KEYS[1]=数据 KEYS[2]=版本；已存版本更大时不写入
var setIfNewerScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and current > ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// SetBytesIfNewer 原子地比较版本后写入 key，版本保存在 key+":version"
// version 必须可按字典序比较（定长时间戳）；返回是否写入
func SetBytesIfNewer(ctx context.Context, client *redis.Client, key string, value []byte, version string) (bool, error) {
	n, err := setIfNewerScript.Run(ctx, client, []string{key, key + ":version"}, value, version).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
