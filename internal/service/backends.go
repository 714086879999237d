package service

import (
	"context"
	"fmt"

	"registro-pacientes/common/database"
	mqttcommon "registro-pacientes/common/mqtt"
	rediscommon "registro-pacientes/common/redis"
	"registro-pacientes/internal/config"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/remote"
	"registro-pacientes/internal/repository"

	"go.uber.org/zap"
)

// OpenBackends 按配置打开本地快照存储与远端共享存储
// 打开失败时关闭已打开的连接
func OpenBackends(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (Dependencies, error) {
	deps := Dependencies{Metrics: m}
	catalog := cfg.Tracker.TaskTypes
	trackerID := cfg.Tracker.ID

	fail := func(err error) (Dependencies, error) {
		if deps.Local != nil {
			_ = deps.Local.Close()
		}
		for _, c := range deps.Closers {
			_ = c()
		}
		return Dependencies{}, err
	}

	switch cfg.Local.Mode {
	case config.LocalLevelDB:
		repo, err := repository.OpenLevelDBSnapshotRepository(cfg.LevelDB.Path, trackerID, catalog, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to open leveldb: %w", err))
		}
		deps.Local = repo
	case config.LocalPostgres:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to database: %w", err))
		}
		repo := repository.NewPostgresSnapshotRepository(db, trackerID, catalog, logger)
		deps.Local = repo
		if err := repo.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("failed to ensure snapshot schema: %w", err))
		}
	case config.LocalMemory:
		logger.Warn("Using in-memory local store, data is lost on restart")
		deps.Local = repository.NewMemorySnapshotRepository()
	default:
		return fail(fmt.Errorf("unsupported local store: %s", cfg.Local.Mode))
	}

	switch cfg.Remote.Mode {
	case config.RemoteNone:
	case config.RemoteRedis:
		client := rediscommon.NewRedisClient(&cfg.Redis)
		deps.Closers = append(deps.Closers, func() error { return rediscommon.Close(client) })
		if err := rediscommon.Ping(ctx, client); err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		deps.Remote = remote.NewRedisSnapshotStore(client, catalog, remote.RedisOptions{
			TrackerID: trackerID,
			KeyPrefix: cfg.Remote.KeyPrefix,
			MaxLen:    cfg.Remote.StreamMaxLen,
			Block:     cfg.Remote.Block,
		}, m, logger)
	case config.RemoteMQTT:
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to mqtt broker: %w", err))
		}
		deps.Closers = append(deps.Closers, func() error {
			client.Disconnect()
			return nil
		})
		deps.Remote = remote.NewMQTTSnapshotStore(client, catalog, remote.MQTTOptions{
			TrackerID:   trackerID,
			TopicPrefix: cfg.Remote.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, m, logger)
	default:
		return fail(fmt.Errorf("unsupported remote store: %s", cfg.Remote.Mode))
	}

	return deps, nil
}
