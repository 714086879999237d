package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rediscommon "registro-pacientes/common/redis"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/snapshot"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisOptions Redis 远端存储选项
type RedisOptions struct {
	TrackerID string
	KeyPrefix string        // 默认 "registro:snapshot:"
	MaxLen    int64         // stream 保留条数
	Block     time.Duration // XREADGROUP 阻塞时间
	BatchSize int64
}

// RedisSnapshotStore 基于 Redis 的共享快照
//   - {prefix}{tracker_id}         最新文档（SET），新会话订阅时先读取
//   - {prefix}{tracker_id}:stream  快照变更流（XADD），每个会话一个消费者组
type RedisSnapshotStore struct {
	client  *redis.Client
	catalog models.TaskCatalog
	opts    RedisOptions
	metrics *metrics.Metrics
	logger  *zap.Logger

	sessionID string
	group     string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewRedisSnapshotStore 创建 Redis 远端存储
func NewRedisSnapshotStore(client *redis.Client, catalog models.TaskCatalog, opts RedisOptions, m *metrics.Metrics, logger *zap.Logger) *RedisSnapshotStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "registro:snapshot:"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	sessionID := uuid.New().String()
	return &RedisSnapshotStore{
		client:    client,
		catalog:   catalog,
		opts:      opts,
		metrics:   m,
		logger:    logger,
		sessionID: sessionID,
		group:     "session:" + sessionID,
	}
}

func (s *RedisSnapshotStore) latestKey() string {
	return s.opts.KeyPrefix + s.opts.TrackerID
}

func (s *RedisSnapshotStore) streamKey() string {
	return s.opts.KeyPrefix + s.opts.TrackerID + ":stream"
}

// Publish 写入最新文档并追加到变更流
func (s *RedisSnapshotStore) Publish(ctx context.Context, state models.TrackerState) error {
	data, err := snapshot.Encode(state, s.catalog)
	if err != nil {
		return err
	}

	written, err := rediscommon.SetBytesIfNewer(ctx, s.client, s.latestKey(), data, snapshotVersion(state))
	if err != nil {
		return fmt.Errorf("failed to set latest snapshot: %w", err)
	}
	if !written {
		// 共享文档已比本快照新，不覆盖也不广播
		s.logger.Debug("Skipping stale snapshot publish", zap.Timep("last_updated_at", state.LastUpdatedAt))
		return nil
	}

	values := map[string]interface{}{
		"data":    data,
		"session": s.sessionID,
	}
	if state.LastUpdatedAt != nil {
		values["last_updated_at"] = state.LastUpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := rediscommon.PublishToStream(ctx, s.client, s.streamKey(), s.opts.MaxLen, values); err != nil {
		return fmt.Errorf("failed to publish snapshot to stream: %w", err)
	}
	return nil
}

// versionLayout 定长 UTC 时间戳，字典序与时间顺序一致
const versionLayout = "2006-01-02T15:04:05.000000000Z"

// snapshotVersion 无时间戳的快照版本为空串，比任何有时间戳的都旧
func snapshotVersion(state models.TrackerState) string {
	if state.LastUpdatedAt == nil {
		return ""
	}
	return state.LastUpdatedAt.UTC().Format(versionLayout)
}

// Subscribe 创建本会话的消费者组（只接收之后的消息），投递当前最新文档，然后在后台消费变更流
func (s *RedisSnapshotStore) Subscribe(ctx context.Context, handler SnapshotHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		return errors.New("already subscribed")
	}

	if err := rediscommon.CreateConsumerGroup(ctx, s.client, s.streamKey(), s.group, "$"); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	if err := s.deliverLatest(ctx, handler); err != nil {
		s.logger.Warn("Failed to read latest remote snapshot", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, handler)

	s.logger.Info("Remote snapshot subscription started",
		zap.String("stream", s.streamKey()),
		zap.String("consumer_group", s.group),
	)
	return nil
}

func (s *RedisSnapshotStore) deliverLatest(ctx context.Context, handler SnapshotHandler) error {
	data, err := rediscommon.GetBytes(ctx, s.client, s.latestKey())
	if err != nil || data == nil {
		return err
	}
	state, err := snapshot.Decode(data, s.catalog)
	if err != nil {
		s.metrics.RecordRemoteSnapshot(metrics.RemoteInvalid)
		return err
	}
	handler(state)
	return nil
}

// run 消费循环（带指数退避）
func (s *RedisSnapshotStore) run(ctx context.Context, handler SnapshotHandler) {
	defer close(s.done)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.pollOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to consume remote snapshots",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
		} else {
			backoffDuration = time.Second
		}
	}
}

// pollOnce 读取一批消息并逐条投递；无法解析的消息也会确认，避免反复投递
func (s *RedisSnapshotStore) pollOnce(ctx context.Context, handler SnapshotHandler) error {
	messages, err := rediscommon.ReadFromStream(ctx, s.client, s.streamKey(), s.group, s.sessionID, s.opts.BatchSize, s.opts.Block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := s.handleMessage(msg, handler); err != nil {
			s.metrics.RecordRemoteSnapshot(metrics.RemoteInvalid)
			s.logger.Warn("Invalid remote snapshot",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := s.client.XAck(ctx, s.streamKey(), s.group, msg.ID).Err(); err != nil {
			s.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *RedisSnapshotStore) handleMessage(msg rediscommon.StreamMessage, handler SnapshotHandler) error {
	if session, _ := msg.Values["session"].(string); session == s.sessionID {
		return nil
	}
	data, ok := msg.Values["data"].(string)
	if !ok {
		return errors.New("missing data field")
	}
	state, err := snapshot.Decode([]byte(data), s.catalog)
	if err != nil {
		return err
	}
	handler(state)
	return nil
}

// Close 停止消费并删除本会话的消费者组
func (s *RedisSnapshotStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	ctx, cancelDestroy := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDestroy()
	if err := rediscommon.DestroyConsumerGroup(ctx, s.client, s.streamKey(), s.group); err != nil {
		return fmt.Errorf("failed to destroy consumer group: %w", err)
	}
	return nil
}
