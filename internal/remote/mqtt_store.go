package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqttcommon "registro-pacientes/common/mqtt"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/snapshot"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTClient MQTT 客户端接口（common/mqtt.Client 实现，测试中使用 fake）
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
}

// MQTTOptions MQTT 远端存储选项
type MQTTOptions struct {
	TrackerID   string
	TopicPrefix string // 默认 "registro/snapshots/"
	QoS         byte
}

// mqttEnvelope 报文：会话 ID + 文档
type mqttEnvelope struct {
	Session  string          `json:"session"`
	Document json.RawMessage `json:"document"`
}

// MQTTSnapshotStore 基于 MQTT retained 消息的共享快照
// 每个 tracker 一个主题，broker 保留最后一条，新订阅者连接后立即收到当前文档
type MQTTSnapshotStore struct {
	client    MQTTClient
	catalog   models.TaskCatalog
	opts      MQTTOptions
	metrics   *metrics.Metrics
	logger    *zap.Logger
	sessionID string

	mu         sync.Mutex
	subscribed bool
	closed     bool

	// newest 已发布或已收到的最新时间戳；retained 消息不得回退到更旧的快照
	newestMu sync.Mutex
	newest   *time.Time
}

// NewMQTTSnapshotStore 创建 MQTT 远端存储
func NewMQTTSnapshotStore(client MQTTClient, catalog models.TaskCatalog, opts MQTTOptions, m *metrics.Metrics, logger *zap.Logger) *MQTTSnapshotStore {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "registro/snapshots/"
	}
	return &MQTTSnapshotStore{
		client:    client,
		catalog:   catalog,
		opts:      opts,
		metrics:   m,
		logger:    logger,
		sessionID: uuid.New().String(),
	}
}

func (s *MQTTSnapshotStore) topic() string {
	return s.opts.TopicPrefix + s.opts.TrackerID
}

// Publish 以 retained 消息发布当前文档；比已知最新快照旧时跳过
func (s *MQTTSnapshotStore) Publish(ctx context.Context, state models.TrackerState) error {
	if !s.advance(state.LastUpdatedAt) {
		s.logger.Debug("Skipping stale snapshot publish", zap.Timep("last_updated_at", state.LastUpdatedAt))
		return nil
	}
	doc, err := snapshot.Encode(state, s.catalog)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(mqttEnvelope{Session: s.sessionID, Document: doc})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	return s.client.Publish(ctx, s.topic(), s.opts.QoS, true, payload)
}

// Subscribe 订阅主题；ctx 取消时自动退订
func (s *MQTTSnapshotStore) Subscribe(ctx context.Context, handler SnapshotHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.subscribed {
		return errors.New("already subscribed")
	}

	err := s.client.Subscribe(s.topic(), s.opts.QoS, func(topic string, payload []byte) error {
		return s.handleMessage(payload, handler)
	})
	if err != nil {
		return err
	}
	s.subscribed = true

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.logger.Info("Remote snapshot subscription started", zap.String("topic", s.topic()))
	return nil
}

func (s *MQTTSnapshotStore) handleMessage(payload []byte, handler SnapshotHandler) error {
	var env mqttEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.metrics.RecordRemoteSnapshot(metrics.RemoteInvalid)
		return fmt.Errorf("invalid snapshot envelope: %w", err)
	}
	if env.Session == s.sessionID {
		return nil
	}
	state, err := snapshot.Decode(env.Document, s.catalog)
	if err != nil {
		s.metrics.RecordRemoteSnapshot(metrics.RemoteInvalid)
		return err
	}
	s.advance(state.LastUpdatedAt)
	handler(state)
	return nil
}

// advance 记录 ts 为已知最新；ts 比已知最新旧时返回 false
func (s *MQTTSnapshotStore) advance(ts *time.Time) bool {
	s.newestMu.Lock()
	defer s.newestMu.Unlock()
	if s.newest != nil && (ts == nil || ts.Before(*s.newest)) {
		return false
	}
	if ts != nil {
		t := *ts
		s.newest = &t
	}
	return true
}

// Close 退订（MQTT 连接由调用方管理）
func (s *MQTTSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.subscribed {
		return nil
	}
	return s.client.Unsubscribe(s.topic())
}
