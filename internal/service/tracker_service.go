package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/config"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/ranking"
	"registro-pacientes/internal/remote"
	"registro-pacientes/internal/repository"
	"registro-pacientes/internal/summary"
	"registro-pacientes/internal/tracker"

	"go.uber.org/zap"
)

// TrackerService 随访服务：Store + 本地快照 + 远端共享快照
//   - 本地修改：同步保存本地快照，后台发布到远端（不等待、不重试）
//   - 远端快照：按最后写入者胜出合并，应用后只保存本地
type TrackerService struct {
	config  *config.Config
	logger  *zap.Logger
	store   *tracker.Store
	local   repository.SnapshotRepository
	remote  remote.SnapshotStore // 可为 nil（REMOTE_STORE=none）
	backend string
	metrics *metrics.Metrics
	loc     *time.Location
	now     tracker.Clock
	closers []func() error

	saveMu    sync.Mutex
	lastSaved *time.Time

	publisher *snapshotPublisher // 有远端时在 Start 中创建
	cancel    context.CancelFunc
}

// Dependencies 服务依赖（由 OpenBackends 或测试构造）
type Dependencies struct {
	Local   repository.SnapshotRepository
	Remote  remote.SnapshotStore
	Metrics *metrics.Metrics
	Clock   tracker.Clock
	// Closers 服务停止时按顺序调用（数据库连接、Redis/MQTT 客户端）
	Closers []func() error
}

// NewTrackerService 创建随访服务
func NewTrackerService(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*TrackerService, error) {
	if deps.Local == nil {
		return nil, errors.New("local snapshot repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TrackerService{
		config:  cfg,
		logger:  logger,
		store:   tracker.NewStore(cfg.Tracker.TaskTypes, logger, tracker.WithClock(clock)),
		local:   deps.Local,
		remote:  deps.Remote,
		backend: cfg.Remote.Mode,
		metrics: deps.Metrics,
		loc:     cfg.Location(),
		now:     clock,
		closers: deps.Closers,
	}, nil
}

// Store 患者状态
func (s *TrackerService) Store() *tracker.Store {
	return s.store
}

// Metrics 服务指标（可能为 nil）
func (s *TrackerService) Metrics() *metrics.Metrics {
	return s.metrics
}

// Catalog 任务类型表
func (s *TrackerService) Catalog() models.TaskCatalog {
	return s.store.Catalog()
}

// Locale 名称排序语言
func (s *TrackerService) Locale() string {
	return s.config.Tracker.Locale
}

// Today 诊所时区的今天
func (s *TrackerService) Today() calendar.Date {
	return calendar.Today(s.now(), s.loc)
}

// Summary 汇总视图；month 为零值时取当前月
func (s *TrackerService) Summary(month calendar.YearMonth, filter summary.Filter) summary.Summary {
	eval := ranking.NewEvaluation(s.Today(), month)
	return summary.Build(s.store.Snapshot(), s.Catalog(), eval, s.Locale(), filter)
}

// Start 载入本地快照并订阅远端
func (s *TrackerService) Start(ctx context.Context) error {
	s.logger.Info("Starting tracker service",
		zap.String("tracker_id", s.config.Tracker.ID),
		zap.String("local_store", s.config.Local.Mode),
		zap.String("remote_store", s.config.Remote.Mode),
	)

	state, err := s.local.Load(ctx)
	switch {
	case errors.Is(err, repository.ErrCorruptSnapshot):
		// 损坏的本地快照按"无数据"处理，等待远端或新的修改覆盖
		s.logger.Warn("Ignoring corrupt local snapshot", zap.Error(err))
	case err != nil:
		return fmt.Errorf("failed to load local snapshot: %w", err)
	case state != nil:
		s.store.Restore(*state)
		s.lastSaved = state.LastUpdatedAt
		s.logger.Info("Loaded local snapshot",
			zap.Int("clinic_patients", len(state.ClinicPatients)),
			zap.Int("private_patients", len(state.PrivatePatients)),
			zap.Timep("last_updated_at", state.LastUpdatedAt),
		)
	}
	s.updatePatientGauge(s.store.Snapshot())

	if s.remote == nil {
		s.store.SetChangeHook(s.onChange)
		return nil
	}
	s.publisher = newSnapshotPublisher(s.remote, s.config.Remote.PublishTimeout, s.onPublishError)
	s.publisher.start()
	s.store.SetChangeHook(s.onChange)

	subCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.remote.Subscribe(subCtx, s.onRemoteSnapshot); err != nil {
		cancel()
		_ = s.publisher.close(ctx)
		return fmt.Errorf("failed to subscribe remote snapshots: %w", err)
	}
	return nil
}

// Stop 停止订阅，等待进行中的发布，然后关闭存储
func (s *TrackerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping tracker service")
	if s.cancel != nil {
		s.cancel()
	}

	if s.publisher != nil {
		if err := s.publisher.close(ctx); err != nil {
			s.logger.Warn("Timed out waiting for remote publishes", zap.Error(err))
		}
	}

	var errs []error
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close remote: %w", err))
		}
	}
	if err := s.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local: %w", err))
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *TrackerService) onRemoteSnapshot(state models.TrackerState) {
	if s.store.ApplyRemote(state) {
		s.metrics.RecordRemoteSnapshot(metrics.RemoteApplied)
		return
	}
	s.metrics.RecordRemoteSnapshot(metrics.RemoteDiscarded)
}

func (s *TrackerService) onChange(kind tracker.ChangeKind, state models.TrackerState) {
	s.metrics.RecordMutation(string(kind))
	s.updatePatientGauge(state)
	s.save(state)
	if kind == tracker.ChangeLocal {
		s.publish(state)
	}
}

// save 同步写本地快照；回调在锁外执行，较旧的状态不得覆盖较新的
func (s *TrackerService) save(state models.TrackerState) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if olderThan(state.LastUpdatedAt, s.lastSaved) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.local.Save(ctx, state); err != nil {
		s.metrics.RecordLocalSaveFailure()
		s.logger.Error("Failed to save local snapshot", zap.Error(err))
		return
	}
	s.lastSaved = state.LastUpdatedAt
}

// publish 交给发布协程；回调在锁外执行，较旧的状态可能晚到，由发布协程丢弃
func (s *TrackerService) publish(state models.TrackerState) {
	if s.publisher == nil {
		return
	}
	if !s.publisher.enqueue(state) {
		s.logger.Debug("Dropping stale snapshot publish", zap.Timep("last_updated_at", state.LastUpdatedAt))
	}
}

func (s *TrackerService) onPublishError(err error) {
	s.metrics.RecordPublishFailure(s.backend)
	s.logger.Warn("Failed to publish remote snapshot",
		zap.String("backend", s.backend),
		zap.Error(err),
	)
}

func (s *TrackerService) updatePatientGauge(state models.TrackerState) {
	s.metrics.SetPatients(string(models.CohortClinic), len(state.ClinicPatients))
	s.metrics.SetPatients(string(models.CohortPrivate), len(state.PrivatePatients))
}
