package service

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"registro-pacientes/internal/config"
	"registro-pacientes/internal/metrics"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/remote"
	"registro-pacientes/internal/repository"
	"registro-pacientes/internal/summary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockSnapshotStore 是 remote.SnapshotStore 的 mock 实现
type MockSnapshotStore struct {
	mock.Mock

	mu      sync.Mutex
	handler remote.SnapshotHandler
}

func (m *MockSnapshotStore) Subscribe(ctx context.Context, handler remote.SnapshotHandler) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockSnapshotStore) Publish(ctx context.Context, state models.TrackerState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockSnapshotStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// deliver 模拟远端推送
func (m *MockSnapshotStore) deliver(state models.TrackerState) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(state)
}

// corruptRepository Load 总是返回损坏错误
type corruptRepository struct {
	*repository.MemorySnapshotRepository
}

func (r corruptRepository) Load(ctx context.Context) (*models.TrackerState, error) {
	return nil, repository.ErrCorruptSnapshot
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Tracker.ID = "default"
	cfg.Tracker.Timezone = "UTC"
	cfg.Tracker.Locale = "es"
	cfg.Tracker.TaskTypes = models.DefaultTaskCatalog()
	cfg.Local.Mode = config.LocalMemory
	cfg.Remote.Mode = config.RemoteRedis
	cfg.Remote.PublishTimeout = time.Second
	return cfg
}

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func newTestService(t *testing.T, local repository.SnapshotRepository, rs remote.SnapshotStore) (*TrackerService, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	deps := Dependencies{Local: local, Metrics: m, Clock: fixedClock()}
	if rs != nil {
		deps.Remote = rs
	}
	svc, err := NewTrackerService(testConfig(), deps, zap.NewNop())
	require.NoError(t, err)
	return svc, m
}

func TestNewTrackerService_RequiresLocal(t *testing.T) {
	_, err := NewTrackerService(testConfig(), Dependencies{}, zap.NewNop())
	assert.Error(t, err)
}

func TestStart_RestoresLocalSnapshot(t *testing.T) {
	local := repository.NewMemorySnapshotRepository()
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	saved := models.NewTrackerState()
	saved.ClinicPatients = append(saved.ClinicPatients, models.ClinicPatient{ID: "c1", Name: "Ana"})
	saved.LastUpdatedAt = &ts
	require.NoError(t, local.Save(context.Background(), saved))

	svc, m := newTestService(t, local, nil)
	require.NoError(t, svc.Start(context.Background()))

	st := svc.Store().Snapshot()
	require.Len(t, st.ClinicPatients, 1)
	assert.Equal(t, "Ana", st.ClinicPatients[0].Name)
	assert.True(t, ts.Equal(*st.LastUpdatedAt))
	assert.Contains(t, scrape(t, m), `tracker_patients{cohort="cait"} 1`)
}

func TestStart_IgnoresCorruptSnapshot(t *testing.T) {
	svc, _ := newTestService(t, corruptRepository{repository.NewMemorySnapshotRepository()}, nil)
	require.NoError(t, svc.Start(context.Background()))

	st := svc.Store().Snapshot()
	assert.Empty(t, st.ClinicPatients)
	assert.Nil(t, st.LastUpdatedAt)
}

func TestLocalMutation_SavesAndPublishes(t *testing.T) {
	local := repository.NewMemorySnapshotRepository()
	rs := &MockSnapshotStore{}
	rs.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
	published := make(chan models.TrackerState, 1)
	rs.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		published <- args.Get(1).(models.TrackerState)
	})

	svc, m := newTestService(t, local, rs)
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.Store().AddPrivatePatient("Berta")
	require.NoError(t, err)

	assert.Equal(t, 1, local.Saves())
	stored, err := local.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Berta", stored.PrivatePatients[0].Name)

	select {
	case st := <-published:
		assert.Equal(t, "Berta", st.PrivatePatients[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not published")
	}

	body := scrape(t, m)
	assert.Contains(t, body, `tracker_mutations_total{kind="local"} 1`)
	assert.Contains(t, body, `tracker_patients{cohort="private"} 1`)
}

func TestPublishFailure_DoesNotAffectLocalState(t *testing.T) {
	local := repository.NewMemorySnapshotRepository()
	rs := &MockSnapshotStore{}
	rs.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
	rs.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	rs.On("Close").Return(nil)

	svc, m := newTestService(t, local, rs)
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.Store().AddClinicPatient("Ana")
	require.NoError(t, err)
	assert.Equal(t, 1, local.Saves())

	require.NoError(t, svc.Stop(context.Background()))
	assert.Contains(t, scrape(t, m), `tracker_remote_publish_failures_total{backend="redis"} 1`)
	assert.Len(t, svc.Store().Snapshot().ClinicPatients, 1)
}

func TestRemoteSnapshot_LastWriterWins(t *testing.T) {
	local := repository.NewMemorySnapshotRepository()
	rs := &MockSnapshotStore{}
	rs.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
	rs.On("Publish", mock.Anything, mock.Anything).Return(nil)
	rs.On("Close").Return(nil)

	svc, m := newTestService(t, local, rs)
	require.NoError(t, svc.Start(context.Background()))
	_, err := svc.Store().AddClinicPatient("Local")
	require.NoError(t, err)
	localTS := *svc.Store().Snapshot().LastUpdatedAt

	stale := models.NewTrackerState()
	stale.ClinicPatients = append(stale.ClinicPatients, models.ClinicPatient{ID: "r1", Name: "Stale"})
	staleTS := localTS.Add(-time.Hour)
	stale.LastUpdatedAt = &staleTS
	rs.deliver(stale)
	assert.Equal(t, "Local", svc.Store().Snapshot().ClinicPatients[0].Name)

	fresh := models.NewTrackerState()
	fresh.ClinicPatients = append(fresh.ClinicPatients, models.ClinicPatient{ID: "r2", Name: "Fresh"})
	freshTS := localTS.Add(time.Hour)
	fresh.LastUpdatedAt = &freshTS
	rs.deliver(fresh)

	st := svc.Store().Snapshot()
	assert.Equal(t, "Fresh", st.ClinicPatients[0].Name)
	assert.True(t, freshTS.Equal(*st.LastUpdatedAt))

	stored, err := local.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Fresh", stored.ClinicPatients[0].Name)
	assert.Equal(t, 2, local.Saves())

	// 远端快照只保存，不回发
	require.NoError(t, svc.Stop(context.Background()))
	rs.AssertNumberOfCalls(t, "Publish", 1)

	body := scrape(t, m)
	assert.Contains(t, body, `tracker_remote_snapshots_total{result="applied"} 1`)
	assert.Contains(t, body, `tracker_remote_snapshots_total{result="discarded"} 1`)
}

func TestStop_ClosesBackends(t *testing.T) {
	rs := &MockSnapshotStore{}
	rs.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
	rs.On("Close").Return(nil)

	closed := false
	m := metrics.New(nil)
	svc, err := NewTrackerService(testConfig(), Dependencies{
		Local:   repository.NewMemorySnapshotRepository(),
		Remote:  rs,
		Metrics: m,
		Closers: []func() error{func() error { closed = true; return nil }},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	rs.AssertCalled(t, "Close")
	assert.True(t, closed)
}

func TestSummary_UsesServiceClock(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemorySnapshotRepository(), nil)
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.Store().AddClinicPatient("Ana")
	require.NoError(t, err)

	sum := svc.Summary(svc.Today().YearMonth(), summary.Filter{})
	assert.Equal(t, "2024-06-01", sum.Today.String())
	assert.Equal(t, 1, sum.Stats.ClinicPatients)
}
