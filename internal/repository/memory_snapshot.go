package repository

import (
	"context"
	"sync"

	"registro-pacientes/internal/models"
)

// MemorySnapshotRepository 内存实现（开发/测试用，进程退出即丢失）
type MemorySnapshotRepository struct {
	mu    sync.Mutex
	state *models.TrackerState
	saves int
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (r *MemorySnapshotRepository) Load(ctx context.Context) (*models.TrackerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil, nil
	}
	st := r.state.Clone()
	return &st, nil
}

func (r *MemorySnapshotRepository) Save(ctx context.Context, state models.TrackerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := state.Clone()
	r.state = &st
	r.saves++
	return nil
}

// Saves 保存次数
func (r *MemorySnapshotRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func (r *MemorySnapshotRepository) Close() error { return nil }
