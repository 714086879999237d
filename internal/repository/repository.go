package repository

import (
	"context"
	"errors"
	"fmt"

	"registro-pacientes/internal/models"
	"registro-pacientes/internal/snapshot"
)

// ErrCorruptSnapshot 本地快照无法解析（调用方按"无数据"处理）
var ErrCorruptSnapshot = errors.New("corrupt local snapshot")

// SnapshotRepository 本地快照存储
// Load 在没有快照时返回 (nil, nil)
type SnapshotRepository interface {
	Load(ctx context.Context) (*models.TrackerState, error)
	Save(ctx context.Context, state models.TrackerState) error
	Close() error
}

// decodeStored 解析已保存的文档
func decodeStored(data []byte, catalog models.TaskCatalog) (*models.TrackerState, error) {
	state, err := snapshot.Decode(data, catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &state, nil
}
