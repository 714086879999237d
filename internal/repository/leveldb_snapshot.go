package repository

import (
	"context"
	"errors"
	"fmt"

	"registro-pacientes/internal/models"
	"registro-pacientes/internal/snapshot"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"
)

// LevelDBSnapshotRepository 设备本地快照（嵌入式 LevelDB）
// Key: snapshot:{tracker_id} => 文档 JSON
type LevelDBSnapshotRepository struct {
	db        *leveldb.DB
	trackerID string
	catalog   models.TaskCatalog
	logger    *zap.Logger
}

// OpenLevelDBSnapshotRepository 打开（或创建）path 下的 LevelDB
func OpenLevelDBSnapshotRepository(path, trackerID string, catalog models.TaskCatalog, logger *zap.Logger) (*LevelDBSnapshotRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	logger.Info("LevelDB snapshot store opened", zap.String("path", path))
	return NewLevelDBSnapshotRepository(db, trackerID, catalog, logger), nil
}

// NewLevelDBSnapshotRepository 使用已打开的 DB（测试中可传入内存存储）
func NewLevelDBSnapshotRepository(db *leveldb.DB, trackerID string, catalog models.TaskCatalog, logger *zap.Logger) *LevelDBSnapshotRepository {
	return &LevelDBSnapshotRepository{
		db:        db,
		trackerID: trackerID,
		catalog:   catalog,
		logger:    logger,
	}
}

func (r *LevelDBSnapshotRepository) key() []byte {
	return []byte("snapshot:" + r.trackerID)
}

// Load 读取快照
func (r *LevelDBSnapshotRepository) Load(ctx context.Context) (*models.TrackerState, error) {
	data, err := r.db.Get(r.key(), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeStored(data, r.catalog)
}

// Save 整体覆盖写入（同步落盘）
func (r *LevelDBSnapshotRepository) Save(ctx context.Context, state models.TrackerState) error {
	data, err := snapshot.Encode(state, r.catalog)
	if err != nil {
		return err
	}
	if err := r.db.Put(r.key(), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Close 关闭 DB
func (r *LevelDBSnapshotRepository) Close() error {
	return r.db.Close()
}
