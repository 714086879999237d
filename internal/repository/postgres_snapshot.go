package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"registro-pacientes/common/database"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/snapshot"

	"go.uber.org/zap"
)

// PostgresSnapshotRepository 每个 tracker 一行 JSONB 文档
type PostgresSnapshotRepository struct {
	db        *sql.DB
	trackerID string
	catalog   models.TaskCatalog
	logger    *zap.Logger
}

// NewPostgresSnapshotRepository 创建 PostgreSQL 快照仓库
func NewPostgresSnapshotRepository(db *sql.DB, trackerID string, catalog models.TaskCatalog, logger *zap.Logger) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{
		db:        db,
		trackerID: trackerID,
		catalog:   catalog,
		logger:    logger,
	}
}

const createSnapshotTable = `
	CREATE TABLE IF NOT EXISTS tracker_snapshots (
		tracker_id      TEXT PRIMARY KEY,
		document        JSONB NOT NULL,
		last_updated_at TIMESTAMPTZ,
		saved_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// EnsureSchema 建表（幂等）
func (r *PostgresSnapshotRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSnapshotTable); err != nil {
		return fmt.Errorf("failed to create tracker_snapshots table: %w", err)
	}
	return nil
}

// Load 读取快照
func (r *PostgresSnapshotRepository) Load(ctx context.Context) (*models.TrackerState, error) {
	query := `
		SELECT document
		FROM tracker_snapshots
		WHERE tracker_id = $1
	`

	var document []byte
	err := r.db.QueryRowContext(ctx, query, r.trackerID).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return decodeStored(document, r.catalog)
}

// Save 整体覆盖（upsert）
func (r *PostgresSnapshotRepository) Save(ctx context.Context, state models.TrackerState) error {
	document, err := snapshot.Encode(state, r.catalog)
	if err != nil {
		return err
	}

	var lastUpdatedAt sql.NullTime
	if state.LastUpdatedAt != nil {
		lastUpdatedAt = sql.NullTime{Time: *state.LastUpdatedAt, Valid: true}
	}

	query := `
		INSERT INTO tracker_snapshots (tracker_id, document, last_updated_at, saved_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tracker_id)
		DO UPDATE SET document = EXCLUDED.document,
		              last_updated_at = EXCLUDED.last_updated_at,
		              saved_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, r.trackerID, string(document), lastUpdatedAt); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (r *PostgresSnapshotRepository) Close() error {
	return database.Close(r.db)
}
