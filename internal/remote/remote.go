package remote

import (
	"context"
	"errors"

	"registro-pacientes/internal/models"
)

// ErrClosed 已关闭的远端存储
var ErrClosed = errors.New("remote snapshot store closed")

// SnapshotHandler 收到远端快照时调用（在订阅 goroutine 中执行）
type SnapshotHandler func(state models.TrackerState)

// SnapshotStore 远端共享快照存储
//   - Subscribe 注册回调后立即返回，快照在后台投递，直到 ctx 取消或 Close
//   - Publish 尽力而为，调用方不等待、不重试
type SnapshotStore interface {
	Subscribe(ctx context.Context, handler SnapshotHandler) error
	Publish(ctx context.Context, state models.TrackerState) error
	Close() error
}
