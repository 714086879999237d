package service

import (
	"context"
	"sync"
	"time"

	"registro-pacientes/internal/models"
	"registro-pacientes/internal/remote"
)

// snapshotPublisher 单个 goroutine 顺序发布远端快照
// 只保留最新的待发布快照，旧于已排队或已发出的快照直接丢弃
type snapshotPublisher struct {
	remote  remote.SnapshotStore
	timeout time.Duration
	onError func(error)

	mu         sync.Mutex
	pending    *models.TrackerState
	dispatched *time.Time

	signal   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSnapshotPublisher(rs remote.SnapshotStore, timeout time.Duration, onError func(error)) *snapshotPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &snapshotPublisher{
		remote:  rs,
		timeout: timeout,
		onError: onError,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *snapshotPublisher) start() {
	go p.run()
}

// enqueue 替换待发布快照；返回 false 表示快照已过时被丢弃
func (p *snapshotPublisher) enqueue(state models.TrackerState) bool {
	p.mu.Lock()
	if (p.pending != nil && olderThan(state.LastUpdatedAt, p.pending.LastUpdatedAt)) ||
		olderThan(state.LastUpdatedAt, p.dispatched) {
		p.mu.Unlock()
		return false
	}
	p.pending = &state
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return true
}

func (p *snapshotPublisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.signal:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *snapshotPublisher) flush() {
	p.mu.Lock()
	state := p.pending
	p.pending = nil
	if state != nil && state.LastUpdatedAt != nil {
		ts := *state.LastUpdatedAt
		p.dispatched = &ts
	}
	p.mu.Unlock()
	if state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.remote.Publish(ctx, *state); err != nil {
		p.onError(err)
	}
}

// close 发出剩余的待发布快照后退出；ctx 结束时不再等待
func (p *snapshotPublisher) close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// olderThan ts 严格早于 ref；ref 为 nil 时不比较，ts 为 nil 视为最旧
func olderThan(ts, ref *time.Time) bool {
	if ref == nil {
		return false
	}
	return ts == nil || ts.Before(*ref)
}
