package tracker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/ledger"
	"registro-pacientes/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// MinNameLength 患者名称最短长度（去除首尾空白后）
const MinNameLength = 2

var (
	ErrNameTooShort    = errors.New("patient name too short")
	ErrDuplicateName   = errors.New("patient name already exists in cohort")
	ErrPatientNotFound = errors.New("patient not found")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrInvalidCount    = errors.New("count must be a positive integer")
	ErrEmptyLedger     = errors.New("ledger is empty")
	ErrCountOverflow   = errors.New("ledger count out of range")
	ErrInvalidCohort   = errors.New("invalid cohort")
)

// ChangeKind 变更来源
type ChangeKind string

const (
	ChangeLocal  ChangeKind = "local"  // 本地修改：需要保存并发布
	ChangeRemote ChangeKind = "remote" // 远端快照已应用：只保存，不再发布
)

// ChangeHook 状态变更回调，收到的是深拷贝
type ChangeHook func(kind ChangeKind, state models.TrackerState)

// Clock 时间源（测试可替换）
type Clock func() time.Time

// Store 持有 TrackerState，所有修改都经由这里
// 修改串行执行；每次成功的本地修改都会刷新 LastUpdatedAt 并触发回调
type Store struct {
	mu       sync.Mutex
	state    models.TrackerState
	catalog  models.TaskCatalog
	now      Clock
	logger   *zap.Logger
	onChange ChangeHook
}

// Option Store 选项
type Option func(*Store)

// WithClock 替换时间源
func WithClock(c Clock) Option {
	return func(s *Store) { s.now = c }
}

// WithChangeHook 注册变更回调
func WithChangeHook(h ChangeHook) Option {
	return func(s *Store) { s.onChange = h }
}

// NewStore 创建空 Store
func NewStore(catalog models.TaskCatalog, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		state:   models.NewTrackerState(),
		catalog: catalog,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetChangeHook 启动后再注册回调（服务层在加载完本地快照后调用）
func (s *Store) SetChangeHook(h ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = h
}

// Catalog 任务类型表
func (s *Store) Catalog() models.TaskCatalog {
	return s.catalog
}

// Snapshot 返回当前状态的深拷贝
func (s *Store) Snapshot() models.TrackerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Restore 启动时载入本地快照：不改时间戳，不触发回调
func (s *Store) Restore(state models.TrackerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
}

// Import 导入文档：先整体校验（不允许部分应用），再作为一次本地修改替换状态
func (s *Store) Import(state models.TrackerState) (models.TrackerState, error) {
	clean, err := s.normalizeImport(state)
	if err != nil {
		return models.TrackerState{}, err
	}
	return s.mutate(func(st *models.TrackerState) error {
		*st = clean
		return nil
	})
}

// ApplyRemote 最后写入者胜出：
// 远端有时间戳，且本地无时间戳或远端更新时，整体替换本地状态；否则丢弃
// 应用远端快照不刷新时间戳
func (s *Store) ApplyRemote(remote models.TrackerState) bool {
	s.mu.Lock()
	if !shouldApply(s.state.LastUpdatedAt, remote.LastUpdatedAt) {
		local := s.state.LastUpdatedAt
		s.mu.Unlock()
		s.logger.Debug("Discarding stale remote snapshot",
			zap.Timep("remote_updated_at", remote.LastUpdatedAt),
			zap.Timep("local_updated_at", local),
		)
		return false
	}
	s.state = remote.Clone()
	snap := s.state.Clone()
	hook := s.onChange
	s.mu.Unlock()

	s.logger.Info("Applied remote snapshot",
		zap.Timep("remote_updated_at", remote.LastUpdatedAt),
		zap.Int("clinic_patients", len(snap.ClinicPatients)),
		zap.Int("private_patients", len(snap.PrivatePatients)),
	)
	if hook != nil {
		hook(ChangeRemote, snap)
	}
	return true
}

func shouldApply(local, remote *time.Time) bool {
	if remote == nil {
		return false
	}
	return local == nil || remote.After(*local)
}

// AddClinicPatient 新增 CAIT 患者
func (s *Store) AddClinicPatient(name string) (models.ClinicPatient, error) {
	var created models.ClinicPatient
	_, err := s.mutate(func(st *models.TrackerState) error {
		clean, err := s.checkName(st, models.CohortClinic, "", name)
		if err != nil {
			return err
		}
		created = models.ClinicPatient{
			ID:             uuid.New().String(),
			Name:           clean,
			LastByTaskType: make(map[models.TaskType]*calendar.Date, len(s.catalog)),
		}
		for _, def := range s.catalog {
			created.LastByTaskType[def.Code] = nil
		}
		st.ClinicPatients = append(st.ClinicPatients, created)
		return nil
	})
	if err != nil {
		return models.ClinicPatient{}, err
	}
	return created.Clone(), nil
}

// AddPrivatePatient 新增私人患者
func (s *Store) AddPrivatePatient(name string) (models.PrivatePatient, error) {
	var created models.PrivatePatient
	_, err := s.mutate(func(st *models.TrackerState) error {
		clean, err := s.checkName(st, models.CohortPrivate, "", name)
		if err != nil {
			return err
		}
		created = models.PrivatePatient{
			ID:     uuid.New().String(),
			Name:   clean,
			Ledger: []models.LedgerEntry{},
		}
		st.PrivatePatients = append(st.PrivatePatients, created)
		return nil
	})
	if err != nil {
		return models.PrivatePatient{}, err
	}
	return created.Clone(), nil
}

// RenamePatient 重命名（同样校验长度与队列内唯一）
func (s *Store) RenamePatient(cohort models.Cohort, id, name string) error {
	_, err := s.mutate(func(st *models.TrackerState) error {
		clean, err := s.checkName(st, cohort, id, name)
		if err != nil {
			return err
		}
		switch cohort {
		case models.CohortClinic:
			p := findClinic(st, id)
			if p == nil {
				return ErrPatientNotFound
			}
			p.Name = clean
		case models.CohortPrivate:
			p := findPrivate(st, id)
			if p == nil {
				return ErrPatientNotFound
			}
			p.Name = clean
		default:
			return ErrInvalidCohort
		}
		return nil
	})
	return err
}

// SetNotes 修改备注
func (s *Store) SetNotes(cohort models.Cohort, id, notes string) error {
	_, err := s.mutate(func(st *models.TrackerState) error {
		switch cohort {
		case models.CohortClinic:
			p := findClinic(st, id)
			if p == nil {
				return ErrPatientNotFound
			}
			p.Notes = notes
		case models.CohortPrivate:
			p := findPrivate(st, id)
			if p == nil {
				return ErrPatientNotFound
			}
			p.Notes = notes
		default:
			return ErrInvalidCohort
		}
		return nil
	})
	return err
}

// DeletePatient 删除患者及其全部任务/账本数据
func (s *Store) DeletePatient(cohort models.Cohort, id string) error {
	_, err := s.mutate(func(st *models.TrackerState) error {
		switch cohort {
		case models.CohortClinic:
			for i := range st.ClinicPatients {
				if st.ClinicPatients[i].ID == id {
					st.ClinicPatients = append(st.ClinicPatients[:i], st.ClinicPatients[i+1:]...)
					return nil
				}
			}
		case models.CohortPrivate:
			for i := range st.PrivatePatients {
				if st.PrivatePatients[i].ID == id {
					st.PrivatePatients = append(st.PrivatePatients[:i], st.PrivatePatients[i+1:]...)
					return nil
				}
			}
		default:
			return ErrInvalidCohort
		}
		return ErrPatientNotFound
	})
	return err
}

// SetLastPerformed 设置某任务的最后执行日期（nil 表示清除）
func (s *Store) SetLastPerformed(id string, taskType models.TaskType, date *calendar.Date) error {
	def, ok := s.catalog.Lookup(string(taskType))
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}
	_, err := s.mutate(func(st *models.TrackerState) error {
		p := findClinic(st, id)
		if p == nil {
			return ErrPatientNotFound
		}
		if p.LastByTaskType == nil {
			p.LastByTaskType = make(map[models.TaskType]*calendar.Date, len(s.catalog))
		}
		if date == nil {
			p.LastByTaskType[def.Code] = nil
			return nil
		}
		d := *date
		p.LastByTaskType[def.Code] = &d
		return nil
	})
	return err
}

// AddCredit 为私人患者记一笔欠课
func (s *Store) AddCredit(id string, date calendar.Date, count int) ([]models.LedgerEntry, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	var out []models.LedgerEntry
	_, err := s.mutate(func(st *models.TrackerState) error {
		p := findPrivate(st, id)
		if p == nil {
			return ErrPatientNotFound
		}
		next, ok := ledger.AddCredit(p.Ledger, date, count)
		if !ok {
			return fmt.Errorf("%w: %s + %d", ErrCountOverflow, date, count)
		}
		p.Ledger = next
		out = append([]models.LedgerEntry{}, next...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConsumeOldest 补课 amount 次（从最早的欠课开始扣），返回新账本与实际扣减数
func (s *Store) ConsumeOldest(id string, amount int) ([]models.LedgerEntry, int, error) {
	if amount <= 0 {
		return nil, 0, ErrInvalidCount
	}
	var (
		out      []models.LedgerEntry
		consumed int
	)
	_, err := s.mutate(func(st *models.TrackerState) error {
		p := findPrivate(st, id)
		if p == nil {
			return ErrPatientNotFound
		}
		if len(p.Ledger) == 0 {
			return ErrEmptyLedger
		}
		p.Ledger, consumed = ledger.ConsumeOldest(p.Ledger, amount)
		out = append([]models.LedgerEntry{}, p.Ledger...)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, consumed, nil
}

// mutate 在锁内对工作副本执行 fn；成功后刷新时间戳、提交并在锁外触发回调
// fn 返回错误时状态不变
func (s *Store) mutate(fn func(st *models.TrackerState) error) (models.TrackerState, error) {
	s.mu.Lock()
	work := s.state.Clone()
	if err := fn(&work); err != nil {
		s.mu.Unlock()
		return models.TrackerState{}, err
	}
	now := s.now()
	work.LastUpdatedAt = &now
	s.state = work
	snap := s.state.Clone()
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook(ChangeLocal, snap)
	}
	return snap, nil
}

// checkName 去除空白、校验长度与队列内唯一（按 nameKey 比较）；excludeID 为重命名的患者自身
func (s *Store) checkName(st *models.TrackerState, cohort models.Cohort, excludeID, name string) (string, error) {
	clean := strings.TrimSpace(name)
	if utf8.RuneCountInString(clean) < MinNameLength {
		return "", ErrNameTooShort
	}
	key := nameKey(clean)
	var taken bool
	switch cohort {
	case models.CohortClinic:
		for _, p := range st.ClinicPatients {
			if p.ID != excludeID && nameKey(p.Name) == key {
				taken = true
				break
			}
		}
	case models.CohortPrivate:
		for _, p := range st.PrivatePatients {
			if p.ID != excludeID && nameKey(p.Name) == key {
				taken = true
				break
			}
		}
	default:
		return "", ErrInvalidCohort
	}
	if taken {
		return "", fmt.Errorf("%w: %s", ErrDuplicateName, clean)
	}
	return clean, nil
}

// normalizeImport 导入的每个患者按新建规则校验名称（去空白、长度、队列内唯一），返回去空白后的副本
func (s *Store) normalizeImport(state models.TrackerState) (models.TrackerState, error) {
	out := state.Clone()
	var accepted models.TrackerState
	for i := range out.ClinicPatients {
		p := &out.ClinicPatients[i]
		name, err := s.checkName(&accepted, models.CohortClinic, "", p.Name)
		if err != nil {
			return models.TrackerState{}, fmt.Errorf("%s patient %q: %w", models.CohortClinic, p.Name, err)
		}
		p.Name = name
		accepted.ClinicPatients = append(accepted.ClinicPatients, *p)
	}
	for i := range out.PrivatePatients {
		p := &out.PrivatePatients[i]
		name, err := s.checkName(&accepted, models.CohortPrivate, "", p.Name)
		if err != nil {
			return models.TrackerState{}, fmt.Errorf("%s patient %q: %w", models.CohortPrivate, p.Name, err)
		}
		p.Name = name
		accepted.PrivatePatients = append(accepted.PrivatePatients, *p)
	}
	return out, nil
}

// nameKey 名称比较键：去除首尾空白后做 Unicode 大小写折叠
func nameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func findClinic(st *models.TrackerState, id string) *models.ClinicPatient {
	for i := range st.ClinicPatients {
		if st.ClinicPatients[i].ID == id {
			return &st.ClinicPatients[i]
		}
	}
	return nil
}

func findPrivate(st *models.TrackerState, id string) *models.PrivatePatient {
	for i := range st.PrivatePatients {
		if st.PrivatePatients[i].ID == id {
			return &st.PrivatePatients[i]
		}
	}
	return nil
}
