package models

import (
	"time"

	"registro-pacientes/internal/calendar"
)

// Cohort 患者队列
type Cohort string

const (
	CohortClinic  Cohort = "cait"    // CAIT（机构资助，周期性临床任务）
	CohortPrivate Cohort = "private" // 私人患者（补课/欠课账本）
)

// Label 显示名称
func (c Cohort) Label() string {
	switch c {
	case CohortClinic:
		return "CAIT"
	case CohortPrivate:
		return "Privado"
	default:
		return string(c)
	}
}

// Valid 是否为已知队列
func (c Cohort) Valid() bool {
	return c == CohortClinic || c == CohortPrivate
}

// ClinicPatient CAIT 患者
// LastByTaskType: 每种任务最后一次执行日期（nil = 从未记录）
type ClinicPatient struct {
	ID             string                      `json:"id"`
	Name           string                      `json:"name"`
	Notes          string                      `json:"notes"`
	LastByTaskType map[TaskType]*calendar.Date `json:"lastByTaskType"`
}

// LastPerformed 返回某任务的最后执行日期
func (p *ClinicPatient) LastPerformed(t TaskType) *calendar.Date {
	if p.LastByTaskType == nil {
		return nil
	}
	return p.LastByTaskType[t]
}

// Clone 深拷贝
func (p ClinicPatient) Clone() ClinicPatient {
	out := p
	out.LastByTaskType = make(map[TaskType]*calendar.Date, len(p.LastByTaskType))
	for k, v := range p.LastByTaskType {
		if v == nil {
			out.LastByTaskType[k] = nil
			continue
		}
		d := *v
		out.LastByTaskType[k] = &d
	}
	return out
}

// PrivatePatient 私人患者
type PrivatePatient struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Notes  string        `json:"notes"`
	Ledger []LedgerEntry `json:"ledger"`
}

// Clone 深拷贝
func (p PrivatePatient) Clone() PrivatePatient {
	out := p
	out.Ledger = append([]LedgerEntry{}, p.Ledger...)
	return out
}

// LedgerEntry 账本条目：某天欠下的补课次数
// 同一账本内日期唯一，Count >= 1
type LedgerEntry struct {
	Date  calendar.Date `json:"date"`
	Count int           `json:"count"`
}

// TrackerState 完整状态快照（整体持久化，不做局部更新）
type TrackerState struct {
	ClinicPatients  []ClinicPatient  `json:"clinicPatients"`
	PrivatePatients []PrivatePatient `json:"privatePatients"`
	LastUpdatedAt   *time.Time       `json:"lastUpdatedAt"`
}

// NewTrackerState 空状态
func NewTrackerState() TrackerState {
	return TrackerState{
		ClinicPatients:  []ClinicPatient{},
		PrivatePatients: []PrivatePatient{},
	}
}

// Clone 深拷贝（对外发布的快照不能与内部状态共享内存）
func (s TrackerState) Clone() TrackerState {
	out := TrackerState{
		ClinicPatients:  make([]ClinicPatient, 0, len(s.ClinicPatients)),
		PrivatePatients: make([]PrivatePatient, 0, len(s.PrivatePatients)),
	}
	for _, p := range s.ClinicPatients {
		out.ClinicPatients = append(out.ClinicPatients, p.Clone())
	}
	for _, p := range s.PrivatePatients {
		out.PrivatePatients = append(out.PrivatePatients, p.Clone())
	}
	if s.LastUpdatedAt != nil {
		ts := *s.LastUpdatedAt
		out.LastUpdatedAt = &ts
	}
	return out
}
