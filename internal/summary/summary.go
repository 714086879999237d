package summary

import (
	"sort"
	"strings"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/ledger"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/ranking"
	"registro-pacientes/internal/recurrence"
)

// RecoveryKind 私人患者补课条目在汇总列表中的类型名
const RecoveryKind = "RECUP"

// PatientStatus 患者级状态（对应界面上的状态筛选）
type PatientStatus string

const (
	StatusOverdue   PatientStatus = "overdue"    // 有逾期任务 / 欠课已过期
	StatusThisMonth PatientStatus = "this_month" // 本月需处理但未逾期
	StatusUpToDate  PatientStatus = "up_to_date"
)

// ParsePatientStatus 解析状态名称
func ParsePatientStatus(s string) (PatientStatus, bool) {
	switch st := PatientStatus(s); st {
	case StatusOverdue, StatusThisMonth, StatusUpToDate:
		return st, true
	}
	return "", false
}

// ClinicRow CAIT 患者行
type ClinicRow struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Notes    string             `json:"notes"`
	Priority ranking.Priority   `json:"priority"`
	Status   PatientStatus      `json:"status"`
	Tasks    []ranking.TaskView `json:"tasks"`
}

// PrivateRow 私人患者行
type PrivateRow struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Notes      string                `json:"notes"`
	Pending    int                   `json:"pending"`
	OldestDate *calendar.Date        `json:"oldestDate"`
	Urgency    recurrence.TaskStatus `json:"urgency"`
	Status     PatientStatus         `json:"status"`
	Detail     string                `json:"detail"`
}

// DueItem 跨队列到期列表条目
type DueItem struct {
	PatientID   string                `json:"patientId"`
	PatientName string                `json:"patientName"`
	Cohort      models.Cohort         `json:"cohort"`
	Kind        string                `json:"kind"`
	Due         *calendar.Date        `json:"due"`
	Status      recurrence.TaskStatus `json:"status"`
	Pending     int                   `json:"pending,omitempty"`

	patientStatus PatientStatus
	kindRank      int
}

// Stats 汇总计数（基于全部数据，不受筛选影响）
type Stats struct {
	ClinicPatients  int `json:"clinicPatients"`
	PrivatePatients int `json:"privatePatients"`
	Overdue         int `json:"overdue"`
	Upcoming        int `json:"upcoming"`
	PendingSessions int `json:"pendingSessions"`
}

// Summary 汇总视图
type Summary struct {
	Today           calendar.Date `json:"today"`
	Month           string        `json:"month"`
	ClinicAttention []ClinicRow   `json:"clinicAttention"`
	ClinicUpToDate  []ClinicRow   `json:"clinicUpToDate"`
	PrivatePending  []PrivateRow  `json:"privatePending"`
	Due             []DueItem     `json:"due"`
	NoDate          []DueItem     `json:"noDate"`
	Stats           Stats         `json:"stats"`
}

// Build 基于排序结果组装三类视图并应用筛选；纯函数，不修改 state
func Build(state models.TrackerState, catalog models.TaskCatalog, eval ranking.Evaluation, locale string, filter Filter) Summary {
	names := ranking.NewNameComparer(locale)

	out := Summary{
		Today:           eval.Today,
		Month:           eval.Month.String(),
		ClinicAttention: []ClinicRow{},
		ClinicUpToDate:  []ClinicRow{},
		PrivatePending:  []PrivateRow{},
		Due:             []DueItem{},
		NoDate:          []DueItem{},
	}

	var due, noDate []DueItem

	for _, rc := range ranking.RankClinic(state.ClinicPatients, catalog, eval, locale) {
		row := ClinicRow{
			ID:       rc.Patient.ID,
			Name:     rc.Patient.Name,
			Notes:    rc.Patient.Notes,
			Priority: rc.Priority,
			Status:   clinicStatus(rc.Tasks),
			Tasks:    rc.Tasks,
		}

		for i, task := range rc.Tasks {
			item := DueItem{
				PatientID:     row.ID,
				PatientName:   row.Name,
				Cohort:        models.CohortClinic,
				Kind:          string(task.Type),
				Due:           task.Due,
				Status:        task.Status,
				patientStatus: row.Status,
				kindRank:      i + 1,
			}
			if task.Due == nil {
				noDate = append(noDate, item)
			} else {
				due = append(due, item)
			}
		}

		if !filter.matchClinic(row) {
			continue
		}
		if rc.Priority.Rank <= len(catalog) {
			out.ClinicAttention = append(out.ClinicAttention, row)
		} else {
			out.ClinicUpToDate = append(out.ClinicUpToDate, row)
		}
	}

	for _, rp := range ranking.RankPrivate(state.PrivatePatients, eval.Today, locale) {
		out.Stats.PendingSessions += rp.Pending
		if rp.Pending <= 0 {
			continue
		}
		row := PrivateRow{
			ID:         rp.Patient.ID,
			Name:       rp.Patient.Name,
			Notes:      rp.Patient.Notes,
			Pending:    rp.Pending,
			OldestDate: rp.OldestDate,
			Urgency:    rp.Status,
			Status:     privateStatus(rp.Status),
			Detail:     ledger.Describe(rp.Patient.Ledger),
		}
		due = append(due, DueItem{
			PatientID:     row.ID,
			PatientName:   row.Name,
			Cohort:        models.CohortPrivate,
			Kind:          RecoveryKind,
			Due:           row.OldestDate,
			Status:        row.Urgency,
			Pending:       row.Pending,
			patientStatus: row.Status,
			kindRank:      len(catalog) + 1,
		})
		if filter.matchPrivate(row) {
			out.PrivatePending = append(out.PrivatePending, row)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if c := a.Due.Compare(*b.Due); c != 0 {
			return c < 0
		}
		if a.kindRank != b.kindRank {
			return a.kindRank < b.kindRank
		}
		return names(a.PatientName, b.PatientName) < 0
	})

	out.Stats.ClinicPatients = len(state.ClinicPatients)
	out.Stats.PrivatePatients = len(state.PrivatePatients)
	for _, item := range due {
		days := *item.Status.DaysFromToday
		switch {
		case days < 0:
			out.Stats.Overdue++
		case days <= recurrence.DueSoonWindowDays:
			out.Stats.Upcoming++
		}
		if filter.matchItem(item) {
			out.Due = append(out.Due, item)
		}
	}
	for _, item := range noDate {
		if filter.matchItem(item) {
			out.NoDate = append(out.NoDate, item)
		}
	}
	return out
}

// clinicStatus 任一需要处理的任务逾期 => overdue；有需要处理的任务 => this_month
func clinicStatus(tasks []ranking.TaskView) PatientStatus {
	status := StatusUpToDate
	for _, t := range tasks {
		if !t.Attention {
			continue
		}
		if t.Status.Bucket == recurrence.BucketOverdue {
			return StatusOverdue
		}
		status = StatusThisMonth
	}
	return status
}

func privateStatus(urgency recurrence.TaskStatus) PatientStatus {
	if urgency.Bucket == recurrence.BucketOverdue {
		return StatusOverdue
	}
	return StatusThisMonth
}

// Filter 筛选条件，各条件之间为 AND；零值不过滤
type Filter struct {
	Query   string
	Cohort  models.Cohort
	Buckets []recurrence.Bucket
	Status  PatientStatus
}

func (f Filter) matchName(name string) bool {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	return q == "" || strings.Contains(strings.ToLower(name), q)
}

func (f Filter) matchCohort(c models.Cohort) bool {
	return f.Cohort == "" || f.Cohort == c
}

func (f Filter) matchBucket(b recurrence.Bucket) bool {
	if len(f.Buckets) == 0 {
		return true
	}
	for _, want := range f.Buckets {
		if want == b {
			return true
		}
	}
	return false
}

func (f Filter) matchStatus(s PatientStatus) bool {
	return f.Status == "" || f.Status == s
}

// matchClinic 患者行：任一任务的分组命中即可
func (f Filter) matchClinic(row ClinicRow) bool {
	if !f.matchCohort(models.CohortClinic) || !f.matchName(row.Name) || !f.matchStatus(row.Status) {
		return false
	}
	if len(f.Buckets) == 0 {
		return true
	}
	for _, t := range row.Tasks {
		if f.matchBucket(t.Status.Bucket) {
			return true
		}
	}
	return false
}

func (f Filter) matchPrivate(row PrivateRow) bool {
	return f.matchCohort(models.CohortPrivate) &&
		f.matchName(row.Name) &&
		f.matchStatus(row.Status) &&
		f.matchBucket(row.Urgency.Bucket)
}

func (f Filter) matchItem(item DueItem) bool {
	return f.matchCohort(item.Cohort) &&
		f.matchName(item.PatientName) &&
		f.matchStatus(item.patientStatus) &&
		f.matchBucket(item.Status.Bucket)
}
