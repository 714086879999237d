package ranking

import (
	"sort"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/ledger"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/recurrence"
)

// Evaluation 评估上下文：今天 + 评估月份
type Evaluation struct {
	Today calendar.Date
	Month calendar.YearMonth
}

// NewEvaluation month 为零值时取 today 所在月
func NewEvaluation(today calendar.Date, month calendar.YearMonth) Evaluation {
	if month.IsZero() {
		month = today.YearMonth()
	}
	return Evaluation{Today: today, Month: month}
}

// AttentionWorthy 本评估月需要处理：从未执行、到期日落在评估月、或已逾期
func AttentionWorthy(status recurrence.TaskStatus, due *calendar.Date, month calendar.YearMonth) bool {
	switch {
	case status.Bucket == recurrence.BucketUnknown:
		return true
	case status.Bucket == recurrence.BucketOverdue:
		return true
	case due != nil && month.Contains(*due):
		return true
	}
	return false
}

// TaskView 单个任务的推导结果
type TaskView struct {
	Type          models.TaskType       `json:"type"`
	LastPerformed *calendar.Date        `json:"lastPerformed"`
	Due           *calendar.Date        `json:"due"`
	Status        recurrence.TaskStatus `json:"status"`
	Attention     bool                  `json:"attention"`
}

// EvaluateTasks 按任务表顺序推导每个任务的到期日与状态
func EvaluateTasks(p models.ClinicPatient, catalog models.TaskCatalog, eval Evaluation) []TaskView {
	views := make([]TaskView, 0, len(catalog))
	for _, def := range catalog {
		last := p.LastPerformed(def.Code)
		due := recurrence.NextDue(last, def.IntervalMonths)
		status := recurrence.Classify(due, eval.Today)
		views = append(views, TaskView{
			Type:          def.Code,
			LastPerformed: last,
			Due:           due,
			Status:        status,
			Attention:     AttentionWorthy(status, due, eval.Month),
		})
	}
	return views
}

// Priority 排序键 (rank, date, name)
// Date 为 nil 表示未知，视为最早
type Priority struct {
	Rank int            `json:"rank"`
	Date *calendar.Date `json:"date"`
	Name string         `json:"name"`
}

// ClinicPriority 取第一个需要处理的任务类型：rank = 其序号（从 1 开始），date = 该任务最后执行日
// 没有需要处理的任务时 rank = len(catalog)+1，date = 所有任务中最早的最后执行日
func ClinicPriority(p models.ClinicPatient, catalog models.TaskCatalog, eval Evaluation) Priority {
	return priorityFromViews(p.Name, EvaluateTasks(p, catalog, eval))
}

func priorityFromViews(name string, views []TaskView) Priority {
	for i, v := range views {
		if v.Attention {
			return Priority{Rank: i + 1, Date: v.LastPerformed, Name: name}
		}
	}

	var oldest *calendar.Date
	for _, v := range views {
		if v.LastPerformed == nil {
			continue
		}
		if oldest == nil || v.LastPerformed.Before(*oldest) {
			oldest = v.LastPerformed
		}
	}
	return Priority{Rank: len(views) + 1, Date: oldest, Name: name}
}

// Compare rank 小者优先；同 rank 时日期缺失者优先，其次较早者；最后按名称
func Compare(a, b Priority, names NameComparer) int {
	if a.Rank != b.Rank {
		if a.Rank < b.Rank {
			return -1
		}
		return 1
	}
	if c := compareDates(a.Date, b.Date); c != 0 {
		return c
	}
	return names(a.Name, b.Name)
}

// compareDates nil 排在最前
func compareDates(a, b *calendar.Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

// RankedClinic 排序后的 CAIT 患者
type RankedClinic struct {
	Patient  models.ClinicPatient
	Priority Priority
	Tasks    []TaskView
}

// RankClinic 返回按优先级排序的新切片（稳定排序，不修改入参）
func RankClinic(patients []models.ClinicPatient, catalog models.TaskCatalog, eval Evaluation, locale string) []RankedClinic {
	names := NewNameComparer(locale)

	out := make([]RankedClinic, 0, len(patients))
	for _, p := range patients {
		views := EvaluateTasks(p, catalog, eval)
		out = append(out, RankedClinic{
			Patient:  p,
			Priority: priorityFromViews(p.Name, views),
			Tasks:    views,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Compare(out[i].Priority, out[j].Priority, names) < 0
	})
	return out
}

// RankedPrivate 排序后的私人患者
type RankedPrivate struct {
	Patient    models.PrivatePatient
	Pending    int
	OldestDate *calendar.Date
	Status     recurrence.TaskStatus
}

// RankPrivate 有待补次数的患者在前（按最早欠课日期，再按名称），空账本在后（按名称）
// Status 使用最早欠课日期作为到期日代理
func RankPrivate(patients []models.PrivatePatient, today calendar.Date, locale string) []RankedPrivate {
	names := NewNameComparer(locale)

	out := make([]RankedPrivate, 0, len(patients))
	for _, p := range patients {
		oldest := ledger.OldestDate(p.Ledger)
		out = append(out, RankedPrivate{
			Patient:    p,
			Pending:    ledger.PendingTotal(p.Ledger),
			OldestDate: oldest,
			Status:     recurrence.Classify(oldest, today),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aEmpty, bEmpty := a.OldestDate == nil, b.OldestDate == nil
		if aEmpty != bEmpty {
			return bEmpty
		}
		if !aEmpty {
			if c := a.OldestDate.Compare(*b.OldestDate); c != 0 {
				return c < 0
			}
		}
		return names(a.Patient.Name, b.Patient.Name) < 0
	})
	return out
}
