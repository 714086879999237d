package recurrence

import (
	"fmt"

	"registro-pacientes/internal/calendar"
)

// Bucket 紧急程度分组
type Bucket string

const (
	BucketOverdue  Bucket = "overdue"
	BucketDueToday Bucket = "due_today"
	BucketDueSoon  Bucket = "due_soon"
	BucketOk       Bucket = "ok"
	BucketUnknown  Bucket = "unknown"
)

// DueSoonWindowDays 即将到期窗口（含第 14 天）
const DueSoonWindowDays = 14

// ParseBucket 解析分组名称
func ParseBucket(s string) (Bucket, bool) {
	switch b := Bucket(s); b {
	case BucketOverdue, BucketDueToday, BucketDueSoon, BucketOk, BucketUnknown:
		return b, true
	}
	return "", false
}

// TaskStatus 由到期日与今天推导的状态，不持久化
type TaskStatus struct {
	Bucket        Bucket `json:"bucket"`
	DaysFromToday *int   `json:"daysFromToday"`
}

// OverdueDays 逾期天数（非逾期时为 0）
func (s TaskStatus) OverdueDays() int {
	if s.Bucket != BucketOverdue || s.DaysFromToday == nil {
		return 0
	}
	return -*s.DaysFromToday
}

// Label 列表显示用的短标签
func (s TaskStatus) Label() string {
	switch s.Bucket {
	case BucketOverdue:
		return fmt.Sprintf("ATR %dd", s.OverdueDays())
	case BucketDueToday:
		return "HOY"
	case BucketDueSoon:
		return fmt.Sprintf("+%dd", *s.DaysFromToday)
	case BucketOk:
		return "OK"
	default:
		return "—"
	}
}

// NextDue 下次到期日 = 最后执行日 + 间隔月数；从未执行返回 nil
func NextDue(last *calendar.Date, intervalMonths int) *calendar.Date {
	if last == nil {
		return nil
	}
	due := calendar.AddMonths(*last, intervalMonths)
	return &due
}

// Classify 根据到期日与今天分组
func Classify(due *calendar.Date, today calendar.Date) TaskStatus {
	if due == nil {
		return TaskStatus{Bucket: BucketUnknown}
	}

	days := calendar.DayDifference(today, *due)
	status := TaskStatus{DaysFromToday: &days}
	switch {
	case days < 0:
		status.Bucket = BucketOverdue
	case days == 0:
		status.Bucket = BucketDueToday
	case days <= DueSoonWindowDays:
		status.Bucket = BucketDueSoon
	default:
		status.Bucket = BucketOk
	}
	return status
}
