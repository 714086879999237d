package ledger

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/models"
)

// 账本函数都返回新切片，不修改入参

// AddCredit 记一笔欠课：同日合并，count <= 0 或合并后溢出时拒绝（返回原账本与 false）
// 结果按日期升序
func AddCredit(l []models.LedgerEntry, date calendar.Date, count int) ([]models.LedgerEntry, bool) {
	if count <= 0 {
		return l, false
	}

	out := clone(l)
	merged := false
	for i := range out {
		if out[i].Date.Equal(date) {
			if out[i].Count > math.MaxInt-count {
				return l, false
			}
			out[i].Count += count
			merged = true
			break
		}
	}
	if !merged {
		out = append(out, models.LedgerEntry{Date: date, Count: count})
	}
	sortByDate(out)
	return out, true
}

// ConsumeOldest 从最早的条目开始扣减 amount 次
// 最早条目不足时继续扣下一条，直到扣完或账本为空；计数归零的条目删除
// 返回新账本与实际扣减数
func ConsumeOldest(l []models.LedgerEntry, amount int) ([]models.LedgerEntry, int) {
	if amount <= 0 || len(l) == 0 {
		return l, 0
	}

	out := clone(l)
	sortByDate(out)

	consumed := 0
	for len(out) > 0 && consumed < amount {
		take := amount - consumed
		if out[0].Count <= take {
			consumed += out[0].Count
			out = out[1:]
			continue
		}
		out[0].Count -= take
		consumed += take
	}
	return out, consumed
}

// PendingTotal 待补总次数
func PendingTotal(l []models.LedgerEntry) int {
	total := 0
	for _, e := range l {
		if e.Count <= 0 {
			continue
		}
		if total > math.MaxInt-e.Count {
			return math.MaxInt
		}
		total += e.Count
	}
	return total
}

// OldestDate 最早条目日期，空账本返回 nil
func OldestDate(l []models.LedgerEntry) *calendar.Date {
	var oldest *calendar.Date
	for i := range l {
		if oldest == nil || l[i].Date.Before(*oldest) {
			d := l[i].Date
			oldest = &d
		}
	}
	return oldest
}

// Normalize 导入/加载时修复账本：丢弃 count <= 0 与零日期，合并同日，排序
func Normalize(l []models.LedgerEntry) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, len(l))
	for _, e := range l {
		if e.Count <= 0 || e.Date.IsZero() {
			continue
		}
		merged, ok := AddCredit(out, e.Date, e.Count)
		if !ok {
			// 同日合计超出 int 范围，饱和为最大值
			merged = saturate(out, e.Date)
		}
		out = merged
	}
	return out
}

// Describe 账本明细 "DD/MM/YYYY: N · DD/MM/YYYY: N"，空账本为 "—"
func Describe(l []models.LedgerEntry) string {
	if len(l) == 0 {
		return "—"
	}
	sorted := clone(l)
	sortByDate(sorted)

	parts := make([]string, 0, len(sorted))
	for _, e := range sorted {
		parts = append(parts, fmt.Sprintf("%s: %d", e.Date.FormatDMY(), e.Count))
	}
	return strings.Join(parts, " · ")
}

func clone(l []models.LedgerEntry) []models.LedgerEntry {
	return append(make([]models.LedgerEntry, 0, len(l)+1), l...)
}

func sortByDate(l []models.LedgerEntry) {
	sort.SliceStable(l, func(i, j int) bool {
		return l[i].Date.Before(l[j].Date)
	})
}

func saturate(l []models.LedgerEntry, date calendar.Date) []models.LedgerEntry {
	out := clone(l)
	for i := range out {
		if out[i].Date.Equal(date) {
			out[i].Count = math.MaxInt
		}
	}
	return out
}
