package calendar

import (
	"fmt"
	"time"
)

// YearMonth 评估月份
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth 解析 YYYY-MM
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (m YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Contains 日期是否落在该月
func (m YearMonth) Contains(d Date) bool {
	return d.Year == m.Year && d.Month == m.Month
}

// IsZero 零值表示未指定
func (m YearMonth) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}
