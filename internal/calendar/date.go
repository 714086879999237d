package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDate 日期字符串格式错误或日期不存在
var ErrInvalidDate = errors.New("invalid calendar date")

const layout = "2006-01-02"

// Date 日历日期（年/月/日），不含时区与时刻
// 所有比较都在日历日期上进行
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New 构造日期（不做校验，越界的月/日会按 time.Date 规则归一化）
func New(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime 取 t 在其自身时区下的日历日期
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today 返回 now 在诊所时区 loc 下的日历日期
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return FromTime(now.In(loc))
}

// Parse 解析 YYYY-MM-DD，拒绝不存在的日期（如 2023-02-30）
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return FromTime(t), nil
}

// MustParse 仅用于测试和常量
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParsePtr 空字符串返回 nil
func ParsePtr(s string) (*Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// IsZero 零值表示未设置
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String 返回 YYYY-MM-DD
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// FormatDMY 返回 DD/MM/YYYY（界面显示格式）
func (d Date) FormatDMY() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, int(d.Month), d.Year)
}

// FormatDMYPtr 日期缺失时显示 "—"
func FormatDMYPtr(d *Date) string {
	if d == nil {
		return "—"
	}
	return d.FormatDMY()
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Compare 返回 -1 / 0 / 1
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }
func (d Date) Equal(other Date) bool  { return d.Compare(other) == 0 }

// YearMonth 返回日期所在月份
func (d Date) YearMonth() YearMonth {
	return YearMonth{Year: d.Year, Month: d.Month}
}

// AddMonths 加 n 个日历月（n 可为负）
// 目标月份天数不足时截到该月最后一天（1月31日 + 1个月 = 2月28/29日）
func AddMonths(d Date, n int) Date {
	idx := d.Year*12 + int(d.Month) - 1 + n
	year := floorDiv(idx, 12)
	month := time.Month(idx-year*12) + 1

	day := d.Day
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return Date{Year: year, Month: month, Day: day}
}

// AddDays 加 n 天
func AddDays(d Date, n int) Date {
	return FromTime(d.time().AddDate(0, 0, n))
}

// DayDifference 返回 to - from 的整天数（to 早于 from 时为负）
func DayDifference(from, to Date) int {
	const secondsPerDay = 24 * 60 * 60
	return int((to.time().Unix() - from.time().Unix()) / secondsPerDay)
}

// DaysIn 返回某月的天数
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MarshalJSON 序列化为 "YYYY-MM-DD"
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON 只接受 "YYYY-MM-DD" 字符串
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(data))
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
