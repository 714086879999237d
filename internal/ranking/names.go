package ranking

import (
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultLocale 默认排序语言
const DefaultLocale = "es"

// NameComparer 名称比较函数，返回 -1 / 0 / 1
type NameComparer func(a, b string) int

// NewNameComparer 按 locale 做大小写不敏感的名称比较
// collate.Collator 不是并发安全的，每次排序新建一个
func NewNameComparer(locale string) NameComparer {
	if locale == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Spanish
	}
	c := collate.New(tag, collate.IgnoreCase)
	return func(a, b string) int {
		return c.CompareString(a, b)
	}
}
