package models

import (
	"fmt"
	"strings"
)

// TaskType 临床任务类型代码（如 PIAT / ENT / FAM）
type TaskType string

// TaskDefinition 任务类型定义：复查间隔（月）
type TaskDefinition struct {
	Code           TaskType `yaml:"code" json:"code"`
	Label          string   `yaml:"label" json:"label"`
	IntervalMonths int      `yaml:"interval_months" json:"intervalMonths"`
}

// TaskCatalog 任务类型表，顺序即优先级（下标 0 最高）
// 部署时固定，不属于患者数据
type TaskCatalog []TaskDefinition

// DefaultTaskCatalog 默认任务表
func DefaultTaskCatalog() TaskCatalog {
	return TaskCatalog{
		{Code: "PIAT", Label: "PIAT", IntervalMonths: 6},
		{Code: "ENT", Label: "Entrevista", IntervalMonths: 1},
		{Code: "FAM", Label: "Familia", IntervalMonths: 3},
	}
}

// Lookup 按代码查找（大小写不敏感）
func (c TaskCatalog) Lookup(code string) (TaskDefinition, bool) {
	for _, def := range c {
		if strings.EqualFold(string(def.Code), code) {
			return def, true
		}
	}
	return TaskDefinition{}, false
}

// Rank 任务优先级（从 1 开始），未知类型返回 0
func (c TaskCatalog) Rank(code TaskType) int {
	for i, def := range c {
		if def.Code == code {
			return i + 1
		}
	}
	return 0
}

// Codes 按优先级返回所有代码
func (c TaskCatalog) Codes() []TaskType {
	codes := make([]TaskType, 0, len(c))
	for _, def := range c {
		codes = append(codes, def.Code)
	}
	return codes
}

// Validate 检查任务表：非空、代码唯一、间隔为正
func (c TaskCatalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("task catalog is empty")
	}
	seen := make(map[string]bool, len(c))
	for _, def := range c {
		code := strings.ToUpper(strings.TrimSpace(string(def.Code)))
		if code == "" {
			return fmt.Errorf("task type code is required")
		}
		if seen[code] {
			return fmt.Errorf("duplicate task type code: %s", def.Code)
		}
		seen[code] = true
		if def.IntervalMonths <= 0 {
			return fmt.Errorf("task type %s: interval_months must be positive", def.Code)
		}
	}
	return nil
}
