package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/ledger"
	"registro-pacientes/internal/models"

	"github.com/google/uuid"
)

// ErrInvalidDocument 文档不是 JSON 对象
var ErrInvalidDocument = errors.New("invalid snapshot document")

// Document 导出/持久化的文档结构
type Document struct {
	ClinicPatients  []ClinicPatientDoc  `json:"clinicPatients"`
	PrivatePatients []PrivatePatientDoc `json:"privatePatients"`
	LastUpdatedAt   *string             `json:"lastUpdatedAt"`
}

type ClinicPatientDoc struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Notes          string             `json:"notes"`
	LastByTaskType map[string]*string `json:"lastByTaskType"`
}

type PrivatePatientDoc struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Notes  string      `json:"notes"`
	Ledger []LedgerDoc `json:"ledger"`
}

type LedgerDoc struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ToDocument 状态转文档（catalog 中的每个任务类型都输出，未记录为 null）
func ToDocument(state models.TrackerState, catalog models.TaskCatalog) Document {
	doc := Document{
		ClinicPatients:  make([]ClinicPatientDoc, 0, len(state.ClinicPatients)),
		PrivatePatients: make([]PrivatePatientDoc, 0, len(state.PrivatePatients)),
	}
	for _, p := range state.ClinicPatients {
		last := make(map[string]*string, len(catalog))
		for _, def := range catalog {
			last[string(def.Code)] = nil
		}
		for code, d := range p.LastByTaskType {
			if d == nil {
				last[string(code)] = nil
				continue
			}
			s := d.String()
			last[string(code)] = &s
		}
		doc.ClinicPatients = append(doc.ClinicPatients, ClinicPatientDoc{
			ID:             p.ID,
			Name:           p.Name,
			Notes:          p.Notes,
			LastByTaskType: last,
		})
	}
	for _, p := range state.PrivatePatients {
		entries := make([]LedgerDoc, 0, len(p.Ledger))
		for _, e := range p.Ledger {
			entries = append(entries, LedgerDoc{Date: e.Date.String(), Count: e.Count})
		}
		doc.PrivatePatients = append(doc.PrivatePatients, PrivatePatientDoc{
			ID:     p.ID,
			Name:   p.Name,
			Notes:  p.Notes,
			Ledger: entries,
		})
	}
	if state.LastUpdatedAt != nil {
		ts := state.LastUpdatedAt.UTC().Format(time.RFC3339Nano)
		doc.LastUpdatedAt = &ts
	}
	return doc
}

// Encode 序列化为 JSON 文档
func Encode(state models.TrackerState, catalog models.TaskCatalog) ([]byte, error) {
	data, err := json.Marshal(ToDocument(state, catalog))
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode 解析并补全文档（容错）：
//   - 非 JSON 对象返回 ErrInvalidDocument
//   - id 缺失或重复时重新生成
//   - notes 缺省为 ""，ledger 缺省为 []
//   - 无法解析的任务日期视为未记录，无法解析的账本条目丢弃，账本合并同日并排序
//   - 识别旧版浏览器格式 {cait:[{lastPIAT,...}], private:[{recoveries}]}
func Decode(data []byte, catalog models.TaskCatalog) (models.TrackerState, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return models.TrackerState{}, ErrInvalidDocument
	}

	h := &hydrator{catalog: catalog, seen: make(map[string]bool)}
	state := models.NewTrackerState()

	if isLegacy(top) {
		for _, raw := range objects(top["cait"]) {
			state.ClinicPatients = append(state.ClinicPatients, h.legacyClinic(raw))
		}
		for _, raw := range objects(top["private"]) {
			state.PrivatePatients = append(state.PrivatePatients, h.private(raw, "recoveries"))
		}
		return state, nil
	}

	for _, raw := range objects(top["clinicPatients"]) {
		state.ClinicPatients = append(state.ClinicPatients, h.clinic(raw))
	}
	for _, raw := range objects(top["privatePatients"]) {
		state.PrivatePatients = append(state.PrivatePatients, h.private(raw, "ledger"))
	}
	state.LastUpdatedAt = timestamp(top["lastUpdatedAt"])
	return state, nil
}

func isLegacy(top map[string]json.RawMessage) bool {
	_, hasClinic := top["clinicPatients"]
	_, hasPrivate := top["privatePatients"]
	if hasClinic || hasPrivate {
		return false
	}
	_, hasCait := top["cait"]
	_, hasLegacyPrivate := top["private"]
	return hasCait || hasLegacyPrivate
}

type hydrator struct {
	catalog models.TaskCatalog
	seen    map[string]bool
}

// id 在两个队列间都保持唯一
func (h *hydrator) id(raw map[string]json.RawMessage) string {
	id := strings.TrimSpace(str(raw["id"]))
	if id == "" || h.seen[id] {
		id = uuid.New().String()
	}
	h.seen[id] = true
	return id
}

func (h *hydrator) clinic(raw map[string]json.RawMessage) models.ClinicPatient {
	p := h.clinicBase(raw)

	var last map[string]json.RawMessage
	_ = json.Unmarshal(raw["lastByTaskType"], &last)
	for code, v := range last {
		def, ok := h.catalog.Lookup(code)
		if !ok {
			continue
		}
		p.LastByTaskType[def.Code] = date(v)
	}
	return p
}

// legacyClinic 旧格式：每种任务一个 last<CODE> 字段
func (h *hydrator) legacyClinic(raw map[string]json.RawMessage) models.ClinicPatient {
	p := h.clinicBase(raw)
	for _, def := range h.catalog {
		if v, ok := raw["last"+string(def.Code)]; ok {
			p.LastByTaskType[def.Code] = date(v)
		}
	}
	return p
}

func (h *hydrator) clinicBase(raw map[string]json.RawMessage) models.ClinicPatient {
	p := models.ClinicPatient{
		ID:             h.id(raw),
		Name:           strings.TrimSpace(str(raw["name"])),
		Notes:          str(raw["notes"]),
		LastByTaskType: make(map[models.TaskType]*calendar.Date, len(h.catalog)),
	}
	for _, def := range h.catalog {
		p.LastByTaskType[def.Code] = nil
	}
	return p
}

func (h *hydrator) private(raw map[string]json.RawMessage, ledgerKey string) models.PrivatePatient {
	p := models.PrivatePatient{
		ID:    h.id(raw),
		Name:  strings.TrimSpace(str(raw["name"])),
		Notes: str(raw["notes"]),
	}

	var entries []models.LedgerEntry
	for _, e := range objects(raw[ledgerKey]) {
		d := date(e["date"])
		if d == nil {
			continue
		}
		var count int
		if err := json.Unmarshal(e["count"], &count); err != nil {
			continue
		}
		entries = append(entries, models.LedgerEntry{Date: *d, Count: count})
	}
	p.Ledger = ledger.Normalize(entries)
	return p
}

// objects 取 JSON 数组中的对象元素，其余忽略
func objects(raw json.RawMessage) []map[string]json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			continue
		}
		out = append(out, obj)
	}
	return out
}

func str(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func date(raw json.RawMessage) *calendar.Date {
	d, err := calendar.ParsePtr(str(raw))
	if err != nil {
		return nil
	}
	return d
}

func timestamp(raw json.RawMessage) *time.Time {
	s := str(raw)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
