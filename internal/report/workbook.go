package report

import (
	"bytes"
	"fmt"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/models"
	"registro-pacientes/internal/summary"

	"github.com/xuri/excelize/v2"
)

// 工作表名称
const (
	SheetSummary = "Resumen"
	SheetClinic  = "CAIT"
	SheetPrivate = "Privado"
)

// DueHeader 到期列表表头
var DueHeader = []string{"Paciente", "Grupo", "Tarea", "Vence", "Estado", "Pendientes"}

// PrivateHeader 私人患者表头
var PrivateHeader = []string{"Paciente", "Pendientes", "Más antigua", "Estado", "Detalle", "Notas"}

// ClinicHeader CAIT 表头：每种任务三列（最后执行 / 到期 / 状态）
func ClinicHeader(catalog models.TaskCatalog) []string {
	header := []string{"Paciente", "Situación"}
	for _, def := range catalog {
		header = append(header, def.Label+" último", def.Label+" vence", def.Label+" estado")
	}
	return append(header, "Notas")
}

// Generate 生成汇总工作簿（Resumen / CAIT / Privado）
func Generate(sum summary.Summary, catalog models.TaskCatalog) ([]byte, error) {
	f := excelize.NewFile()

	w := &workbook{file: f}
	if err := w.init(); err != nil {
		f.Close()
		return nil, err
	}

	steps := []func() error{
		func() error { return w.writeSummary(sum) },
		func() error { return w.writeClinic(sum, catalog) },
		func() error { return w.writePrivate(sum) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(SheetSummary); err == nil {
		f.SetActiveSheet(idx)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

type workbook struct {
	file        *excelize.File
	headerStyle int
}

func (w *workbook) init() error {
	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	w.headerStyle = style

	for _, name := range []string{SheetSummary, SheetClinic, SheetPrivate} {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}
	return nil
}

func (w *workbook) writeSummary(sum summary.Summary) error {
	sheet := SheetSummary
	rows := [][]any{
		{"Hoy", sum.Today.FormatDMY()},
		{"Mes", sum.Month},
		{"CAIT", sum.Stats.ClinicPatients},
		{"Privado", sum.Stats.PrivatePatients},
		{"Atrasados", sum.Stats.Overdue},
		{"Próximos 14 días", sum.Stats.Upcoming},
		{"Sesiones pendientes", sum.Stats.PendingSessions},
	}
	for i, row := range rows {
		if err := w.setRow(sheet, i+1, row); err != nil {
			return err
		}
	}

	start := len(rows) + 2
	if err := w.setHeader(sheet, start, DueHeader); err != nil {
		return err
	}
	items := append(append([]summary.DueItem{}, sum.Due...), sum.NoDate...)
	for i, item := range items {
		var pending any
		if item.Pending > 0 {
			pending = item.Pending
		}
		row := []any{
			item.PatientName,
			item.Cohort.Label(),
			item.Kind,
			calendar.FormatDMYPtr(item.Due),
			item.Status.Label(),
			pending,
		}
		if err := w.setRow(sheet, start+1+i, row); err != nil {
			return err
		}
	}
	return w.setWidths(sheet, []float64{28, 12, 10, 14, 12, 12})
}

func (w *workbook) writeClinic(sum summary.Summary, catalog models.TaskCatalog) error {
	sheet := SheetClinic
	header := ClinicHeader(catalog)
	if err := w.setHeader(sheet, 1, header); err != nil {
		return err
	}
	rows := append(append([]summary.ClinicRow{}, sum.ClinicAttention...), sum.ClinicUpToDate...)
	for i, r := range rows {
		values := []any{r.Name, string(r.Status)}
		for _, t := range r.Tasks {
			values = append(values,
				calendar.FormatDMYPtr(t.LastPerformed),
				calendar.FormatDMYPtr(t.Due),
				t.Status.Label(),
			)
		}
		values = append(values, r.Notes)
		if err := w.setRow(sheet, i+2, values); err != nil {
			return err
		}
	}

	widths := []float64{28, 12}
	for range catalog {
		widths = append(widths, 12, 12, 10)
	}
	widths = append(widths, 40)
	if err := w.setWidths(sheet, widths); err != nil {
		return err
	}
	return w.freezeHeader(sheet)
}

func (w *workbook) writePrivate(sum summary.Summary) error {
	sheet := SheetPrivate
	if err := w.setHeader(sheet, 1, PrivateHeader); err != nil {
		return err
	}
	for i, r := range sum.PrivatePending {
		values := []any{
			r.Name,
			r.Pending,
			calendar.FormatDMYPtr(r.OldestDate),
			r.Urgency.Label(),
			r.Detail,
			r.Notes,
		}
		if err := w.setRow(sheet, i+2, values); err != nil {
			return err
		}
	}
	if err := w.setWidths(sheet, []float64{28, 12, 14, 10, 48, 40}); err != nil {
		return err
	}
	return w.freezeHeader(sheet)
}

func (w *workbook) setHeader(sheet string, row int, header []string) error {
	values := make([]any, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := w.setRow(sheet, row, values); err != nil {
		return err
	}
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), row)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(sheet, first, last, w.headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return nil
}

// setRow 写入一行；nil 值留空
func (w *workbook) setRow(sheet string, row int, values []any) error {
	for col, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := w.file.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func (w *workbook) setWidths(sheet string, widths []float64) error {
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := w.file.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}

func (w *workbook) freezeHeader(sheet string) error {
	if err := w.file.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}
