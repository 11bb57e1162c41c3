package emergency

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	StatusLogSheet = "Status Log"
	ColorLogSheet  = "Color Log"
	timeLayout     = "2006-01-02 15:04:05"
)

var logHeaders = map[string][]string{
	StatusLogSheet: {"ID", "Patient ID", "Status", "Changed At (UTC)"},
	ColorLogSheet:  {"ID", "Patient ID", "Triage Level", "Changed At (UTC)"},
}

// ExportLogs writes both audit logs to an XLSX workbook, one sheet each,
// newest entries first.
func (s *Service) ExportLogs(ctx context.Context, w io.Writer) error {
	statuses, _, err := s.repo.ListStatusLogs(ctx, LogFilter{})
	if err != nil {
		return fmt.Errorf("export status log: %w", err)
	}
	colors, _, err := s.repo.ListColorLogs(ctx, LogFilter{})
	if err != nil {
		return fmt.Errorf("export color log: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	statusRows := make([][]interface{}, 0, len(statuses))
	for _, e := range statuses {
		statusRows = append(statusRows, []interface{}{e.ID, e.PatientID, string(e.Status), e.ChangedAt.UTC().Format(timeLayout)})
	}
	colorRows := make([][]interface{}, 0, len(colors))
	for _, e := range colors {
		colorRows = append(colorRows, []interface{}{e.ID, e.PatientID, string(e.Level), e.ChangedAt.UTC().Format(timeLayout)})
	}

	if err := writeSheet(f, StatusLogSheet, headerStyle, statusRows); err != nil {
		return err
	}
	if err := writeSheet(f, ColorLogSheet, headerStyle, colorRows); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(StatusLogSheet); err == nil {
		f.SetActiveSheet(idx)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	headers := logHeaders[sheet]
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}

	if err := f.SetColWidth(sheet, "A", "C", 14); err != nil {
		return fmt.Errorf("set %s column width: %w", sheet, err)
	}
	if err := f.SetColWidth(sheet, "D", "D", 22); err != nil {
		return fmt.Errorf("set %s column width: %w", sheet, err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
