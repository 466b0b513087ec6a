package dashboard

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	topicsSheet  = "Topics"
)

// ExportXLSX writes the summary as a workbook with a Summary sheet (one row
// per subject) and a Topics sheet (one row per topic).
func ExportXLSX(w io.Writer, s Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(topicsSheet); err != nil {
		return fmt.Errorf("create topics sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	summaryRows := [][]any{
		{"Subject", "Board", "Qualification", "Percentage", "Mastered", "Topics"},
	}
	for _, sub := range s.Subjects {
		summaryRows = append(summaryRows, []any{
			sub.Subject, sub.Board, sub.Qualification, sub.Percentage, sub.Mastery.Mastered, sub.Mastery.Total,
		})
	}
	summaryRows = append(summaryRows,
		[]any{},
		[]any{"Overall percentage", s.OverallPercentage},
		[]any{"Topics mastered", fmt.Sprintf("%d/%d", s.Mastery.Mastered, s.Mastery.Total)},
	)
	if s.DaysUntilExam != nil {
		summaryRows = append(summaryRows, []any{"Days until mock exam", *s.DaysUntilExam})
	}
	if err := writeRows(f, summarySheet, summaryRows); err != nil {
		return err
	}

	topicRows := [][]any{
		{"Subject", "Board", "Topic", "Completed", "Total", "Percentage", "Mastered"},
	}
	for _, sub := range s.Subjects {
		for _, t := range sub.Topics {
			mastered := "no"
			if t.Mastered {
				mastered = "yes"
			}
			topicRows = append(topicRows, []any{
				sub.Subject, sub.Board, t.Name, t.Completed, t.Total, t.Percentage, mastered,
			})
		}
	}
	if err := writeRows(f, topicsSheet, topicRows); err != nil {
		return err
	}

	for _, sheet := range []string{summarySheet, topicsSheet} {
		if err := f.SetCellStyle(sheet, "A1", "G1", bold); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", "C", 24); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
