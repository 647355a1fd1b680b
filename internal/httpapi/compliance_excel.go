package httpapi

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"medtrack-compliance/internal/models"
)

// ComplianceExportHeader columns of the records export.
var ComplianceExportHeader = []string{
	"Record ID",
	"Intake Event ID",
	"Patient ID",
	"Verdict",
	"Confidence",
	"Method",
	"Scheduled Time",
	"Actual Time",
	"Action",
	"Classified At",
}

// GenerateComplianceExport builds an .xlsx file with one row per
// compliance record. An empty record set produces a header-only sheet.
func GenerateComplianceExport(records []models.ComplianceRecord) ([]byte, error) {
	f := excelize.NewFile()
	// Note: don't defer Close() here, WriteToBuffer needs the file open.

	sheetName := "Compliance Records"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ComplianceExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to build header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to style header: %w", err)
		}
	}

	for rowIdx, record := range records {
		values := []any{
			record.RecordID,
			record.IntakeEventID,
			record.PatientID,
			record.Verdict,
			record.Confidence,
			record.Method,
			record.ScheduledTime.UTC().Format(time.RFC3339),
			record.ActualTime.UTC().Format(time.RFC3339),
			record.Action,
			record.CreatedAt.UTC().Format(time.RFC3339),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}

	return buf.Bytes(), nil
}
