package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	reporting "telemetry-pipeline/internal/reporting/domain"
)

var csvHeader = []string{"device_id", "avg_temp", "max_temp", "avg_hum", "samples"}

// Render encodes the report in the given format.
func Render(format reporting.Format, report reporting.Report) ([]byte, error) {
	switch format {
	case reporting.FormatCSV:
		return BuildCSV(report)
	case reporting.FormatXLSX:
		return BuildXLSX(report)
	case reporting.FormatPDF:
		return BuildPDF(report)
	default:
		return nil, fmt.Errorf("%w: %q", reporting.ErrUnknownFormat, format)
	}
}

// BuildCSV renders one header row and one row per device.
func BuildCSV(report reporting.Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range report.Rows {
		record := []string{
			row.DeviceID,
			formatFloat(row.AvgTemperature),
			formatFloat(row.MaxTemperature),
			formatFloat(row.AvgHumidity),
			strconv.FormatInt(row.Samples, 10),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders a summary sheet and a devices sheet.
func BuildXLSX(report reporting.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	devicesSheet := "devices"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(devicesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Daily Sensor Report")
	_ = f.SetCellValue(summarySheet, "A3", "Window Start")
	_ = f.SetCellValue(summarySheet, "B3", report.WindowStart.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Window End")
	_ = f.SetCellValue(summarySheet, "B4", report.WindowEnd.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", report.GeneratedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Devices")
	_ = f.SetCellValue(summarySheet, "B6", len(report.Rows))

	for i, title := range csvHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(devicesSheet, cell, title)
	}
	for i, row := range report.Rows {
		line := i + 2
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("A%d", line), row.DeviceID)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("B%d", line), row.AvgTemperature)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("C%d", line), row.MaxTemperature)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("D%d", line), row.AvgHumidity)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("E%d", line), row.Samples)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildPDF renders a one-table PDF.
func BuildPDF(report reporting.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Sensor Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s - %s", report.WindowStart.UTC().Format(time.RFC3339), report.WindowEnd.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Devices: %d", len(report.Rows)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Avg Temp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Max Temp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Avg Hum", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Samples", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range report.Rows {
		pdf.CellFormat(50, 6, row.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", row.AvgTemperature), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", row.MaxTemperature), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", row.AvgHumidity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, strconv.FormatInt(row.Samples, 10), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
