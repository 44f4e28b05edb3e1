package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/sniffer"
)

const maxHeaderSearchRows = 20

// Excel serial day numbers accepted as dates (1900-01-01 .. 9999-12-31).
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ReadXLSX reads the first sheet with a recognizable header row. Cells are
// read raw so dates arrive as serial numbers and amounts without locale
// formatting.
func ReadXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheets
	}

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}

		headerIdx := findHeaderRow(rows)
		if headerIdx < 0 {
			continue
		}

		headers := make([]string, len(rows[headerIdx]))
		for i, h := range rows[headerIdx] {
			headers[i] = strings.TrimSpace(h)
		}
		return newTable(model.SourceXLSX, headers, rows[headerIdx+1:], ""), nil
	}
	return nil, ErrNoHeaderRow
}

// findHeaderRow returns the first row mapping at least two required fields.
func findHeaderRow(rows [][]string) int {
	for i, row := range rows {
		if i >= maxHeaderSearchRows {
			break
		}
		if len(sniffer.DetectColumns(row).Missing()) <= 1 {
			return i
		}
	}
	return -1
}

func excelSerialDate(cell string) (string, bool) {
	serial, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || serial < minExcelSerial || serial > maxExcelSerial {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", false
	}
	return t.Format(model.DateLayout), true
}
