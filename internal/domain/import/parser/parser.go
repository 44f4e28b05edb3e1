// Package parser converts statement exports into model.RawTransaction values.
// Tabular exports (CSV via gocsv, XLSX via excelize) become a Table that is
// parsed row by row against a sniffer.ColumnMapping; PDF text is scanned line
// by line with the ordered DateRules and AmountRules.
package parser

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/sniffer"
	"github.com/FACorreiaa/subscription-tracker/pkg/money"
)

// Row is one data row of a tabular export. Number is 1-based, header excluded.
type Row struct {
	Number int
	Cells  map[string]string
}

// Table is a tabular export with its header row resolved.
type Table struct {
	Kind        model.SourceKind
	Headers     []string
	Rows        []Row
	Fingerprint string
}

// ParseResult summarizes a ParseRows call.
type ParseResult struct {
	Transactions []model.RawTransaction
	Errors       []*ValidationError
	TotalRows    int
	ParsedRows   int
	SkippedRows  int
}

var currencySymbols = map[string]string{
	"€": money.EUR,
	"$": money.USD,
	"£": money.GBP,
}

// ReadCSV reads a delimited export, sniffing delimiter and header row.
func ReadCSV(data []byte) (*Table, error) {
	return ReadCSVWithOptions(data, nil)
}

// ReadCSVWithOptions reads a delimited export with optional sniffing overrides.
func ReadCSVWithOptions(data []byte, opts *sniffer.DetectOptions) (*Table, error) {
	cfg, err := sniffer.DetectConfigWithOptions(data, opts)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	body := strings.Join(lines[cfg.SkipLines+1:], "\n")

	reader := csv.NewReader(strings.NewReader(body))
	reader.Comma = cfg.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := gocsv.NewSimpleDecoderFromCSVReader(reader).GetCSVRows()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv rows: %w", err)
	}

	return newTable(model.SourceCSV, cfg.Headers, records, cfg.Fingerprint), nil
}

func newTable(kind model.SourceKind, headers []string, records [][]string, fingerprint string) *Table {
	t := &Table{
		Kind:        kind,
		Headers:     headers,
		Rows:        make([]Row, 0, len(records)),
		Fingerprint: fingerprint,
	}

	for _, record := range records {
		if blank(record) {
			continue
		}
		cells := make(map[string]string, len(headers))
		for i, h := range headers {
			if i >= len(record) {
				break
			}
			if _, dup := cells[h]; !dup {
				cells[h] = strings.TrimSpace(record[i])
			}
		}
		t.Rows = append(t.Rows, Row{Number: len(t.Rows) + 1, Cells: cells})
	}
	return t
}

// ParseRows applies ParseRow to every row. Invalid rows are skipped and
// reported in Errors; the mapping must only reference existing headers.
func ParseRows(t *Table, mapping sniffer.ColumnMapping) (*ParseResult, error) {
	if err := checkMapping(t.Headers, mapping); err != nil {
		return nil, err
	}

	result := &ParseResult{
		Transactions: make([]model.RawTransaction, 0, len(t.Rows)),
		TotalRows:    len(t.Rows),
	}
	for _, row := range t.Rows {
		tx, err := parseRow(t.Kind, row, mapping)
		if err != nil {
			result.Errors = append(result.Errors, err)
			result.SkippedRows++
			continue
		}
		result.Transactions = append(result.Transactions, *tx)
		result.ParsedRows++
	}
	return result, nil
}

// ParseRow converts a CSV row into a transaction.
func ParseRow(row Row, mapping sniffer.ColumnMapping) (*model.RawTransaction, error) {
	tx, err := parseRow(model.SourceCSV, row, mapping)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func parseRow(kind model.SourceKind, row Row, mapping sniffer.ColumnMapping) (*model.RawTransaction, *ValidationError) {
	dateCell := row.Cells[mapping.Date]
	description := strings.TrimSpace(row.Cells[mapping.Description])
	amountCell := row.Cells[mapping.Amount]

	switch {
	case mapping.Date == "" || dateCell == "":
		return nil, missing(row, sniffer.FieldDate)
	case mapping.Description == "" || description == "":
		return nil, missing(row, sniffer.FieldDescription)
	case mapping.Amount == "" || strings.TrimSpace(amountCell) == "":
		return nil, missing(row, sniffer.FieldAmount)
	}

	date, ok := ParseDate(dateCell)
	if !ok && kind == model.SourceXLSX {
		date, ok = excelSerialDate(dateCell)
	}
	if !ok {
		return nil, &ValidationError{Row: row.Number, Column: mapping.Date, Value: dateCell, Message: "unrecognized date", Err: ErrInvalidDate}
	}

	amount, err := ParseAmountCell(amountCell)
	if err != nil {
		return nil, &ValidationError{Row: row.Number, Column: mapping.Amount, Value: amountCell, Message: err.Error(), Err: ErrInvalidAmount}
	}

	currency := money.DefaultCurrency
	if mapping.Currency != "" {
		currency = currencyFromCell(row.Cells[mapping.Currency])
	}

	return &model.RawTransaction{
		Date:        date,
		Description: description,
		Amount:      amount,
		Currency:    currency,
		Source: model.Source{
			Kind:  kind,
			Row:   row.Number,
			Cells: row.Cells,
		},
	}, nil
}

// ParseAmountCell parses a tabular amount cell to its absolute value. Only
// digits, '.' and ',' are kept; a lone ',' is the decimal separator and when
// both separators occur the last one is.
func ParseAmountCell(cell string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, cell)

	if strings.Contains(cleaned, ".") && strings.Contains(cleaned, ",") {
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	cleaned = strings.Replace(cleaned, ",", ".", 1)

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", cell)
	}
	if d.IsZero() {
		return decimal.Zero, fmt.Errorf("zero amount")
	}
	return d.Abs(), nil
}

func currencyFromCell(cell string) string {
	cell = strings.TrimSpace(cell)
	if code, ok := currencySymbols[cell]; ok {
		return code
	}
	return money.NormalizeCurrency(cell)
}

func checkMapping(headers []string, m sniffer.ColumnMapping) error {
	known := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		known[h] = struct{}{}
	}
	var unknown []string
	for _, col := range []string{m.Date, m.Description, m.Amount, m.Currency} {
		if col == "" {
			continue
		}
		if _, ok := known[col]; !ok {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumns, strings.Join(unknown, ", "))
	}
	return nil
}

func missing(row Row, field string) *ValidationError {
	return &ValidationError{Row: row.Number, Column: field, Message: field + " is required", Err: ErrMissingValue}
}

func blank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
