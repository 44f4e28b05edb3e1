// Package model defines the normalized transaction shape shared by every
// statement reader and the recurring-charge detector.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date format used for RawTransaction.Date.
const DateLayout = "2006-01-02"

// SourceKind identifies which reader produced a transaction.
type SourceKind string

const (
	SourceCSV  SourceKind = "csv"
	SourceXLSX SourceKind = "xlsx"
	SourcePDF  SourceKind = "pdf"
)

// Source is the provenance of a transaction. Row is set for tabular sources
// (1-based, header excluded); Line holds the original PDF text line; Cells
// holds the original tabular row keyed by header.
type Source struct {
	Kind  SourceKind        `json:"kind"`
	Row   int               `json:"row,omitempty"`
	Line  string            `json:"line,omitempty"`
	Cells map[string]string `json:"cells,omitempty"`
}

// RawTransaction is a single charge after parsing. Amount is always the
// absolute value of the charge.
type RawTransaction struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Source      Source          `json:"source"`
}

// Time parses Date. ok is false for malformed dates.
func (t RawTransaction) Time() (time.Time, bool) {
	d, err := time.Parse(DateLayout, t.Date)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
