package parser

import (
	"errors"
	"fmt"
)

var (
	ErrMissingValue   = errors.New("missing value")
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNoSheets       = errors.New("workbook has no sheets")
	ErrNoHeaderRow    = errors.New("no header row found")
	ErrUnknownColumns = errors.New("mapping references unknown columns")
)

// ValidationError describes why a single row was skipped. Rows failing
// validation never abort a file.
type ValidationError struct {
	Row     int
	Column  string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
