// Package extract turns PDF statements into plain text. The PDF library is a
// black box: callers only see the text, the page count, and a classified
// ExtractionError.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ScannedCharsPerPage: documents averaging fewer characters per page are
// treated as scanned images without a text layer.
const ScannedCharsPerPage = 100

// maxTextBytes caps extracted text to keep a hostile PDF from exhausting memory.
const maxTextBytes = 8 << 20

var pdfMagic = []byte("%PDF-")

// Reason classifies why extraction failed.
type Reason string

const (
	ReasonEncrypted     Reason = "encrypted"
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonUnsupported   Reason = "unsupported"
)

// ExtractionError is terminal for the file it was raised for.
type ExtractionError struct {
	Reason Reason
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("pdf extraction failed (%s): %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// UserMessage is safe to show to the person who uploaded the file.
func (e *ExtractionError) UserMessage() string {
	switch e.Reason {
	case ReasonEncrypted:
		return "The PDF is password protected. Remove the password and upload it again."
	case ReasonInvalidFormat:
		return "The file is not a valid PDF. Export the statement again from your bank."
	default:
		return "This PDF could not be read. Try a CSV export of the same statement instead."
	}
}

// Document is the text layer of a PDF.
type Document struct {
	Text      string
	PageCount int
}

// Extractor reads the text layer of a PDF.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte) (*Document, error)
}

// PDFExtractor implements Extractor with github.com/ledongthuc/pdf.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

type extraction struct {
	doc *Document
	err error
}

// ExtractText extracts text, honouring ctx. The library call is not
// cancellable; on timeout it finishes in the background and is discarded.
func (e *PDFExtractor) ExtractText(ctx context.Context, data []byte) (*Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\x00"), pdfMagic) {
		return nil, &ExtractionError{Reason: ReasonInvalidFormat, Err: errors.New("missing %PDF header")}
	}

	done := make(chan extraction, 1)
	go func() {
		doc, err := extractText(data)
		done <- extraction{doc: doc, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("pdf extraction aborted: %w", ctx.Err())
	case res := <-done:
		return res.doc, res.err
	}
}

func extractText(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &ExtractionError{Reason: ReasonUnsupported, Err: fmt.Errorf("panic in pdf reader: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, classify(err)
	}

	pages := reader.NumPage()
	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, classify(err)
	}

	text, err := io.ReadAll(io.LimitReader(plain, maxTextBytes))
	if err != nil {
		return nil, classify(err)
	}

	return &Document{Text: string(text), PageCount: pages}, nil
}

func classify(err error) *ExtractionError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "encrypt"), strings.Contains(msg, "password"):
		return &ExtractionError{Reason: ReasonEncrypted, Err: err}
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "not a pdf"),
		strings.Contains(msg, "xref"), strings.Contains(msg, "trailer"), strings.Contains(msg, "eof"):
		return &ExtractionError{Reason: ReasonInvalidFormat, Err: err}
	default:
		return &ExtractionError{Reason: ReasonUnsupported, Err: err}
	}
}

// IsScanned reports whether text is too sparse for its page count to be a
// text-layer PDF. A non-positive pageCount counts as one page.
func IsScanned(text string, pageCount int) bool {
	if pageCount <= 0 {
		pageCount = 1
	}
	return float64(utf8.RuneCountInString(text))/float64(pageCount) < ScannedCharsPerPage
}
