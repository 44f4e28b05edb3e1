// Package service orchestrates statement previews: it reads a CSV, XLSX or
// PDF export, normalizes rows into transactions and runs recurring-charge
// detection against the user's existing subscriptions. Nothing is persisted.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/extract"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/sniffer"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/detector"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/repository"
	"github.com/FACorreiaa/subscription-tracker/pkg/metrics"
)

var (
	ErrFileTooLarge      = errors.New("file exceeds the upload limit")
	ErrEmptyFile         = errors.New("file is empty")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Outcome tells the caller which state to present.
type Outcome string

const (
	OutcomeCandidatesFound Outcome = "candidates_found"
	OutcomeNoPatterns      Outcome = "no_patterns_found"
	OutcomeScanned         Outcome = "scanned_document"
	OutcomeMappingRequired Outcome = "mapping_required"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultExtractTimeout = 30 * time.Second

	// maxRowErrors caps the validation errors echoed back to the caller.
	maxRowErrors = 20
	outcomeError = "error"
)

var (
	pdfMagic  = []byte("%PDF-")
	xlsxMagic = []byte("PK\x03\x04")
)

// SubscriptionLister fetches the user's tracked subscriptions for reconciliation.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, userID uuid.UUID, statusFilter *repository.Status, includeCanceled bool) ([]*repository.Subscription, error)
}

// OverrideSource supplies the user's merchant corrections and records which
// of them were used.
type OverrideSource interface {
	GetOverridesForUser(ctx context.Context, userID uuid.UUID) ([]normalizer.MerchantOverride, error)
	RecordMatches(ctx context.Context, ids []uuid.UUID) error
}

// Config bounds uploads and tunes detection.
type Config struct {
	MaxUploadBytes int64
	ExtractTimeout time.Duration
	Detection      detector.Options
}

// PreviewRequest is one uploaded statement.
type PreviewRequest struct {
	UserID   uuid.UUID
	Filename string
	Data     []byte
	// Mapping overrides detected columns for tabular exports.
	Mapping *sniffer.ColumnMapping
	// HeaderRowIndex forces the CSV header row (0-based) when set.
	HeaderRowIndex *int
}

// RowError is a skipped row reported to the caller.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Preview is the result of analysing one statement.
type Preview struct {
	Format               model.SourceKind       `json:"format"`
	Outcome              Outcome                `json:"outcome"`
	Transactions         []model.RawTransaction `json:"transactions"`
	Candidates           []detector.Candidate   `json:"candidates"`
	Headers              []string               `json:"headers,omitempty"`
	Mapping              sniffer.ColumnMapping  `json:"mapping"`
	MissingColumns       []string               `json:"missing_columns,omitempty"`
	RowsTotal            int                    `json:"rows_total"`
	RowsSkipped          int                    `json:"rows_skipped"`
	RowErrors            []RowError             `json:"row_errors,omitempty"`
	IsScanned            bool                   `json:"is_scanned"`
	RawText              string                 `json:"raw_text,omitempty"`
	PageCount            int                    `json:"page_count,omitempty"`
	TransactionsAnalyzed int                    `json:"transactions_analyzed"`
}

// ImportService analyses uploaded statements
type ImportService struct {
	extractor  extract.Extractor
	lister     SubscriptionLister
	overrides  OverrideSource
	detector   *detector.Detector
	normalizer *normalizer.Normalizer
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	cfg        Config
	logger     *slog.Logger
}

// NewImportService creates a new import service. lister may be nil, in which
// case every candidate is proposed as new.
func NewImportService(
	extractor extract.Extractor,
	lister SubscriptionLister,
	cat *catalog.Catalog,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *ImportService {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ImportService{
		extractor:  extractor,
		lister:     lister,
		detector:   detector.New(cat, cfg.Detection),
		normalizer: normalizer.New(cat),
		metrics:    m,
		tracer:     otel.Tracer("subtrack/import"),
		cfg:        cfg,
		logger:     logger,
	}
}

// WithOverrides makes previews apply the user's merchant overrides before detection.
func (s *ImportService) WithOverrides(src OverrideSource) *ImportService {
	s.overrides = src
	return s
}

// DetectFormat identifies the export type from its leading bytes, falling
// back to the file extension for text exports.
func DetectFormat(filename string, data []byte) (model.SourceKind, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n\x00")
	switch {
	case bytes.HasPrefix(trimmed, pdfMagic):
		return model.SourcePDF, nil
	case bytes.HasPrefix(data, xlsxMagic):
		return model.SourceXLSX, nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return model.SourcePDF, nil
	case ".xlsx":
		return model.SourceXLSX, nil
	}

	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if utf8.Valid(sample) || isLatin1Text(sample) {
		return model.SourceCSV, nil
	}
	return "", ErrUnsupportedFormat
}

// Preview sniffs the format and dispatches to the matching reader.
func (s *ImportService) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	if err := s.checkSize(req.Data); err != nil {
		return nil, err
	}

	format, err := DetectFormat(req.Filename, req.Data)
	if err != nil {
		return nil, err
	}

	switch format {
	case model.SourcePDF:
		return s.PreviewPDF(ctx, req)
	case model.SourceXLSX:
		return s.PreviewXLSX(ctx, req)
	default:
		return s.PreviewCSV(ctx, req)
	}
}

// PreviewCSV parses a delimited export.
func (s *ImportService) PreviewCSV(ctx context.Context, req PreviewRequest) (preview *Preview, err error) {
	ctx, span, finish := s.begin(ctx, model.SourceCSV, req)
	defer func() { finish(preview, err) }()

	if err = s.checkSize(req.Data); err != nil {
		return nil, err
	}

	var opts *sniffer.DetectOptions
	if req.HeaderRowIndex != nil {
		opts = &sniffer.DetectOptions{HeaderRowIndex: *req.HeaderRowIndex}
	}
	table, err := parser.ReadCSVWithOptions(req.Data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	span.SetAttributes(attribute.Int("import.rows", len(table.Rows)))

	return s.previewTable(ctx, req, table)
}

// PreviewXLSX parses the first sheet of a workbook that looks like a statement.
func (s *ImportService) PreviewXLSX(ctx context.Context, req PreviewRequest) (preview *Preview, err error) {
	ctx, span, finish := s.begin(ctx, model.SourceXLSX, req)
	defer func() { finish(preview, err) }()

	if err = s.checkSize(req.Data); err != nil {
		return nil, err
	}

	table, err := parser.ReadXLSX(req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	span.SetAttributes(attribute.Int("import.rows", len(table.Rows)))

	return s.previewTable(ctx, req, table)
}

// PreviewPDF extracts the text layer of a PDF statement. Scanned documents
// are reported without attempting transaction extraction.
func (s *ImportService) PreviewPDF(ctx context.Context, req PreviewRequest) (preview *Preview, err error) {
	ctx, span, finish := s.begin(ctx, model.SourcePDF, req)
	defer func() { finish(preview, err) }()

	if err = s.checkSize(req.Data); err != nil {
		return nil, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()

	doc, err := s.extractor.ExtractText(extractCtx, req.Data)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("import.pages", doc.PageCount))

	preview = &Preview{
		Format:       model.SourcePDF,
		Transactions: []model.RawTransaction{},
		Candidates:   []detector.Candidate{},
		RawText:      doc.Text,
		PageCount:    doc.PageCount,
	}

	if extract.IsScanned(doc.Text, doc.PageCount) {
		preview.IsScanned = true
		preview.Outcome = OutcomeScanned
		return preview, nil
	}

	preview.Transactions = parser.ExtractTransactions(doc.Text)
	preview.RowsTotal = len(preview.Transactions)
	if err := s.detect(ctx, req.UserID, preview); err != nil {
		return nil, err
	}
	return preview, nil
}

func (s *ImportService) previewTable(ctx context.Context, req PreviewRequest, table *parser.Table) (*Preview, error) {
	mapping := sniffer.DetectColumns(table.Headers)
	if req.Mapping != nil {
		mapping = mapping.Merge(*req.Mapping)
	}

	preview := &Preview{
		Format:       table.Kind,
		Transactions: []model.RawTransaction{},
		Candidates:   []detector.Candidate{},
		Headers:      table.Headers,
		Mapping:      mapping,
		RowsTotal:    len(table.Rows),
	}

	if !mapping.Complete() {
		preview.MissingColumns = mapping.Missing()
		preview.Outcome = OutcomeMappingRequired
		return preview, nil
	}

	parsed, err := parser.ParseRows(table, mapping)
	if err != nil {
		return nil, err
	}

	preview.Transactions = parsed.Transactions
	preview.RowsSkipped = parsed.SkippedRows
	for _, ve := range parsed.Errors {
		if len(preview.RowErrors) == maxRowErrors {
			break
		}
		preview.RowErrors = append(preview.RowErrors, RowError{
			Row:     ve.Row,
			Column:  ve.Column,
			Value:   ve.Value,
			Message: ve.Message,
		})
	}
	if parsed.SkippedRows > 0 {
		s.metrics.RowsSkippedTotal.WithLabelValues(string(table.Kind)).Add(float64(parsed.SkippedRows))
	}

	if err := s.detect(ctx, req.UserID, preview); err != nil {
		return nil, err
	}
	return preview, nil
}

// detect runs the detector on preview.Transactions and fills in candidates and outcome.
func (s *ImportService) detect(ctx context.Context, userID uuid.UUID, preview *Preview) error {
	existing, err := s.existing(ctx, userID)
	if err != nil {
		return err
	}

	applied, err := s.applyOverrides(ctx, userID, preview.Transactions)
	if err != nil {
		return err
	}

	result := s.detector.Detect(applied.Transactions, existing)
	preview.Candidates = result.Candidates
	s.relabel(preview.Candidates, applied.Used)
	preview.TransactionsAnalyzed = result.TransactionsAnalyzed

	if len(result.Candidates) == 0 {
		preview.Outcome = OutcomeNoPatterns
		return nil
	}
	preview.Outcome = OutcomeCandidatesFound
	for _, c := range result.Candidates {
		s.metrics.CandidatesTotal.WithLabelValues(string(c.Action)).Inc()
	}
	return nil
}

// applyOverrides rewrites the descriptions matched by the user's overrides.
// preview.Transactions keeps the original text.
func (s *ImportService) applyOverrides(ctx context.Context, userID uuid.UUID, txs []model.RawTransaction) (normalizer.Applied, error) {
	if s.overrides == nil || userID == uuid.Nil {
		return normalizer.ApplyOverrides(nil, txs), nil
	}

	overrides, err := s.overrides.GetOverridesForUser(ctx, userID)
	if err != nil {
		return normalizer.Applied{}, fmt.Errorf("failed to load merchant overrides: %w", err)
	}

	applied := normalizer.ApplyOverrides(overrides, txs)
	if err := s.overrides.RecordMatches(ctx, applied.Matched); err != nil {
		s.logger.Warn("failed to record override matches",
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
	}
	return applied, nil
}

// relabel names candidates after the first override, in stored order, whose
// merchant name produced their merchant key, and applies its category.
func (s *ImportService) relabel(candidates []detector.Candidate, used []normalizer.MerchantOverride) {
	if len(used) == 0 {
		return
	}
	for i := range candidates {
		c := &candidates[i]
		for _, o := range used {
			if s.normalizer.Key(o.MerchantName) != c.MerchantKey {
				continue
			}
			if c.ProviderID == "" {
				c.Name = o.MerchantName
			}
			if o.Category != nil && *o.Category != "" {
				c.Category = *o.Category
			}
			break
		}
	}
}

func (s *ImportService) existing(ctx context.Context, userID uuid.UUID) ([]detector.ExistingSubscription, error) {
	if s.lister == nil || userID == uuid.Nil {
		return nil, nil
	}

	subs, err := s.lister.ListSubscriptions(ctx, userID, nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing subscriptions: %w", err)
	}

	out := make([]detector.ExistingSubscription, 0, len(subs))
	for _, sub := range subs {
		e := detector.ExistingSubscription{ID: sub.ID.String(), Name: sub.Name}
		if sub.ProviderID != nil {
			e.ProviderID = *sub.ProviderID
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *ImportService) checkSize(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFile
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(data), s.cfg.MaxUploadBytes)
	}
	return nil
}

// begin opens a span and returns a func that records the outcome in the
// span, the metrics and the log.
func (s *ImportService) begin(ctx context.Context, format model.SourceKind, req PreviewRequest) (context.Context, trace.Span, func(*Preview, error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ImportService.Preview",
		trace.WithAttributes(
			attribute.String("import.format", string(format)),
			attribute.Int("import.bytes", len(req.Data)),
		),
	)

	return ctx, span, func(preview *Preview, err error) {
		defer span.End()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.ObserveImport(string(format), outcomeError, start)
			s.logger.Warn("statement preview failed",
				slog.String("format", string(format)),
				slog.String("filename", req.Filename),
				slog.Any("error", err),
			)
			return
		}

		span.SetAttributes(
			attribute.String("import.outcome", string(preview.Outcome)),
			attribute.Int("import.candidates", len(preview.Candidates)),
		)
		s.metrics.ObserveImport(string(format), string(preview.Outcome), start)
		s.logger.Info("statement preview completed",
			slog.String("format", string(format)),
			slog.String("outcome", string(preview.Outcome)),
			slog.Int("transactions", len(preview.Transactions)),
			slog.Int("rows_skipped", preview.RowsSkipped),
			slog.Int("candidates", len(preview.Candidates)),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// isLatin1Text accepts legacy single-byte exports (e.g. Windows-1252 bank
// CSVs) as long as they contain no control bytes besides tab and newlines.
func isLatin1Text(sample []byte) bool {
	for _, b := range sample {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}
