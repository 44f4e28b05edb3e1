// Package handler exposes statement previews and merchant overrides over Connect.
package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/extract"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/parser"
	importservice "github.com/FACorreiaa/subscription-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/sniffer"
	"github.com/FACorreiaa/subscription-tracker/pkg/interceptors"
	"github.com/FACorreiaa/subscription-tracker/pkg/rpc"
)

const (
	// ImportServiceName is the fully-qualified name of the import service.
	ImportServiceName = "subtrack.v1.ImportService"

	PreviewStatementProcedure       = "/subtrack.v1.ImportService/PreviewStatement"
	SaveMerchantOverrideProcedure   = "/subtrack.v1.ImportService/SaveMerchantOverride"
	ListMerchantOverridesProcedure  = "/subtrack.v1.ImportService/ListMerchantOverrides"
	DeleteMerchantOverrideProcedure = "/subtrack.v1.ImportService/DeleteMerchantOverride"
)

const scannedMessage = "This looks like a scanned document without a text layer. Upload a CSV export or a text-based PDF instead."

// Previewer analyses uploaded statements.
type Previewer interface {
	Preview(ctx context.Context, req importservice.PreviewRequest) (*importservice.Preview, error)
}

// OverrideManager stores the user's merchant corrections.
type OverrideManager interface {
	SaveOverride(ctx context.Context, override normalizer.MerchantOverride) (*normalizer.MerchantOverride, error)
	GetOverridesForUser(ctx context.Context, userID uuid.UUID) ([]normalizer.MerchantOverride, error)
	DeleteOverride(ctx context.Context, userID, overrideID uuid.UUID) error
}

// PreviewStatementRequest carries one uploaded file. Data is base64 in JSON.
type PreviewStatementRequest struct {
	Filename       string                 `json:"filename"`
	Data           []byte                 `json:"data"`
	Mapping        *sniffer.ColumnMapping `json:"mapping,omitempty"`
	HeaderRowIndex *int                   `json:"header_row_index,omitempty"`
}

type PreviewStatementResponse struct {
	Preview *importservice.Preview `json:"preview"`
	// Message is a user-facing hint for outcomes that need action.
	Message string `json:"message,omitempty"`
}

// SaveMerchantOverrideRequest creates or replaces the override for a pattern.
// MatchType defaults to "contains".
type SaveMerchantOverrideRequest struct {
	MatchPattern string               `json:"match_pattern"`
	MatchType    normalizer.MatchType `json:"match_type,omitempty"`
	MerchantName string               `json:"merchant_name"`
	Category     *string              `json:"category,omitempty"`
}

type SaveMerchantOverrideResponse struct {
	Override *normalizer.MerchantOverride `json:"override"`
}

type ListMerchantOverridesRequest struct{}

type ListMerchantOverridesResponse struct {
	Overrides []normalizer.MerchantOverride `json:"overrides"`
}

type DeleteMerchantOverrideRequest struct {
	ID string `json:"id"`
}

type DeleteMerchantOverrideResponse struct{}

// ImportHandler handles Import service RPCs
type ImportHandler struct {
	importSvc Previewer
	overrides OverrideManager
	logger    *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc Previewer, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		importSvc: importSvc,
		logger:    logger,
	}
}

// WithOverrides enables the merchant override procedures.
func (h *ImportHandler) WithOverrides(store OverrideManager) *ImportHandler {
	h.overrides = store
	return h
}

// Routes returns the path prefix and handler serving every import procedure.
func (h *ImportHandler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(PreviewStatementProcedure, rpc.NewUnaryHandler(PreviewStatementProcedure, h.PreviewStatement, opts...))
	mux.Handle(SaveMerchantOverrideProcedure, rpc.NewUnaryHandler(SaveMerchantOverrideProcedure, h.SaveMerchantOverride, opts...))
	mux.Handle(ListMerchantOverridesProcedure, rpc.NewUnaryHandler(ListMerchantOverridesProcedure, h.ListMerchantOverrides, opts...))
	mux.Handle(DeleteMerchantOverrideProcedure, rpc.NewUnaryHandler(DeleteMerchantOverrideProcedure, h.DeleteMerchantOverride, opts...))
	return "/" + ImportServiceName + "/", mux
}

// PreviewStatement parses an uploaded statement and returns detected
// subscription candidates. Nothing is persisted.
func (h *ImportHandler) PreviewStatement(
	ctx context.Context,
	req *connect.Request[PreviewStatementRequest],
) (*connect.Response[PreviewStatementResponse], error) {
	userID, err := getUserID(ctx)
	if err != nil {
		return nil, err
	}

	preview, err := h.importSvc.Preview(ctx, importservice.PreviewRequest{
		UserID:         userID,
		Filename:       req.Msg.Filename,
		Data:           req.Msg.Data,
		Mapping:        req.Msg.Mapping,
		HeaderRowIndex: req.Msg.HeaderRowIndex,
	})
	if err != nil {
		return nil, h.toConnectError(err)
	}

	resp := &PreviewStatementResponse{Preview: preview}
	switch preview.Outcome {
	case importservice.OutcomeScanned:
		resp.Message = scannedMessage
	case importservice.OutcomeMappingRequired:
		resp.Message = "Some columns could not be identified. Choose them manually and upload again."
	case importservice.OutcomeNoPatterns:
		resp.Message = "No recurring payments were found in this statement."
	}
	return connect.NewResponse(resp), nil
}

// SaveMerchantOverride stores a correction applied to future previews.
func (h *ImportHandler) SaveMerchantOverride(
	ctx context.Context,
	req *connect.Request[SaveMerchantOverrideRequest],
) (*connect.Response[SaveMerchantOverrideResponse], error) {
	userID, err := h.overrideUser(ctx)
	if err != nil {
		return nil, err
	}

	matchType := req.Msg.MatchType
	if matchType == "" {
		matchType = normalizer.MatchContains
	}

	saved, err := h.overrides.SaveOverride(ctx, normalizer.MerchantOverride{
		UserID:       userID,
		MatchPattern: req.Msg.MatchPattern,
		MatchType:    matchType,
		MerchantName: req.Msg.MerchantName,
		Category:     req.Msg.Category,
	})
	if err != nil {
		return nil, h.overrideError("failed to save merchant override", err)
	}
	return connect.NewResponse(&SaveMerchantOverrideResponse{Override: saved}), nil
}

// ListMerchantOverrides returns the user's overrides, most used first.
func (h *ImportHandler) ListMerchantOverrides(
	ctx context.Context,
	req *connect.Request[ListMerchantOverridesRequest],
) (*connect.Response[ListMerchantOverridesResponse], error) {
	userID, err := h.overrideUser(ctx)
	if err != nil {
		return nil, err
	}

	overrides, err := h.overrides.GetOverridesForUser(ctx, userID)
	if err != nil {
		return nil, h.overrideError("failed to list merchant overrides", err)
	}
	return connect.NewResponse(&ListMerchantOverridesResponse{Overrides: overrides}), nil
}

func (h *ImportHandler) DeleteMerchantOverride(
	ctx context.Context,
	req *connect.Request[DeleteMerchantOverrideRequest],
) (*connect.Response[DeleteMerchantOverrideResponse], error) {
	userID, err := h.overrideUser(ctx)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(req.Msg.ID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid override ID"))
	}
	if err := h.overrides.DeleteOverride(ctx, userID, id); err != nil {
		return nil, h.overrideError("failed to delete merchant override", err)
	}
	return connect.NewResponse(&DeleteMerchantOverrideResponse{}), nil
}

func (h *ImportHandler) overrideUser(ctx context.Context) (uuid.UUID, error) {
	if h.overrides == nil {
		return uuid.Nil, connect.NewError(connect.CodeUnimplemented, errors.New("merchant overrides are not enabled"))
	}
	return getUserID(ctx)
}

func (h *ImportHandler) overrideError(msg string, err error) error {
	switch {
	case errors.Is(err, normalizer.ErrInvalidOverride):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, sql.ErrNoRows):
		return connect.NewError(connect.CodeNotFound, errors.New("merchant override not found"))
	}
	h.logger.Error(msg, slog.Any("error", err))
	return connect.NewError(connect.CodeInternal, errors.New(msg))
}

func (h *ImportHandler) toConnectError(err error) error {
	var extractErr *extract.ExtractionError
	switch {
	case errors.As(err, &extractErr):
		return connect.NewError(connect.CodeInvalidArgument, errors.New(extractErr.UserMessage()))
	case errors.Is(err, importservice.ErrFileTooLarge):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, errors.New("statement took too long to process"))
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, importservice.ErrEmptyFile),
		errors.Is(err, importservice.ErrUnsupportedFormat),
		errors.Is(err, sniffer.ErrEmptyFile),
		errors.Is(err, sniffer.ErrNoHeadersFound),
		errors.Is(err, sniffer.ErrInvalidDelimiter),
		errors.Is(err, parser.ErrNoSheets),
		errors.Is(err, parser.ErrNoHeaderRow),
		errors.Is(err, parser.ErrUnknownColumns):
		return connect.NewError(connect.CodeInvalidArgument, err)
	}

	h.logger.Error("failed to preview statement", slog.Any("error", err))
	return connect.NewError(connect.CodeInternal, errors.New("failed to process statement"))
}

func getUserID(ctx context.Context) (uuid.UUID, error) {
	userIDStr, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok || userIDStr == "" {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid user ID"))
	}
	return userID, nil
}
