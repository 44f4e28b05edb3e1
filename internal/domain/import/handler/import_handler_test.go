package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/extract"
	importservice "github.com/FACorreiaa/subscription-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/sniffer"
	"github.com/FACorreiaa/subscription-tracker/pkg/interceptors"
	"github.com/FACorreiaa/subscription-tracker/pkg/rpc"
)

const spotifyCSV = "Datum,Verwendungszweck,Betrag\n" +
	"01.01.2025,Spotify AB,\"9,99\"\n" +
	"01.02.2025,Spotify AB,\"9,99\"\n" +
	"01.03.2025,Spotify AB,\"9,99\"\n"

type stubExtractor struct {
	doc *extract.Document
	err error
}

func (s stubExtractor) ExtractText(ctx context.Context, data []byte) (*extract.Document, error) {
	return s.doc, s.err
}

type stubPreviewer struct {
	err error
}

func (s stubPreviewer) Preview(ctx context.Context, req importservice.PreviewRequest) (*importservice.Preview, error) {
	return nil, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, previewer Previewer) *connect.Client[PreviewStatementRequest, PreviewStatementResponse] {
	t.Helper()
	h := NewImportHandler(previewer, discardLogger())
	path, handler := h.Routes(connect.WithInterceptors(interceptors.NewUserIDInterceptor()))

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return rpc.NewClient[PreviewStatementRequest, PreviewStatementResponse](srv.Client(), srv.URL+PreviewStatementProcedure)
}

func newImportService(t *testing.T, ext extract.Extractor) *importservice.ImportService {
	t.Helper()
	cat, err := catalog.Builtin()
	require.NoError(t, err)
	return importservice.NewImportService(ext, nil, cat, nil, importservice.Config{MaxUploadBytes: 1 << 20}, discardLogger())
}

func call(client *connect.Client[PreviewStatementRequest, PreviewStatementResponse], msg *PreviewStatementRequest, userID string) (*connect.Response[PreviewStatementResponse], error) {
	req := connect.NewRequest(msg)
	if userID != "" {
		req.Header().Set(interceptors.UserIDHeader, userID)
	}
	return client.CallUnary(context.Background(), req)
}

func TestPreviewStatement(t *testing.T) {
	client := newServer(t, newImportService(t, stubExtractor{}))

	resp, err := call(client, &PreviewStatementRequest{Filename: "export.csv", Data: []byte(spotifyCSV)}, uuid.NewString())
	require.NoError(t, err)

	p := resp.Msg.Preview
	require.NotNil(t, p)
	assert.Equal(t, importservice.OutcomeCandidatesFound, p.Outcome)
	require.Len(t, p.Candidates, 1)
	assert.Equal(t, "Spotify", p.Candidates[0].Name)
	assert.Equal(t, "9.99", p.Candidates[0].Price.StringFixed(2))
	assert.Empty(t, resp.Msg.Message)
}

func TestPreviewStatement_Unauthenticated(t *testing.T) {
	client := newServer(t, newImportService(t, stubExtractor{}))

	_, err := call(client, &PreviewStatementRequest{Data: []byte(spotifyCSV)}, "")
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = call(client, &PreviewStatementRequest{Data: []byte(spotifyCSV)}, "not-a-uuid")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestPreviewStatement_MappingRequired(t *testing.T) {
	client := newServer(t, newImportService(t, stubExtractor{}))
	data := []byte("Datum;Info;Summe\n15.01.2025;Zorblax Hosting;12,00\n15.02.2025;Zorblax Hosting;12,00\n")

	resp, err := call(client, &PreviewStatementRequest{Data: data}, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, importservice.OutcomeMappingRequired, resp.Msg.Preview.Outcome)
	assert.NotEmpty(t, resp.Msg.Message)

	resp, err = call(client, &PreviewStatementRequest{
		Data:    data,
		Mapping: &sniffer.ColumnMapping{Description: "Info", Amount: "Summe"},
	}, uuid.NewString())
	require.NoError(t, err)
	assert.Len(t, resp.Msg.Preview.Transactions, 2)
}

func TestPreviewStatement_Scanned(t *testing.T) {
	ext := stubExtractor{doc: &extract.Document{Text: "Seite 1", PageCount: 2}}
	client := newServer(t, newImportService(t, ext))

	resp, err := call(client, &PreviewStatementRequest{Filename: "scan.pdf", Data: []byte("%PDF-1.4 ...")}, uuid.NewString())
	require.NoError(t, err)
	assert.True(t, resp.Msg.Preview.IsScanned)
	assert.Equal(t, scannedMessage, resp.Msg.Message)
}

func TestPreviewStatement_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{"encrypted pdf", &extract.ExtractionError{Reason: extract.ReasonEncrypted, Err: errors.New("bad password")}, connect.CodeInvalidArgument},
		{"too large", importservice.ErrFileTooLarge, connect.CodeResourceExhausted},
		{"empty", importservice.ErrEmptyFile, connect.CodeInvalidArgument},
		{"unsupported", importservice.ErrUnsupportedFormat, connect.CodeInvalidArgument},
		{"no headers", sniffer.ErrNoHeadersFound, connect.CodeInvalidArgument},
		{"timeout", context.DeadlineExceeded, connect.CodeDeadlineExceeded},
		{"unexpected", errors.New("boom"), connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newServer(t, stubPreviewer{err: tt.err})
			_, err := call(client, &PreviewStatementRequest{Data: []byte("x")}, uuid.NewString())
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestPreviewStatement_ExtractionMessage(t *testing.T) {
	extErr := &extract.ExtractionError{Reason: extract.ReasonEncrypted, Err: errors.New("bad password")}
	client := newServer(t, stubPreviewer{err: extErr})

	_, err := call(client, &PreviewStatementRequest{Data: []byte("x")}, uuid.NewString())
	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, extErr.UserMessage(), connectErr.Message())
}
