package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Knights-Who-Say-Node/reviews/pkg/errors"
	"github.com/Knights-Who-Say-Node/reviews/pkg/logger"
	"github.com/Knights-Who-Say-Node/reviews/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// --- WriteJSON / WriteRawJSON ---

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]any{"id": 7, "message": "Review Created"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":7,"message":"Review Created"}`, rec.Body.String())
}

func TestWriteRawJSON_WritesBytesVerbatim(t *testing.T) {
	body := []byte(`{"product":"42","page":0,"count":5,"results":[]}`)
	rec := httptest.NewRecorder()
	WriteRawJSON(rec, http.StatusOK, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "49", rec.Header().Get("Content-Length"))
	assert.True(t, bytes.Equal(body, rec.Body.Bytes()))
}

// --- WriteError ---

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reviews/meta", nil)

	WriteError(rec, req, apperrors.NotFound("review metadata for product", 42), testLogger())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "NOT_FOUND", e.Code)
	assert.Equal(t, "review metadata for product with id 42 not found", e.Message)
}

func TestWriteError_Sentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"invalid input", fmt.Errorf("page: %w", apperrors.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/reviews", nil)
			WriteError(rec, req, tt.err, testLogger())

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestWriteError_InternalHidesCauseAndLogs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reviews", nil)
	WriteError(rec, req, apperrors.Internal(errors.New("insert review: deadlock detected")), l)

	e := decodeError(t, rec)
	assert.Equal(t, "an internal error occurred", e.Message)
	assert.NotContains(t, rec.Body.String(), "deadlock")
	assert.Contains(t, buf.String(), "deadlock detected")
	assert.Contains(t, buf.String(), `"path":"/reviews"`)
}

func TestWriteError_PrefersRequestScopedLogger(t *testing.T) {
	var scoped, fallback bytes.Buffer
	ctx := logger.NewContext(context.Background(), slog.New(slog.NewJSONHandler(&scoped, nil)))
	req := httptest.NewRequest(http.MethodGet, "/reviews", nil).WithContext(ctx)

	WriteError(httptest.NewRecorder(), req, errors.New("boom"), slog.New(slog.NewJSONHandler(&fallback, nil)))

	assert.Contains(t, scoped.String(), "boom")
	assert.Empty(t, fallback.String())
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx := logger.WithCorrelationID(context.Background(), "corr-123")
	req := httptest.NewRequest(http.MethodGet, "/reviews", nil).WithContext(ctx)

	WriteError(rec, req, apperrors.ErrNotFound, testLogger())

	assert.Equal(t, "corr-123", decodeError(t, rec).RequestID)
}

func TestWriteError_NoCorrelationID_OmitsRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reviews", nil)
	WriteError(rec, req, apperrors.ErrNotFound, testLogger())

	var raw map[string]map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	_, hasRequestID := raw["error"]["request_id"]
	assert.False(t, hasRequestID)
}

// --- WriteValidationError ---

func TestWriteValidationError_FieldErrors(t *testing.T) {
	type body struct {
		Rating int `json:"rating" validate:"min=1,max=5"`
	}
	err := validator.Validate(body{Rating: 9})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	WriteValidationError(rec, httptest.NewRequest(http.MethodPost, "/reviews", nil), err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Equal(t, "must be at most 5", e.Fields["rating"])
}

func TestWriteValidationError_DecodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, httptest.NewRequest(http.MethodPost, "/reviews", nil), errors.New("decode request body: EOF"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "INVALID_INPUT", e.Code)
	assert.Equal(t, "decode request body: EOF", e.Message)
}

// --- ParseID / QueryInt ---

func TestParseID(t *testing.T) {
	tests := []struct {
		raw    string
		ok     bool
		want   int64
		errMsg string
	}{
		{"17", true, 17, ""},
		{"9223372036854775807", true, 9223372036854775807, ""},
		{"", false, 0, "review_id is required"},
		{"0", false, 0, "review_id must be a positive integer"},
		{"-4", false, 0, "review_id must be a positive integer"},
		{"abc", false, 0, "review_id must be a positive integer"},
		{"9223372036854775808", false, 0, "review_id must be a positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/reviews/x/helpful", nil)
			id, ok := ParseID(rec, req, "review_id", tt.raw)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				e := decodeError(t, rec)
				assert.Equal(t, "INVALID_PARAMETER", e.Code)
				assert.Equal(t, tt.errMsg, e.Message)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/reviews?page=3&count=x", nil)

	page, err := QueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page)

	sort, err := QueryInt(req, "missing", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, sort)

	_, err = QueryInt(req, "count", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}
