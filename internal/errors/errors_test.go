package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyforge/internal/services"
)

func TestFromService(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid argument maps to 400",
			err:        &services.Error{Kind: services.KindInvalidArgument, Message: "days must be between 1 and 365"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ARGUMENT",
		},
		{
			name:       "not found maps to 404",
			err:        &services.Error{Kind: services.KindNotFound, Message: "key not found"},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "generation exhausted maps to 500",
			err:        &services.Error{Kind: services.KindGenerationExhausted, Message: "failed to generate a unique key value"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "GENERATION_EXHAUSTED",
		},
		{
			name:       "store failure maps to 500",
			err:        &services.Error{Kind: services.KindStoreFailure, Message: "failed to persist key"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "STORE_FAILURE",
		},
		{
			name:       "unknown error maps to 500",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_SERVER_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromService(tt.err)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
			assert.Equal(t, tt.err.Error(), apiErr.Message)
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewValidationError("bad input"), "trace-123")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "bad input", body["error"])
	assert.Equal(t, "trace-123", body["trace_id"])
}

func TestWriteError_NoTraceID(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrInternalServer, "")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "trace_id")
}
