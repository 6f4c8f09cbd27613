package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/studyforge/gateway/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"validation", apperrors.MissingRequired("prompt"), http.StatusBadRequest, apperrors.ErrCodeMissingRequired},
		{"unknown participant", apperrors.UnknownParticipant(nil), http.StatusBadRequest, apperrors.ErrCodeUnknownParticipant},
		{"invalid credential", apperrors.InvalidCredential(), http.StatusUnauthorized, apperrors.ErrCodeInvalidCredential},
		{"not found or ended", apperrors.SessionNotFoundOrEnded(), http.StatusNotFound, apperrors.ErrCodeSessionNotFoundOrEnded},
		{"upstream", apperrors.Upstream("openai", errors.New("boom")), http.StatusBadGateway, apperrors.ErrCodeUpstream},
		{"database", apperrors.Database(errors.New("down")), http.StatusInternalServerError, apperrors.ErrCodeDatabase},
		{"plain error", errors.New("oops"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}

	t.Run("does not leak cause of internal errors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.Database(errors.New("password authentication failed for user")))
		assert.NotContains(t, rec.Body.String(), "password authentication")
	})

	t.Run("includes field details for validation errors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.MissingRequired("sessionId"))
		assert.Contains(t, rec.Body.String(), `"field":"sessionId"`)
	})
}
