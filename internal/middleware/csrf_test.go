package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFMiddleware(t *testing.T) {
	h := NewCSRFMiddleware(false).Handler(okHandler())

	t.Run("safe method issues cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policy", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CSRFCookieName, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
		assert.False(t, cookies[0].HttpOnly)
	})

	t.Run("existing cookie is kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policy", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "tok"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("state change needs matching header", func(t *testing.T) {
		tests := []struct {
			name   string
			header string
			status int
		}{
			{"missing", "", http.StatusForbidden},
			{"mismatch", "other", http.StatusForbidden},
			{"match", "tok", http.StatusNoContent},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodPatch, "/policy", nil)
				req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "tok"})
				if tt.header != "" {
					req.Header.Set(CSRFHeaderName, tt.header)
				}
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				assert.Equal(t, tt.status, rec.Code)
			})
		}
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSecurityHeadersMiddleware(false).Handler(okHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	NewSecurityHeadersMiddleware(true).Handler(okHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
