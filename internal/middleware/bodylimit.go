package middleware

import (
	"net/http"

	apperrors "github.com/studyforge/gateway/internal/errors"
)

// DefaultMaxBodySize bounds game and admin request bodies. Event payloads and
// prompts are small; anything larger is rejected before decoding.
const DefaultMaxBodySize = 256 << 10

type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

// Handler rejects declared oversize bodies up front and caps the rest, so a
// chunked body that runs past the limit fails inside the decoder.
func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > m.maxSize {
			writeError(w, apperrors.PayloadTooLarge())
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
