package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads the request body into dst. An empty body is accepted
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return apperrors.PayloadTooLarge()
	}
	return apperrors.ValidationError("Invalid request body")
}

// optionalInt parses a query parameter. A missing parameter yields nil.
func optionalInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.InvalidInput(name, "must be an integer")
	}
	return &n, nil
}
