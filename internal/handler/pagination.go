package handler

import (
	"net/http"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit and offset. Non-numeric values are rejected;
// out-of-range values fall back to the defaults.
func ParsePagination(r *http.Request) (PaginationParams, error) {
	limit, err := optionalInt(r, "limit")
	if err != nil {
		return PaginationParams{}, err
	}
	offset, err := optionalInt(r, "offset")
	if err != nil {
		return PaginationParams{}, err
	}

	p := PaginationParams{Limit: DefaultLimit}
	if limit != nil && *limit > 0 && *limit <= MaxLimit {
		p.Limit = *limit
	}
	if offset != nil && *offset > 0 {
		p.Offset = *offset
	}
	return p, nil
}
