package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// ErrInvalidIfMatch is returned when If-Match does not carry a positive version.
var ErrInvalidIfMatch = errors.New("If-Match must carry the entity version")

// IfMatchVersion parses an optional If-Match header holding an entity version,
// accepting bare, quoted and weak forms. A missing header yields nil.
func IfMatchVersion(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return nil, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 1 {
		return nil, ErrInvalidIfMatch
	}
	return &version, nil
}

// SetETag exposes version as a strong ETag.
func SetETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}
