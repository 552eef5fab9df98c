package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/apathy-ca/sark/internal/sarkerr"
)

// bodyValidator runs struct-tag validation ("required", "oneof=...", etc.)
// on decoded request bodies. A single instance is reused across requests
// per validator's own documented concurrency-safety guarantee.
var bodyValidator = validator.New()

// decodeAndValidate decodes r's JSON body into dst and runs bodyValidator
// over it, returning a sarkerr.Validation on either a malformed body or a
// struct-tag violation — the single 422-producing path every POST/PATCH
// handler with a validated body struct should go through.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return sarkerr.Validation("malformed request body")
	}
	if err := bodyValidator.Struct(dst); err != nil {
		return sarkerr.Validation(err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSarkError writes the standard {error, reason, detail?} body.
func writeSarkError(w http.ResponseWriter, status int, errClass, reason string) {
	writeJSON(w, status, map[string]string{"error": errClass, "reason": reason})
}

// statusForClass maps a sarkerr.Class to its HTTP status code.
func statusForClass(c sarkerr.Class) int {
	switch c {
	case sarkerr.ClassUnauthenticated:
		return http.StatusUnauthorized
	case sarkerr.ClassForbiddenPolicy, sarkerr.ClassForbiddenBudget, sarkerr.ClassForbiddenTime:
		return http.StatusForbidden
	case sarkerr.ClassRateLimited:
		return http.StatusTooManyRequests
	case sarkerr.ClassNotFound:
		return http.StatusNotFound
	case sarkerr.ClassConflict:
		return http.StatusConflict
	case sarkerr.ClassValidation:
		return http.StatusUnprocessableEntity
	case sarkerr.ClassDownstreamUnavailable, sarkerr.ClassDownstreamError, sarkerr.ClassInternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeErr unwraps err to a *sarkerr.Error when possible and writes the
// matching status; any other error (a programmer bug, not a declared
// outcome) becomes a 500 with a fixed, non-leaking reason.
func writeErr(w http.ResponseWriter, err error) {
	if se, ok := sarkerr.As(err); ok {
		writeSarkError(w, statusForClass(se.Class), string(se.Class), se.Reason)
		return
	}
	writeSarkError(w, http.StatusInternalServerError, "internal", "internal error")
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	out := []string{}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
