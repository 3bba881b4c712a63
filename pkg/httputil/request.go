package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into dest, rejecting unknown fields.
func ParseJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ParseJSONOrError parses JSON and writes a 400 on failure.
// Returns true if parsing succeeded.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PathString returns the trimmed path variable key.
func PathString(r *http.Request, key string) string {
	return strings.TrimSpace(mux.Vars(r)[key])
}

// ParsePathInt64OrError parses the path variable key as an int64 and writes a
// 400 on failure.
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw := mux.Vars(r)[key]
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid %s: %q", key, raw))
		return 0, false
	}
	return v, true
}

// ParseQueryInt parses an int query parameter with a default value
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

// ParseQueryString returns a query parameter or defaultVal when absent.
func ParseQueryString(r *http.Request, key, defaultVal string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultVal
}
