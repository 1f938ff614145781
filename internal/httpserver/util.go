package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 64 << 10

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// readBody reads at most maxRequestBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer body.Close()
	return io.ReadAll(body)
}

// queryLimit parses ?limit=, falling back to def for missing or invalid values.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
