package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.ledger-transfer.dev/"

// Details represents RFC 7807 Problem Details extended with a stable,
// machine-readable error code.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// TypeForCode derives the problem type URL from an error code.
func TypeForCode(code string) string {
	return Type(strings.ReplaceAll(strings.ToLower(code), "_", "-"))
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	write(w, r, Details{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteCode sends a problem whose type is derived from code and carries it.
func WriteCode(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	write(w, r, Details{Type: TypeForCode(code), Status: status, Code: code, Detail: detail})
}

func write(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
