package spec

import (
	"embed"
	"net/http"
)

// Document names accepted by OpenAPIHandler.
const (
	Ledger   = "ledger.yaml"
	Transfer = "transfer.yaml"
)

var (
	//go:embed ledger.yaml transfer.yaml
	openapiFS embed.FS
)

// OpenAPIHandler serves one of the embedded OpenAPI documents.
func OpenAPIHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := openapiFS.ReadFile(name)
		if err != nil {
			http.Error(w, "openapi spec not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	}
}
