package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// decodeJSON decodes the request body into v. A mission or swarm is
// typically created from a hand-written definition file rather than a
// generated JSON blob, so a body sent with a YAML content type is decoded
// as YAML: parsed into a generic document first, then re-marshaled through
// encoding/json so the struct's existing `json:"..."` tags apply to both
// encodings without a parallel set of `yaml:"..."` tags to keep in sync.
func decodeJSON(r *http.Request, v any) error {
	if isYAMLContentType(r.Header.Get("Content-Type")) {
		return decodeYAML(r.Body, v)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func isYAMLContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	return mediaType == "application/yaml" || mediaType == "application/x-yaml" || mediaType == "text/yaml"
}

func decodeYAML(r io.Reader, v any) error {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	raw, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return fmt.Errorf("normalize yaml: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// normalizeYAML recursively converts the map[string]any/[]any tree
// yaml.v3 produces into one encoding/json can marshal as an equivalent
// JSON document: yaml.v3 emits map[string]interface{} for string-keyed
// mappings, which json.Marshal already handles, but nested mappings need
// the same treatment applied recursively.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return val
	}
}
