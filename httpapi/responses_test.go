package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONAcceptsYAMLContentType(t *testing.T) {
	body := "name: n\nprompt: p\nwork_dir: /w\ncron: \"0 9 * * *\"\n"
	req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")

	var m struct {
		Name    string `json:"name"`
		Prompt  string `json:"prompt"`
		WorkDir string `json:"work_dir"`
		Cron    string `json:"cron"`
	}
	if err := decodeJSON(req, &m); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if m.Name != "n" || m.Prompt != "p" || m.WorkDir != "/w" || m.Cron != "0 9 * * *" {
		t.Errorf("decoded = %+v", m)
	}
}

func TestDecodeJSONStillAcceptsPlainJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(`{"name":"n"}`))
	req.Header.Set("Content-Type", "application/json")

	var m struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(req, &m); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if m.Name != "n" {
		t.Errorf("Name = %q, want n", m.Name)
	}
}

func TestDecodeJSONYAMLHandlesNestedMappings(t *testing.T) {
	body := "name: s\nagents:\n  reviewer:\n    model: claude-haiku-4-5\n    tools:\n      - read_file\n      - grep\n"
	req := httptest.NewRequest(http.MethodPost, "/swarms", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/yaml")

	var swarm struct {
		Name   string `json:"name"`
		Agents map[string]struct {
			Model string   `json:"model"`
			Tools []string `json:"tools"`
		} `json:"agents"`
	}
	if err := decodeJSON(req, &swarm); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	agent, ok := swarm.Agents["reviewer"]
	if !ok {
		t.Fatalf("agents = %+v, missing reviewer", swarm.Agents)
	}
	if agent.Model != "claude-haiku-4-5" || len(agent.Tools) != 2 {
		t.Errorf("reviewer = %+v", agent)
	}
}

func TestIsYAMLContentTypeIgnoresCharsetParameter(t *testing.T) {
	if !isYAMLContentType("application/yaml; charset=utf-8") {
		t.Error("isYAMLContentType() = false, want true for application/yaml with charset param")
	}
	if isYAMLContentType("application/json") {
		t.Error("isYAMLContentType() = true, want false for application/json")
	}
}
