package gateway

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListProviders_MissingFileIsEmptyNotError(t *testing.T) {
	providers, err := ListProviders(filepath.Join(t.TempDir(), "providers.yaml"))
	if err != nil {
		t.Fatalf("ListProviders() error = %v", err)
	}
	if len(providers.Providers) != 0 || providers.DefaultProvider != "" {
		t.Errorf("expected an empty ProviderList, got %+v", providers)
	}
}

func TestListProviders_ParsesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	doc := `
default_provider: openai
providers:
  - name: openai
    model: gpt-4o
    base_url: https://api.openai.com/v1
  - name: local
    model: qwen2.5
    base_url: http://localhost:11434/v1
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write providers.yaml: %v", err)
	}

	providers, err := ListProviders(path)
	if err != nil {
		t.Fatalf("ListProviders() error = %v", err)
	}
	if providers.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want %q", providers.DefaultProvider, "openai")
	}
	if len(providers.Providers) != 2 {
		t.Fatalf("Providers = %+v, want 2 entries", providers.Providers)
	}
	if providers.Providers[1].Name != "local" || providers.Providers[1].Model != "qwen2.5" {
		t.Errorf("Providers[1] = %+v, unexpected", providers.Providers[1])
	}
}

func TestListProviders_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte("default_provider: [unterminated\n"), 0o644); err != nil {
		t.Fatalf("write providers.yaml: %v", err)
	}
	if _, err := ListProviders(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
