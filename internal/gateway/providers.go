package gateway

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// ProviderInfo is a single entry in the providers document.
type ProviderInfo struct {
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// providersDocument is the on-disk shape of the providers YAML document.
type providersDocument struct {
	Providers       []ProviderInfo `yaml:"providers"`
	DefaultProvider string         `yaml:"default_provider"`
}

// ProviderList is the list_providers response shape.
type ProviderList struct {
	Providers       []ProviderInfo
	DefaultProvider string
}

// ListProviders reads and parses the providers YAML document at path. A
// missing file yields an empty list (the providers document, like the
// roles directory, is an optional read-only external collaborator).
func ListProviders(path string) (ProviderList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProviderList{}, nil
		}
		return ProviderList{}, gwerr.Wrap(gwerr.TransportError, err, "list_providers: read %q", path)
	}

	var doc providersDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ProviderList{}, gwerr.Wrap(gwerr.InvalidArgument, err, "list_providers: parse %q", path)
	}

	return ProviderList{Providers: doc.Providers, DefaultProvider: doc.DefaultProvider}, nil
}
