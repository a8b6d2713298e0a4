package policy

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ManifestEntry names one policy ref an operator permits this deployment
// to select via PolicyLoaderRef.
type ManifestEntry struct {
	Ref         string `yaml:"ref"`
	Description string `yaml:"description"`
}

// Manifest is a deployment's allow-list of policy refs.
type Manifest struct {
	Policies []ManifestEntry `yaml:"policies"`
}

// Validate checks the manifest is well-formed: no empty or duplicate refs.
func (m *Manifest) Validate() error {
	if len(m.Policies) == 0 {
		return fmt.Errorf("policy manifest: no policies listed")
	}
	seen := make(map[string]struct{}, len(m.Policies))
	for _, p := range m.Policies {
		if p.Ref == "" {
			return fmt.Errorf("policy manifest: entry missing ref")
		}
		if _, dup := seen[p.Ref]; dup {
			return fmt.Errorf("policy manifest: duplicate ref %q", p.Ref)
		}
		seen[p.Ref] = struct{}{}
	}
	return nil
}

// LoadManifest reads and validates a policy manifest file. An empty path
// returns a nil manifest, meaning no allow-list is enforced.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse policy manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Allows reports whether ref is permitted. A nil manifest allows anything
// registered.
func (m *Manifest) Allows(ref string) bool {
	if m == nil {
		return true
	}
	for _, p := range m.Policies {
		if p.Ref == ref {
			return true
		}
	}
	return false
}
