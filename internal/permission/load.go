package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/org/authcore/pkg/models"
)

// vocabularyFile is the on-disk shape of a catalog definition.
//
//	roles:
//	  admin: ["*"]
//	  worker: [quotes.view]
//	modules:
//	  quotes: [quotes.view]
type vocabularyFile struct {
	Roles   map[string][]string `yaml:"roles"`
	Modules map[string][]string `yaml:"modules"`
}

// Parse builds a Catalog from a YAML vocabulary document.
func Parse(data []byte) (*Catalog, error) {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("parsing catalog: no roles defined")
	}
	roles := make(map[models.Role][]models.Permission, len(f.Roles))
	for name, perms := range f.Roles {
		roles[models.Role(name)] = toPermissions(perms)
	}
	modules := make(map[models.Module][]models.Permission, len(f.Modules))
	for name, perms := range f.Modules {
		modules[models.Module(name)] = toPermissions(perms)
	}
	return NewCatalog(roles, modules), nil
}

// LoadFile reads a catalog from path. An empty path yields the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

func toPermissions(in []string) []models.Permission {
	out := make([]models.Permission, len(in))
	for i, p := range in {
		out[i] = models.Permission(p)
	}
	return out
}
