package games

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// DefaultRotationThreshold is the bet count after which a pair auto-rotates.
const DefaultRotationThreshold = 10000

// Catalog is the set of published pay table versions. Versions are never
// modified once published; new tables get a new version name.
type Catalog struct {
	Current           string             `json:"current"`
	RotationThreshold uint64             `json:"rotation_threshold"`
	Versions          map[string]*Tables `json:"versions"`
}

// DefaultCatalog returns a catalog holding only the built-in version.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Current:           DefaultVersion,
		RotationThreshold: DefaultRotationThreshold,
		Versions:          map[string]*Tables{DefaultVersion: V1Tables()},
	}
}

// LoadCatalog reads additional versions from a JSON file on top of the
// built-in ones. The file may select the current version and the rotation
// threshold, but may not redefine an existing version.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables file: %w", err)
	}

	var file Catalog
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tables file %s: %w", path, err)
	}

	for name, t := range file.Versions {
		if _, exists := c.Versions[name]; exists {
			return nil, fmt.Errorf("tables file %s: version %q is already published", path, name)
		}
		if t == nil {
			return nil, fmt.Errorf("tables file %s: version %q is empty", path, name)
		}
		t.Version = name
		c.Versions[name] = t
	}
	if file.Current != "" {
		c.Current = file.Current
	}
	if file.RotationThreshold > 0 {
		c.RotationThreshold = file.RotationThreshold
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every version and the current pointer.
func (c *Catalog) Validate() error {
	if c.RotationThreshold == 0 {
		return fmt.Errorf("catalog: rotation threshold must be positive")
	}
	if _, ok := c.Versions[c.Current]; !ok {
		return fmt.Errorf("catalog: current %w %q", ErrUnknownVersion, c.Current)
	}
	for _, name := range c.VersionNames() {
		if err := c.Versions[name].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Tables returns the named version; an empty name selects the current one.
func (c *Catalog) Tables(version string) (*Tables, error) {
	if version == "" {
		version = c.Current
	}
	t, ok := c.Versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	return t, nil
}

// VersionNames returns the published versions in lexical order.
func (c *Catalog) VersionNames() []string {
	names := make([]string, 0, len(c.Versions))
	for name := range c.Versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
