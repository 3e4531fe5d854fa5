package object

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/cuemby/hive/pkg/apierrors"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtinFS embed.FS

// Catalog names
const (
	CatalogBuiltin = "builtin"
	CatalogLocal   = "local"
)

// Template is a named object config document used to create objects
type Template struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Kind        Kind    `yaml:"kind" json:"kind"`
	Config      *Config `yaml:"config" json:"config"`
}

// Catalog is a source of templates
type Catalog interface {
	Name() string
	List() ([]*Template, error)
	Get(name string) (*Template, error)
}

// TemplateStore persists local templates
type TemplateStore interface {
	ListTemplates() ([]*Template, error)
	GetTemplate(name string) (*Template, error)
}

// BuiltinCatalog serves the templates shipped with the daemon
type BuiltinCatalog struct {
	templates map[string]*Template
}

// NewBuiltinCatalog loads the embedded templates
func NewBuiltinCatalog() (*BuiltinCatalog, error) {
	entries, err := builtinFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin templates: %w", err)
	}

	c := &BuiltinCatalog{templates: make(map[string]*Template)}
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", e.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", e.Name(), err)
		}
		t.Name = strings.TrimSuffix(e.Name(), ".yaml")
		if t.Config == nil {
			t.Config = &Config{}
		}
		c.templates[t.Name] = &t
	}
	return c, nil
}

// Name returns the catalog name
func (c *BuiltinCatalog) Name() string {
	return CatalogBuiltin
}

// List returns the templates sorted by name
func (c *BuiltinCatalog) List() ([]*Template, error) {
	result := make([]*Template, 0, len(c.templates))
	for _, t := range c.templates {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Get returns one template
func (c *BuiltinCatalog) Get(name string) (*Template, error) {
	t, ok := c.templates[name]
	if !ok {
		return nil, apierrors.NotFound("template %s not found in catalog %s", name, CatalogBuiltin)
	}
	return t, nil
}

// LocalCatalog serves the templates saved in the node store
type LocalCatalog struct {
	store TemplateStore
}

// NewLocalCatalog creates a catalog backed by store
func NewLocalCatalog(store TemplateStore) *LocalCatalog {
	return &LocalCatalog{store: store}
}

// Name returns the catalog name
func (c *LocalCatalog) Name() string {
	return CatalogLocal
}

// List returns the stored templates
func (c *LocalCatalog) List() ([]*Template, error) {
	return c.store.ListTemplates()
}

// Get returns one stored template
func (c *LocalCatalog) Get(name string) (*Template, error) {
	return c.store.GetTemplate(name)
}

// Catalogs indexes catalogs by name
type Catalogs map[string]Catalog

// NewCatalogs indexes the given catalogs
func NewCatalogs(catalogs ...Catalog) Catalogs {
	cs := make(Catalogs, len(catalogs))
	for _, c := range catalogs {
		cs[c.Name()] = c
	}
	return cs
}

// Names returns the catalog names, sorted
func (cs Catalogs) Names() []string {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template looks a template up in catalog. An empty catalog name searches
// every catalog, local first.
func (cs Catalogs) Template(catalog, name string) (*Template, error) {
	if catalog != "" {
		c, ok := cs[catalog]
		if !ok {
			return nil, apierrors.NotFound("catalog %s not found", catalog)
		}
		return c.Get(name)
	}
	for _, cn := range []string{CatalogLocal, CatalogBuiltin} {
		c, ok := cs[cn]
		if !ok {
			continue
		}
		if t, err := c.Get(name); err == nil {
			return t, nil
		}
	}
	return nil, apierrors.NotFound("template %s not found", name)
}
