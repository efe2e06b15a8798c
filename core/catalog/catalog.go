// Package catalog resolves data-source descriptors from a YAML file and hot
// reloads them when the file changes.
package catalog

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/querymend/querymend/core/dialect"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

// Connection holds the parameters needed to reach a data source. File
// sources use Path; HTTP-queryable sources use Host/Port plus the optional
// ContainerAlias fallback.
type Connection struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Path           string `yaml:"path"`
	ContainerAlias string `yaml:"container_alias"`
}

// DataSource describes one queryable source.
type DataSource struct {
	ID         string           `yaml:"id" validate:"required"`
	Category   dialect.Category `yaml:"category" validate:"required,oneof=warehouse database file"`
	Dialect    dialect.Dialect  `yaml:"dialect" validate:"omitempty,oneof=clickhouse postgres mysql duckdb"`
	Connection Connection       `yaml:"connection"`
}

// EffectiveDialect resolves the source's dialect, explicit first.
func (ds DataSource) EffectiveDialect() dialect.Dialect {
	return dialect.Resolve(ds.Dialect, ds.Category)
}

// Endpoints returns the ordered endpoint candidates for HTTP-queryable
// sources: loopback first, then the declared host, then the container
// alias. Duplicates and blanks are dropped, order is preserved.
func (ds DataSource) Endpoints() []string {
	port := ds.Connection.Port
	if port == 0 {
		port = 8123
	}
	hosts := []string{"127.0.0.1", ds.Connection.Host, ds.Connection.ContainerAlias}
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h == "" {
			continue
		}
		addr := fmt.Sprintf("http://%s:%d", h, port)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// Catalog resolves data sources by id.
type Catalog interface {
	Get(id string) (DataSource, error)
	List() []DataSource
}

type catalogFile struct {
	DataSources []DataSource `yaml:"data_sources" validate:"required,min=1,dive"`
}

// Environment variable pattern: {{ env.VARIABLE_NAME }}
var envVarPattern = regexp.MustCompile(`\{\{\s*env\.(\w+)\s*\}\}`)

// substituteEnvVars replaces {{ env.VARIABLE_NAME }} placeholders with
// environment variable values. Missing variables fail at load time.
func substituteEnvVars(value string) (string, error) {
	result := value
	seen := make(map[string]bool)
	for _, match := range envVarPattern.FindAllStringSubmatch(value, -1) {
		placeholder, name := match[0], match[1]
		if seen[placeholder] {
			continue
		}
		seen[placeholder] = true

		envValue, exists := os.LookupEnv(name)
		if !exists {
			return "", fmt.Errorf("environment variable '%s' not found (required at startup)", name)
		}
		result = strings.ReplaceAll(result, placeholder, envValue)
	}
	return result, nil
}

// FileCatalog is a YAML-file-backed catalog. Reload swaps the whole source
// map atomically; registered hooks run after every successful reload.
type FileCatalog struct {
	path     string
	validate *validator.Validate

	mu      sync.RWMutex
	sources map[string]DataSource

	hookMu   sync.Mutex
	onReload []func()
}

// NewFileCatalog loads and validates the catalog file.
func NewFileCatalog(path string) (*FileCatalog, error) {
	c := &FileCatalog{
		path:     path,
		validate: validator.New(),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file. On any error the previous sources stay
// in effect.
func (c *FileCatalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	substituted, err := substituteEnvVars(string(data))
	if err != nil {
		return fmt.Errorf("catalog %s: %w", c.path, err)
	}

	var parsed catalogFile
	if err := yaml.Unmarshal([]byte(substituted), &parsed); err != nil {
		return fmt.Errorf("parse catalog %s: %w", c.path, err)
	}
	if err := c.validate.Struct(parsed); err != nil {
		return fmt.Errorf("invalid catalog %s: %w", c.path, err)
	}

	sources := make(map[string]DataSource, len(parsed.DataSources))
	for _, ds := range parsed.DataSources {
		if _, dup := sources[ds.ID]; dup {
			return fmt.Errorf("invalid catalog %s: duplicate data source id '%s'", c.path, ds.ID)
		}
		sources[ds.ID] = ds
	}

	c.mu.Lock()
	c.sources = sources
	c.mu.Unlock()

	c.hookMu.Lock()
	hooks := make([]func(), len(c.onReload))
	copy(hooks, c.onReload)
	c.hookMu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// Get resolves one data source. Absence is a terminal error for the run.
func (c *FileCatalog) Get(id string) (DataSource, error) {
	c.mu.RLock()
	ds, ok := c.sources[id]
	c.mu.RUnlock()
	if !ok {
		return DataSource{}, apperrors.NewAppError(apperrors.ErrCodeSourceNotFound,
			fmt.Sprintf("data source '%s' not found", id), nil)
	}
	return ds, nil
}

// List returns all sources sorted by id.
func (c *FileCatalog) List() []DataSource {
	c.mu.RLock()
	out := make([]DataSource, 0, len(c.sources))
	for _, ds := range c.sources {
		out = append(out, ds)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnReload registers a hook invoked after each successful reload, used for
// cache invalidation.
func (c *FileCatalog) OnReload(fn func()) {
	c.hookMu.Lock()
	c.onReload = append(c.onReload, fn)
	c.hookMu.Unlock()
}
