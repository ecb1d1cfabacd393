package fixtures

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/internal/validation"
	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

//go:embed scenario.schema.json
var scenarioSchemaJSON []byte

// ScenarioSchemaID is the resource id of the embedded fixture schema.
const ScenarioSchemaID = "https://insurance-ai-toolkit.dev/schemas/scenario.json"

// Loader parses scenario fixture files and validates them against the
// embedded schema.
type Loader struct {
	validator *validation.SchemaValidator
}

// NewLoader compiles the fixture schema.
func NewLoader() (*Loader, error) {
	v, err := validation.NewSchemaValidator(ScenarioSchemaID, scenarioSchemaJSON, schema.ErrCodeValidation)
	if err != nil {
		return nil, err
	}
	return &Loader{validator: v}, nil
}

// Parse decodes one YAML or JSON document. defaultID is used when the
// document has no id field.
func (l *Loader) Parse(data []byte, defaultID string) (*Scenario, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "fixture: payload is empty")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "fixture: decode: %s", err.Error()).WithCause(err)
	}
	if raw == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "fixture: document is not a mapping")
	}
	if _, ok := raw["id"]; !ok && defaultID != "" {
		raw["id"] = defaultID
	}

	if res := l.validator.Validate(raw); !res.Valid() {
		err := schema.NewErrorf(schema.ErrCodeValidation, "fixture %v: %s", raw["id"], strings.Join(res.Messages(), "; ")).
			WithDetails(map[string]any{"errors": res.Errors})
		return nil, err
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "fixture: decode: %s", err.Error()).WithCause(err)
	}
	if s.ID == "" {
		s.ID = defaultID
	}
	return s.Normalized(), nil
}

// LoadFile reads and parses a single fixture file. The file stem is the
// default scenario ID.
func (l *Loader) LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s, err := l.Parse(data, stem)
	if err != nil {
		return nil, fmt.Errorf("fixture: %s: %w", path, err)
	}
	return s, nil
}

// LoadDir scans dir for *.yaml, *.yml and *.json fixtures, sorted by path.
// A missing directory yields no fixtures.
func (l *Loader) LoadDir(dir string) ([]*Scenario, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("fixture: read %s: %w", trimmed, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isFixtureFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(trimmed, entry.Name()))
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := l.LoadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Load returns the built-in catalog extended with the fixtures in dir.
// A fixture whose ID matches a built-in scenario is a CONFLICT.
func Load(dir string) (*Catalog, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	extra, err := l.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	c := Builtin()
	for _, s := range extra {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func isFixtureFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".json")
}
