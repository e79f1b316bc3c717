package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/state"
	"github.com/leapstack-labs/datamanager/internal/views"
)

// Fixture is the on-disk description of one project. Files are YAML
// (.yaml, .yml) or JSON with comments (.json, .jsonc).
type Fixture struct {
	Project     state.Project       `json:"project" yaml:"project"`
	Columns     []columns.RawColumn `json:"columns" yaml:"columns"`
	Views       []views.Snapshot    `json:"views" yaml:"views"`
	Tasks       []map[string]any    `json:"tasks" yaml:"tasks"`
	Annotations []map[string]any    `json:"annotations" yaml:"annotations"`
	Actions     []map[string]any    `json:"actions" yaml:"actions"`
}

// LoadFixture reads and converts a fixture file.
func LoadFixture(path string) (state.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return state.Seed{}, fmt.Errorf("failed to read fixtures: %w", err)
	}
	fx, err := ParseFixture(data, filepath.Ext(path))
	if err != nil {
		return state.Seed{}, fmt.Errorf("%s: %w", path, err)
	}
	return fx.Seed()
}

// ParseFixture decodes fixture data. ext selects the format.
func ParseFixture(data []byte, ext string) (Fixture, error) {
	var fx Fixture
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fx); err != nil {
			return Fixture{}, fmt.Errorf("parse yaml fixtures: %w", err)
		}
	case ".json", ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return Fixture{}, fmt.Errorf("parse json fixtures: %w", err)
		}
		if err := json.Unmarshal(std, &fx); err != nil {
			return Fixture{}, fmt.Errorf("parse json fixtures: %w", err)
		}
	default:
		return Fixture{}, fmt.Errorf("unsupported fixture format %q", ext)
	}
	return fx, nil
}

// Seed validates the fixture and converts it to a store seed.
func (fx Fixture) Seed() (state.Seed, error) {
	if fx.Project.ID <= 0 {
		return state.Seed{}, fmt.Errorf("fixture project needs a positive id")
	}
	seed := state.Seed{Project: fx.Project}

	var err error
	if seed.Columns, err = marshalAll(fx.Columns); err != nil {
		return state.Seed{}, fmt.Errorf("columns: %w", err)
	}
	if seed.Views, err = marshalAll(fx.Views); err != nil {
		return state.Seed{}, fmt.Errorf("views: %w", err)
	}
	for i, t := range fx.Tasks {
		if _, ok := t["id"]; !ok {
			return state.Seed{}, fmt.Errorf("task %d has no id", i)
		}
	}
	if seed.Tasks, err = marshalAll(fx.Tasks); err != nil {
		return state.Seed{}, fmt.Errorf("tasks: %w", err)
	}
	for i, a := range fx.Annotations {
		if _, ok := a["task"]; !ok {
			return state.Seed{}, fmt.Errorf("annotation %d has no task", i)
		}
	}
	if seed.Annotations, err = marshalAll(fx.Annotations); err != nil {
		return state.Seed{}, fmt.Errorf("annotations: %w", err)
	}
	if seed.Actions, err = marshalAll(fx.Actions); err != nil {
		return state.Seed{}, fmt.Errorf("actions: %w", err)
	}
	return seed, nil
}

func marshalAll[T any](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
