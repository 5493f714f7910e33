package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Anivie/gpt-cat/internal/endpoint"
)

// ModelFile is the on-disk layout of models.yaml.
type ModelFile struct {
	// Models lists the model names each endpoint serves.
	Models map[string][]string `yaml:"models"`
	// Mappings rewrites a client model name to the endpoint's own name.
	Mappings map[string]map[string]string `yaml:"mappings"`
	Aliases  map[string]endpoint.Alias     `yaml:"aliases"`
}

// ModelTable answers which endpoints serve a model and under what name.
// A table is immutable once built.
type ModelTable struct {
	available map[string]map[string]struct{}
	mappings  map[string]map[string]string
	aliases   map[string]endpoint.Alias
	order     []string
}

// LoadModels reads a models.yaml file. A missing file yields an empty table
// in which every endpoint serves every model.
func LoadModels(path string) (*ModelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewModelTable(ModelFile{}), nil
		}
		return nil, fmt.Errorf("read models: %w", err)
	}
	var file ModelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewModelTable(file), nil
}

// NewModelTable indexes a model file. Mapped client names count as served.
func NewModelTable(file ModelFile) *ModelTable {
	t := &ModelTable{
		available: make(map[string]map[string]struct{}),
		mappings:  make(map[string]map[string]string),
		aliases:   file.Aliases,
	}
	set := func(ep string) map[string]struct{} {
		key := strings.ToLower(ep)
		if t.available[key] == nil {
			t.available[key] = make(map[string]struct{})
			t.order = append(t.order, ep)
		}
		return t.available[key]
	}
	for ep, models := range file.Models {
		s := set(ep)
		for _, m := range models {
			s[strings.TrimSpace(m)] = struct{}{}
		}
	}
	for ep, mapping := range file.Mappings {
		s := set(ep)
		key := strings.ToLower(ep)
		t.mappings[key] = make(map[string]string, len(mapping))
		for from, to := range mapping {
			s[from] = struct{}{}
			t.mappings[key][from] = to
		}
	}
	sort.Strings(t.order)
	return t
}

// Supports reports whether ep may serve model. Endpoints the table does
// not mention are unrestricted.
func (t *ModelTable) Supports(ep, model string) bool {
	s, ok := t.available[strings.ToLower(ep)]
	if !ok {
		return true
	}
	_, ok = s[model]
	return ok
}

// Upstream returns the model name to send to ep.
func (t *ModelTable) Upstream(ep, model string) string {
	if to, ok := t.mappings[strings.ToLower(ep)][model]; ok && to != "" {
		return to
	}
	return model
}

// Aliases returns the endpoint aliases declared in the file.
func (t *ModelTable) Aliases() map[string]endpoint.Alias {
	return t.aliases
}

// Owners maps every listed model to the first endpoint (by name) serving it.
func (t *ModelTable) Owners() map[string]string {
	out := make(map[string]string)
	for _, ep := range t.order {
		for m := range t.available[strings.ToLower(ep)] {
			if _, seen := out[m]; !seen {
				out[m] = ep
			}
		}
	}
	return out
}
