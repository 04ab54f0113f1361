package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var defaultFields []byte

// FieldMap is the declarative table of upstream field-name candidates.
type FieldMap struct {
	Identity []string            `yaml:"identity"`
	Select   []string            `yaml:"select"`
	OrderBy  string              `yaml:"order_by"`
	Fields   map[string][]string `yaml:"fields"`
	Media    MediaFields         `yaml:"media"`
}

// MediaFields lists candidates for the Media sub-resource.
type MediaFields struct {
	FilterFields []string `yaml:"filter_fields"`
	URL          []string `yaml:"url"`
	Order        []string `yaml:"order"`
}

// Names returns the candidate list for a logical field, or nil.
func (f *FieldMap) Names(logical string) []string {
	if f == nil {
		return nil
	}
	return f.Fields[logical]
}

// DefaultFieldMap parses the embedded fields.yaml.
func DefaultFieldMap() *FieldMap {
	fm, err := ParseFieldMap(defaultFields)
	if err != nil {
		panic(fmt.Sprintf("config: embedded fields.yaml: %v", err))
	}
	return fm
}

// ParseFieldMap decodes a YAML field table and checks required entries.
func ParseFieldMap(data []byte) (*FieldMap, error) {
	var fm FieldMap
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("fields: parse: %w", err)
	}
	if len(fm.Identity) == 0 {
		return nil, fmt.Errorf("fields: identity candidates are required")
	}
	if len(fm.Media.FilterFields) == 0 {
		fm.Media.FilterFields = []string{fm.Identity[0]}
	}
	if len(fm.Media.URL) == 0 {
		fm.Media.URL = []string{"MediaURL"}
	}
	return &fm, nil
}
