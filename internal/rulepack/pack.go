// Package rulepack reads and writes shareable rule bundles.
//
// A pack is a YAML document listing atomic rules and composite rules by
// category name. Rules carry a local key so composites in the same pack can
// reference them before any database id exists:
//
//	name: commute
//	rules:
//	  - key: uber
//	    type: merchant
//	    value: Uber
//	    category: Transportation
//	  - key: evening
//	    type: time
//	    value: evening
//	    category: Transportation
//	composites:
//	  - key: uber-evening
//	    operator: AND
//	    category: Transportation
//	    weight: 1.5
//	    components: [uber, evening]
package rulepack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/spice-rules/internal/model"
)

// ErrInvalidPack is returned for structurally broken packs.
var ErrInvalidPack = errors.New("invalid rule pack")

// Pack is a named bundle of rules.
type Pack struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Rules       []Rule      `yaml:"rules"`
	Composites  []Composite `yaml:"composites,omitempty"`
}

// Rule is an atomic rule inside a pack.
type Rule struct {
	Key      string  `yaml:"key,omitempty"`
	Type     string  `yaml:"type"`
	Value    string  `yaml:"value"`
	Category string  `yaml:"category"`
	Weight   float64 `yaml:"weight,omitempty"`
}

// Composite is a composite rule inside a pack. Components name rule or
// composite keys of the same pack.
type Composite struct {
	Key        string   `yaml:"key,omitempty"`
	Operator   string   `yaml:"operator"`
	Category   string   `yaml:"category"`
	Weight     float64  `yaml:"weight,omitempty"`
	Components []string `yaml:"components"`
}

// Load reads a pack from a YAML file.
func Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read rule pack: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and checks a pack. Unknown fields are rejected so typos in
// hand-written packs surface early.
func Parse(r io.Reader) (*Pack, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var pack Pack
	if err := decoder.Decode(&pack); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidPack)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidPack, err)
	}
	if err := pack.Check(); err != nil {
		return nil, err
	}
	return &pack, nil
}

// Write encodes the pack as YAML.
func (p *Pack) Write(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("failed to encode rule pack: %w", err)
	}
	return encoder.Close()
}

// Check verifies the pack structure: known rule types and operators, unique
// keys and resolvable component references. Rule values are validated when
// the pack is imported.
func (p *Pack) Check() error {
	keys := make(map[string]bool)
	addKey := func(key, where string) error {
		if key == "" {
			return nil
		}
		if keys[key] {
			return fmt.Errorf("%w: %s: duplicate key %q", ErrInvalidPack, where, key)
		}
		keys[key] = true
		return nil
	}

	for i, rule := range p.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if _, err := model.ParseRuleType(rule.Type); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidPack, where, err)
		}
		if strings.TrimSpace(rule.Category) == "" {
			return fmt.Errorf("%w: %s: category is required", ErrInvalidPack, where)
		}
		if err := addKey(rule.Key, where); err != nil {
			return err
		}
	}

	for i, composite := range p.Composites {
		where := fmt.Sprintf("composites[%d]", i)
		if _, err := model.ParseOperator(composite.Operator); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidPack, where, err)
		}
		if strings.TrimSpace(composite.Category) == "" {
			return fmt.Errorf("%w: %s: category is required", ErrInvalidPack, where)
		}
		for _, component := range composite.Components {
			// Composites may only reference keys declared above them.
			if !keys[component] {
				return fmt.Errorf("%w: %s: unknown component %q", ErrInvalidPack, where, component)
			}
		}
		if err := addKey(composite.Key, where); err != nil {
			return err
		}
	}

	return nil
}

// Categories returns every category name the pack uses, in first-seen order.
func (p *Pack) Categories() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, rule := range p.Rules {
		add(rule.Category)
	}
	for _, composite := range p.Composites {
		add(composite.Category)
	}
	return names
}
