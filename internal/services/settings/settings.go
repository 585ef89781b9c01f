// Package settings models game and system settings trees and decides which
// settings an operator may edit based on the current values of their siblings.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Predicate makes a setting's visibility depend on a sibling's current value.
type Predicate struct {
	Name   string `json:"name" yaml:"name"`
	Values []int  `json:"values" yaml:"values,flow"`
	Negate bool   `json:"negate" yaml:"negate,omitempty"`
}

// Readonly is either a fixed flag or a Predicate. The zero value means
// "not readonly" and the setting is always shown.
type Readonly struct {
	Fixed     bool
	Predicate *Predicate
}

// MarshalJSON encodes a fixed flag as a bool and a predicate as an object.
func (r Readonly) MarshalJSON() ([]byte, error) {
	if r.Predicate != nil {
		return json.Marshal(r.Predicate)
	}
	return json.Marshal(r.Fixed)
}

// UnmarshalJSON accepts a bool, null or a predicate object.
func (r *Readonly) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = Readonly{}
		return nil
	case len(data) > 0 && data[0] == '{':
		var p Predicate
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("invalid readonly predicate: %w", err)
		}
		*r = Readonly{Predicate: &p}
		return nil
	default:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("readonly must be a bool or predicate object: %w", err)
		}
		*r = Readonly{Fixed: b}
		return nil
	}
}

// MarshalYAML mirrors MarshalJSON.
func (r Readonly) MarshalYAML() (interface{}, error) {
	if r.Predicate != nil {
		return r.Predicate, nil
	}
	return r.Fixed, nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (r *Readonly) UnmarshalYAML(node *yaml.Node) error {
	switch {
	case node.Kind == yaml.MappingNode:
		var p Predicate
		if err := node.Decode(&p); err != nil {
			return fmt.Errorf("invalid readonly predicate: %w", err)
		}
		*r = Readonly{Predicate: &p}
		return nil
	case node.Kind == yaml.ScalarNode && node.Tag == "!!null":
		*r = Readonly{}
		return nil
	default:
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("readonly must be a bool or predicate object: %w", err)
		}
		*r = Readonly{Fixed: b}
		return nil
	}
}

// Setting is one configurable option.
type Setting struct {
	Name     string         `json:"name" yaml:"name"`
	Order    int            `json:"order,omitempty" yaml:"order,omitempty"`
	Values   map[int]string `json:"values" yaml:"values"`
	Current  int            `json:"current" yaml:"current"`
	Readonly Readonly       `json:"readonly" yaml:"readonly"`
	// Size, Length and Default are carried through untouched for the
	// definition source that encodes the tree back into an EEPROM image.
	Size    string          `json:"size,omitempty" yaml:"size,omitempty"`
	Length  int             `json:"length,omitempty" yaml:"length,omitempty"`
	Default json.RawMessage `json:"default,omitempty" yaml:"-"`
}

// Options returns the option keys in ascending order.
func (s Setting) Options() []int {
	keys := make([]int, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Tree is an ordered list of settings. An empty tree means the definition
// is missing, which is distinct from a tree whose settings are all hidden.
type Tree struct {
	Filename string    `json:"filename,omitempty" yaml:"filename,omitempty"`
	Type     string    `json:"type,omitempty" yaml:"type,omitempty"`
	Settings []Setting `json:"settings" yaml:"settings"`
}

// Collection groups the system and game trees for one game.
type Collection struct {
	Serial string `json:"serial" yaml:"serial"`
	System Tree   `json:"system" yaml:"system"`
	Game   Tree   `json:"game" yaml:"game"`
}

// Validate checks that every setting's current value is one of its options.
func (t Tree) Validate() error {
	for _, s := range t.Settings {
		if _, ok := s.Values[s.Current]; !ok {
			return fmt.Errorf("setting %q: current value %d is not an option", s.Name, s.Current)
		}
	}
	return nil
}

// SetCurrent changes the current value of the named setting.
func (t *Tree) SetCurrent(name string, value int) error {
	for i := range t.Settings {
		if !sameName(t.Settings[i].Name, name) {
			continue
		}
		if _, ok := t.Settings[i].Values[value]; !ok {
			return fmt.Errorf("setting %q: %d is not an option", t.Settings[i].Name, value)
		}
		t.Settings[i].Current = value
		return nil
	}
	return fmt.Errorf("setting %q not found", name)
}

// Validate checks both trees.
func (c Collection) Validate() error {
	if err := c.System.Validate(); err != nil {
		return fmt.Errorf("system: %w", err)
	}
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	return nil
}
