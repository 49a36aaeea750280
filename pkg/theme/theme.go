// Package theme describes the game settings a character can be created in.
package theme

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/gamemaster/pkg/inventory"
)

// FreeText marks a field the player fills in without a list of options.
const FreeText = "freetext"

// DefaultSkills are used when a theme declares none.
var DefaultSkills = []string{"INT", "STR", "AGL", "LUCK", "CHR", "PER"}

var ErrThemeNotFound = errors.New("theme not found")

// Field is a character creation field. Options is nil for free text.
type Field struct {
	Name    string
	Options []string
}

func (f Field) FreeText() bool { return f.Options == nil }

// Fields keeps declaration order through YAML and JSON.
type Fields []Field

func (fs *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		f := Field{Name: node.Content[i].Value}
		val := node.Content[i+1]
		switch val.Kind {
		case yaml.SequenceNode:
			if err := val.Decode(&f.Options); err != nil {
				return err
			}
		case yaml.ScalarNode:
			if val.Value != FreeText {
				return fmt.Errorf("line %d: field %s must be a list or %q", val.Line, f.Name, FreeText)
			}
		default:
			return fmt.Errorf("line %d: unsupported value for field %s", val.Line, f.Name)
		}
		*fs = append(*fs, f)
	}
	return nil
}

func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(f.Name)
		var v []byte
		var err error
		if f.FreeText() {
			v, err = json.Marshal(FreeText)
		} else {
			v, err = json.Marshal(f.Options)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object written by MarshalJSON, keeping key order.
func (fs *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return fmt.Errorf("fields must be an object")
	}
	*fs = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		f := Field{Name: tok.(string)}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil || text != FreeText {
			if err := json.Unmarshal(raw, &f.Options); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		*fs = append(*fs, f)
	}
	return nil
}

// Match selects field values. All matches every value.
type Match struct {
	All    bool
	Values []string
}

func (m *Match) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value != "ALL" {
			return fmt.Errorf("line %d: value must be a list or ALL", node.Line)
		}
		m.All = true
		return nil
	}
	return node.Decode(&m.Values)
}

func (m Match) MarshalJSON() ([]byte, error) {
	if m.All {
		return json.Marshal("ALL")
	}
	return json.Marshal(m.Values)
}

func (m Match) matches(v string, ok bool) bool {
	if m.All {
		return true
	}
	return ok && slices.Contains(m.Values, v)
}

// ExtraCategory adds inventory categories for matching characters.
type ExtraCategory struct {
	Field      string   `yaml:"field" json:"field"`
	Value      Match    `yaml:"value" json:"value"`
	Categories []string `yaml:"categories" json:"categories"`
}

// ExtraField adds a background field for matching characters. A free text
// value asks the player, a list lets the player choose, any other text is a
// hint for the generator.
type ExtraField struct {
	Field      string          `yaml:"field" json:"field"`
	Value      Match           `yaml:"value" json:"value"`
	Name       string          `yaml:"extra_field" json:"extra_field"`
	FieldValue ExtraFieldValue `yaml:"extra_field_value" json:"extra_field_value"`
}

type ExtraFieldValue struct {
	Hint    string
	Options []string
}

func (v *ExtraFieldValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		return node.Decode(&v.Options)
	}
	return node.Decode(&v.Hint)
}

func (v ExtraFieldValue) MarshalJSON() ([]byte, error) {
	if v.Options != nil {
		return json.Marshal(v.Options)
	}
	return json.Marshal(v.Hint)
}

// Generated reports whether the backstory generator fills the field.
func (e ExtraField) Generated() bool {
	return e.FieldValue.Options == nil && e.FieldValue.Hint != FreeText
}

// Theme is a setting with its creation fields, skills and extras.
type Theme struct {
	Name                     string          `yaml:"name" json:"name"`
	Fields                   Fields          `yaml:"fields" json:"fields"`
	Skills                   []string        `yaml:"skills" json:"skills"`
	ExtraInventoryCategories []ExtraCategory `yaml:"extra_inventory_categories" json:"extra_inventory_categories"`
	ExtraFields              []ExtraField    `yaml:"extra_fields" json:"extra_fields"`
}

// normalize prepends the base fields and applies default skills.
func (t *Theme) normalize() error {
	if t.Name == "" {
		return errors.New("theme without a name")
	}
	if len(t.Skills) > 0 && len(t.Skills) < 3 {
		return fmt.Errorf("theme %s must have at least 3 skills", t.Name)
	}
	if len(t.Skills) == 0 {
		t.Skills = slices.Clone(DefaultSkills)
	}
	base := Fields{
		{Name: "gender", Options: []string{"Male", "Female", "Other"}},
		{Name: "details"},
	}
	for _, f := range t.Fields {
		if idx := slices.IndexFunc(base, func(b Field) bool { return b.Name == f.Name }); idx >= 0 {
			base[idx] = f
			continue
		}
		base = append(base, f)
	}
	t.Fields = base
	return nil
}

// Field returns the named field.
func (t *Theme) Field(name string) (Field, bool) {
	idx := slices.IndexFunc(t.Fields, func(f Field) bool { return f.Name == name })
	if idx < 0 {
		return Field{}, false
	}
	return t.Fields[idx], true
}

func (t *Theme) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}

// GeneratedExtraFields returns the extra fields the backstory generator fills
// for the given choices.
func (t *Theme) GeneratedExtraFields(choices map[string]string) []ExtraField {
	var out []ExtraField
	for _, ef := range t.matchingExtraFields(choices) {
		if ef.Generated() {
			out = append(out, ef)
		}
	}
	return out
}

// RequiredExtraFields returns the extra fields the player must supply.
func (t *Theme) RequiredExtraFields(choices map[string]string) []ExtraField {
	var out []ExtraField
	for _, ef := range t.matchingExtraFields(choices) {
		if !ef.Generated() {
			out = append(out, ef)
		}
	}
	return out
}

// RequiredFields lists the base fields plus the player supplied extras.
func (t *Theme) RequiredFields(choices map[string]string) []string {
	names := t.FieldNames()
	for _, ef := range t.RequiredExtraFields(choices) {
		names = append(names, ef.Name)
	}
	return names
}

func (t *Theme) matchingExtraFields(choices map[string]string) []ExtraField {
	var out []ExtraField
	for _, ef := range t.ExtraFields {
		v, ok := choices[ef.Field]
		if ef.Value.matches(v, ok) {
			out = append(out, ef)
		}
	}
	return out
}

// ValidateChoice checks a value against a field's options.
func (t *Theme) ValidateChoice(field, value string) error {
	if f, ok := t.Field(field); ok {
		if !f.FreeText() && !slices.Contains(f.Options, value) {
			return fmt.Errorf("invalid %s: %s", field, value)
		}
		return nil
	}
	for _, ef := range t.ExtraFields {
		if ef.Name == field && ef.FieldValue.Options != nil && !slices.Contains(ef.FieldValue.Options, value) {
			return fmt.Errorf("invalid %s: %s", field, value)
		}
	}
	return nil
}

// EmptyInventory returns the default categories plus the extras matching the
// choices.
func (t *Theme) EmptyInventory(choices map[string]string) *inventory.Inventory {
	var extra []string
	for _, ec := range t.ExtraInventoryCategories {
		v, ok := choices[ec.Field]
		if !ec.Value.matches(v, ok) {
			continue
		}
		for _, c := range ec.Categories {
			if !slices.Contains(extra, c) {
				extra = append(extra, c)
			}
		}
	}
	return inventory.New(extra...)
}

//go:embed themes.yaml
var builtin []byte

// Load parses a list of themes.
func Load(data []byte) ([]*Theme, error) {
	var themes []*Theme
	if err := yaml.Unmarshal(data, &themes); err != nil {
		return nil, fmt.Errorf("failed to parse themes: %w", err)
	}
	seen := map[string]bool{}
	for _, t := range themes {
		if err := t.normalize(); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate theme %s", t.Name)
		}
		seen[t.Name] = true
	}
	return themes, nil
}

var catalog = sync.OnceValues(func() ([]*Theme, error) {
	return Load(builtin)
})

// All returns the built-in themes.
func All() []*Theme {
	themes, err := catalog()
	if err != nil {
		panic(fmt.Sprintf("built-in themes are invalid: %v", err))
	}
	return themes
}

// Get returns the built-in theme with the given name.
func Get(name string) (*Theme, error) {
	for _, t := range All() {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrThemeNotFound, name)
}

// Summary is the theme as offered to clients.
type Summary struct {
	Fields                   Fields          `json:"fields"`
	Skills                   []string        `json:"skills"`
	ExtraInventoryCategories []ExtraCategory `json:"extra_inventory_categories,omitempty"`
	ExtraFields              []ExtraField    `json:"extra_fields,omitempty"`
}

// Summaries maps every built-in theme name to its summary.
func Summaries() map[string]Summary {
	out := map[string]Summary{}
	for _, t := range All() {
		out[t.Name] = Summary{
			Fields:                   t.Fields,
			Skills:                   t.Skills,
			ExtraInventoryCategories: t.ExtraInventoryCategories,
			ExtraFields:              t.ExtraFields,
		}
	}
	return out
}
