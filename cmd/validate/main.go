package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/gamemaster/pkg/theme"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <themes.yaml>\n", os.Args[0])
		os.Exit(1)
	}

	filename := os.Args[1]
	validator := &ThemeValidator{}

	if err := validator.validateFile(filename); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Theme file is valid!")
}

type ThemeValidator struct {
	errors []string
}

func (v *ThemeValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	if !strings.HasSuffix(filename, ".yaml") && !strings.HasSuffix(filename, ".yml") {
		return fmt.Errorf("theme file must have .yaml extension: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return v.validate(filename, data)
}

func (v *ThemeValidator) validate(filename string, data []byte) error {
	v.errors = nil

	var raw []*theme.Theme
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("file %s failed strict YAML unmarshaling: %w", filename, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("file %s defines no themes", filename)
	}

	themes, err := theme.Load(data)
	if err != nil {
		return fmt.Errorf("file %s: %w", filename, err)
	}
	for _, t := range themes {
		v.validateTheme(t)
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *ThemeValidator) validateTheme(t *theme.Theme) {
	for _, f := range t.Fields {
		v.validateFieldName(t.Name, "field", f.Name)
		if f.FreeText() {
			continue
		}
		if len(f.Options) == 0 {
			v.addError(fmt.Sprintf("theme %s: field %s has an empty option list", t.Name, f.Name))
		}
		if dup := duplicate(f.Options); dup != "" {
			v.addError(fmt.Sprintf("theme %s: field %s lists %q twice", t.Name, f.Name, dup))
		}
	}

	for _, s := range t.Skills {
		if s != strings.ToUpper(s) {
			v.addError(fmt.Sprintf("theme %s: skill '%s' should be upper case", t.Name, s))
		}
	}
	if dup := duplicate(t.Skills); dup != "" {
		v.addError(fmt.Sprintf("theme %s: skill %q listed twice", t.Name, dup))
	}

	for _, c := range t.ExtraInventoryCategories {
		context := fmt.Sprintf("theme %s: extra inventory categories on %s", t.Name, c.Field)
		v.validateMatch(t, context, c.Field, c.Value)
		if len(c.Categories) == 0 {
			v.addError(context + " adds no categories")
		}
		for _, cat := range c.Categories {
			if !isValidID(cat) {
				v.addError(fmt.Sprintf("%s: category '%s' should be lowercase snake_case", context, cat))
			}
		}
	}

	for _, e := range t.ExtraFields {
		context := fmt.Sprintf("theme %s: extra field %s", t.Name, e.Name)
		if e.Name == "" {
			v.addError(fmt.Sprintf("theme %s: extra field on %s has no name", t.Name, e.Field))
			continue
		}
		if _, ok := t.Field(e.Name); ok {
			v.addError(context + " shadows a regular field")
		}
		v.validateMatch(t, context, e.Field, e.Value)
		if e.FieldValue.Options == nil && e.FieldValue.Hint == "" {
			v.addError(context + " has no extra_field_value")
		}
	}
}

// validateMatch checks that a selector names a choice field and only values
// the field offers.
func (v *ThemeValidator) validateMatch(t *theme.Theme, context, field string, m theme.Match) {
	f, ok := t.Field(field)
	if !ok {
		v.addError(fmt.Sprintf("%s: unknown field '%s'", context, field))
		return
	}
	if m.All {
		return
	}
	if len(m.Values) == 0 {
		v.addError(context + " matches no values")
		return
	}
	if f.FreeText() {
		v.addError(fmt.Sprintf("%s: field '%s' is free text and can only match ALL", context, field))
		return
	}
	for _, val := range m.Values {
		if !slices.Contains(f.Options, val) {
			v.addError(fmt.Sprintf("%s: '%s' is not an option of %s", context, val, field))
		}
	}
}

func (v *ThemeValidator) validateFieldName(themeName, kind, name string) {
	if !isValidID(name) {
		v.addError(fmt.Sprintf("theme %s: %s '%s' should be lowercase snake_case", themeName, kind, name))
	}
}

func (v *ThemeValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}

func duplicate(values []string) string {
	seen := make(map[string]bool, len(values))
	for _, val := range values {
		if seen[val] {
			return val
		}
		seen[val] = true
	}
	return ""
}
