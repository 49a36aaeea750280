// Package inventory models a character's items grouped by equipment slot.
package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// DefaultCategories are present in every inventory, in display order.
var DefaultCategories = []string{"weapon", "head", "body", "feet", "neck", "ring", "backpack"}

var (
	ErrCategoryNotFound = errors.New("category not in inventory")
	ErrItemNotFound     = errors.New("item not in category")
)

// Inventory maps category names to ordered item lists. Category order is
// preserved through JSON round trips. The zero value is empty and usable.
type Inventory struct {
	order []string
	items map[string][]string
}

// New returns an inventory holding the default categories plus any extra ones.
func New(extra ...string) *Inventory {
	inv := &Inventory{}
	for _, c := range DefaultCategories {
		inv.AddCategory(c)
	}
	for _, c := range extra {
		inv.AddCategory(c)
	}
	return inv
}

// FromMap builds an inventory from a plain mapping. Default categories come
// first, remaining categories follow in sorted order.
func FromMap(m map[string][]string) *Inventory {
	inv := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		inv.AddItems(m[k], k)
	}
	return inv
}

// AddCategory creates an empty category if it does not exist yet.
func (inv *Inventory) AddCategory(category string) {
	if inv.items == nil {
		inv.items = make(map[string][]string)
	}
	if _, ok := inv.items[category]; ok {
		return
	}
	inv.items[category] = []string{}
	inv.order = append(inv.order, category)
}

// HasCategory reports whether category exists.
func (inv *Inventory) HasCategory(category string) bool {
	_, ok := inv.items[category]
	return ok
}

// Categories returns category names in order.
func (inv *Inventory) Categories() []string {
	return slices.Clone(inv.order)
}

// Items returns a copy of the items in category.
func (inv *Inventory) Items(category string) []string {
	return slices.Clone(inv.items[category])
}

// AddItem appends item to category, creating the category when needed.
func (inv *Inventory) AddItem(item, category string) {
	inv.AddCategory(category)
	inv.items[category] = append(inv.items[category], item)
}

func (inv *Inventory) AddItems(items []string, category string) {
	inv.AddCategory(category)
	for _, item := range items {
		inv.AddItem(item, category)
	}
}

// RemoveItem removes the first occurrence of item from category.
func (inv *Inventory) RemoveItem(item, category string) error {
	list, ok := inv.items[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, category)
	}
	idx := slices.Index(list, item)
	if idx < 0 {
		return fmt.Errorf("%w: %s in %s", ErrItemNotFound, item, category)
	}
	inv.items[category] = slices.Delete(list, idx, idx+1)
	return nil
}

// Contains reports whether item is in category. Unknown categories hold nothing.
func (inv *Inventory) Contains(item, category string) bool {
	return slices.Contains(inv.items[category], item)
}

// Merge adds every item of other, category by category.
func (inv *Inventory) Merge(other *Inventory) {
	if other == nil {
		return
	}
	for _, c := range other.order {
		inv.AddItems(other.items[c], c)
	}
}

// Len returns the total number of items.
func (inv *Inventory) Len() int {
	n := 0
	for _, list := range inv.items {
		n += len(list)
	}
	return n
}

// ToMap returns a deep copy as a plain mapping.
func (inv *Inventory) ToMap() map[string][]string {
	out := make(map[string][]string, len(inv.items))
	for k, v := range inv.items {
		out[k] = slices.Clone(v)
	}
	return out
}

// Clone returns a deep copy.
func (inv *Inventory) Clone() *Inventory {
	out := &Inventory{}
	for _, c := range inv.order {
		out.AddItems(inv.items[c], c)
	}
	return out
}

// Equal compares categories and item sequences, ignoring category order.
func (inv *Inventory) Equal(other *Inventory) bool {
	if other == nil || len(inv.items) != len(other.items) {
		return false
	}
	for k, v := range inv.items {
		ov, ok := other.items[k]
		if !ok || !slices.Equal(v, ov) {
			return false
		}
	}
	return true
}

func (inv Inventory) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range inv.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		items := inv.items[c]
		if items == nil {
			items = []string{}
		}
		val, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the document's category order. A category value may be
// a list, a single string or null.
func (inv *Inventory) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*inv = Inventory{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("inventory: expected object, got %v", tok)
	}
	out := Inventory{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("inventory: unexpected key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		items, err := decodeItems(raw)
		if err != nil {
			return fmt.Errorf("inventory category %q: %w", key, err)
		}
		out.AddItems(items, key)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*inv = out
	return nil
}

func decodeItems(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, errors.New("items must be a list of strings")
	}
	if single == "" {
		return nil, nil
	}
	return []string{single}, nil
}
