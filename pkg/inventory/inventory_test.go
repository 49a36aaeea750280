package inventory

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultCategories(t *testing.T) {
	inv := New("quiver")
	assert.Equal(t, append(append([]string{}, DefaultCategories...), "quiver"), inv.Categories())
	assert.Equal(t, 0, inv.Len())
}

func TestAddItem_CreatesCategory(t *testing.T) {
	inv := New()
	inv.AddItem("Dragon egg", "dragon")
	assert.True(t, inv.HasCategory("dragon"))
	assert.True(t, inv.Contains("Dragon egg", "dragon"))
}

func TestRemoveItem(t *testing.T) {
	tests := []struct {
		name     string
		item     string
		category string
		wantErr  error
	}{
		{name: "present", item: "Sword", category: "weapon"},
		{name: "missing category", item: "Sword", category: "spells", wantErr: ErrCategoryNotFound},
		{name: "missing item", item: "Axe", category: "weapon", wantErr: ErrItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := New()
			inv.AddItem("Sword", "weapon")
			err := inv.RemoveItem(tt.item, tt.category)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.False(t, inv.Contains("Sword", "weapon"))
		})
	}
}

func TestContains_UnknownCategory(t *testing.T) {
	inv := New()
	assert.False(t, inv.Contains("Sword", "nowhere"))
}

func TestMerge(t *testing.T) {
	base := New("quiver")
	gen := &Inventory{}
	gen.AddItem("Bow", "weapon")
	gen.AddItem("Arrows", "quiver")
	gen.AddItem("Map", "scrolls")

	base.Merge(gen)
	assert.Equal(t, []string{"Bow"}, base.Items("weapon"))
	assert.Equal(t, []string{"Arrows"}, base.Items("quiver"))
	assert.Equal(t, []string{"Map"}, base.Items("scrolls"))
	assert.Equal(t, 3, base.Len())
}

func TestJSON_PreservesOrder(t *testing.T) {
	var inv Inventory
	require.NoError(t, json.Unmarshal([]byte(`{"spells":["Fireball"],"weapon":"Staff","head":null}`), &inv))
	assert.Equal(t, []string{"spells", "weapon", "head"}, inv.Categories())
	assert.Equal(t, []string{"Staff"}, inv.Items("weapon"))

	data, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"spells":["Fireball"],"weapon":["Staff"],"head":[]}`, string(data))

	var back Inventory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, inv.Equal(&back))
	assert.Equal(t, inv.Categories(), back.Categories())
}

func TestUnmarshal_RejectsNonStringItems(t *testing.T) {
	var inv Inventory
	err := json.Unmarshal([]byte(`{"weapon":[{"name":"Sword"}]}`), &inv)
	require.Error(t, err)
}

func TestFromMap(t *testing.T) {
	inv := FromMap(map[string][]string{"weapon": {"Knife"}, "horse": {"Mare"}})
	assert.True(t, inv.Equal(FromMap(inv.ToMap())))
	assert.Equal(t, "horse", inv.Categories()[len(inv.Categories())-1])
}

func TestClone_IsIndependent(t *testing.T) {
	inv := New()
	inv.AddItem("Rope", "backpack")
	cp := inv.Clone()
	cp.AddItem("Torch", "backpack")
	assert.Equal(t, 1, inv.Len())
	assert.Equal(t, 2, cp.Len())
}
