package shop

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStock() *Stock {
	return &Stock{
		SoldItems: map[string]Item{
			"Iron Sword": {Category: "weapon", Price: 40},
			"Cloak":      {Category: "body", Price: 15},
		},
		BuyItems: map[string]Item{
			"Wolf Pelt": {Category: "backpack", Price: 10},
		},
		Prompt:                   "A cramped stall",
		ShopkeeperDescription:    "A one-eyed dwarf",
		ShopkeeperRecommendation: "Take the sword.",
	}
}

func TestNew_IsClosed(t *testing.T) {
	s := New()
	assert.Equal(t, StatusClosed, s.Status)
	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestStock_Opens(t *testing.T) {
	s := New()
	s.Stock(testStock())
	assert.Equal(t, StatusOpen, s.Status)
	it, err := s.SoldItem("Iron Sword")
	require.NoError(t, err)
	assert.Equal(t, Item{Category: "weapon", Price: 40}, it)
}

func TestStock_Problem(t *testing.T) {
	s := New()
	s.Stock(&Stock{Problem: "no merchants here"})
	assert.Equal(t, StatusOpen, s.Status)
	assert.Empty(t, s.SoldItems)
	assert.Empty(t, s.BuyItems)
	assert.Equal(t, "Foggy weather, can't see anything!", s.Prompt)
	assert.Equal(t, "No shopkeeper available", s.ShopkeeperDescription)
	assert.Equal(t, "No available shops at location!", s.ShopkeeperRecommendation)
}

func TestLookups(t *testing.T) {
	s := New()
	s.Stock(testStock())

	_, err := s.SoldItem("Crown")
	assert.True(t, errors.Is(err, ErrNotInShop))

	_, err = s.BuyItem("Crown")
	assert.True(t, errors.Is(err, ErrNotWanted))
}

func TestItemSold_MovesAtHalfPrice(t *testing.T) {
	s := New()
	s.Stock(testStock())
	require.NoError(t, s.ItemSold("Cloak"))

	_, err := s.SoldItem("Cloak")
	assert.Error(t, err)
	it, err := s.BuyItem("Cloak")
	require.NoError(t, err)
	assert.Equal(t, 7, it.Price)
	assert.Equal(t, "body", it.Category)
}

func TestItemBought_MovesAtDoublePrice(t *testing.T) {
	s := New()
	s.Stock(testStock())
	require.NoError(t, s.ItemBought("Wolf Pelt"))

	it, err := s.SoldItem("Wolf Pelt")
	require.NoError(t, err)
	assert.Equal(t, 20, it.Price)
	_, err = s.BuyItem("Wolf Pelt")
	assert.Error(t, err)
}

func TestClose_ClearsOffer(t *testing.T) {
	s := New()
	s.Stock(testStock())
	s.Close()
	assert.Equal(t, StatusClosed, s.Status)
	assert.Empty(t, s.SoldItems)
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestItem_PairEncoding(t *testing.T) {
	data, err := json.Marshal(Item{Category: "ring", Price: 12})
	require.NoError(t, err)
	assert.JSONEq(t, `["ring", 12]`, string(data))

	var it Item
	require.NoError(t, json.Unmarshal([]byte(`["neck", 9.0]`), &it))
	assert.Equal(t, Item{Category: "neck", Price: 9}, it)

	require.NoError(t, json.Unmarshal([]byte(`{"category":"feet","price":3}`), &it))
	assert.Equal(t, Item{Category: "feet", Price: 3}, it)

	assert.Error(t, json.Unmarshal([]byte(`["neck"]`), &it))
}

func TestStockValidate(t *testing.T) {
	assert.NoError(t, testStock().Validate())
	assert.NoError(t, (&Stock{Problem: "fog"}).Validate())
	assert.Error(t, (&Stock{}).Validate())

	bad := testStock()
	bad.SoldItems["Broken"] = Item{Category: "", Price: 3}
	assert.Error(t, bad.Validate())

	neg := testStock()
	neg.BuyItems["Debt"] = Item{Category: "backpack", Price: -1}
	assert.Error(t, neg.Validate())
}
