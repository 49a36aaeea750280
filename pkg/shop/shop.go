// Package shop holds the merchant offer available between adventures.
package shop

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Status string

const (
	StatusClosed     Status = "closed"
	StatusGenerating Status = "generating"
	StatusOpen       Status = "open"
)

var (
	ErrNotInShop = errors.New("item not in shop")
	ErrNotWanted = errors.New("item not wanted")
)

// Messages used when the location has no merchant.
const (
	problemPrompt         = "Foggy weather, can't see anything!"
	problemDescription    = "No shopkeeper available"
	problemRecommendation = "No available shops at location!"
)

// Item is a priced entry. It is persisted as a two element array
// [category, price].
type Item struct {
	Category string
	Price    int
}

func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{i.Category, i.Price})
}

func (i *Item) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("shop item: expected [category, price], got %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &i.Category); err != nil {
			return fmt.Errorf("shop item category: %w", err)
		}
		var price float64
		if err := json.Unmarshal(pair[1], &price); err != nil {
			return fmt.Errorf("shop item price: %w", err)
		}
		i.Price = int(price)
		return nil
	}
	var obj struct {
		Category string  `json:"category"`
		Price    float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("shop item: %w", err)
	}
	i.Category, i.Price = obj.Category, int(obj.Price)
	return nil
}

// Stock is the generated offer used to open a shop.
type Stock struct {
	Problem                  string          `json:"problem,omitempty"`
	SoldItems                map[string]Item `json:"sold_items"`
	BuyItems                 map[string]Item `json:"buy_items"`
	Prompt                   string          `json:"prompt"`
	ShopkeeperDescription    string          `json:"shopkeeper_description"`
	ShopkeeperRecommendation string          `json:"shopkeeper_recommendation"`
}

// Validate checks a generated stock before it is applied.
func (s *Stock) Validate() error {
	if s.Problem != "" {
		return nil
	}
	if s.SoldItems == nil && s.BuyItems == nil {
		return errors.New("stock has no items")
	}
	for name, it := range s.SoldItems {
		if err := validateItem(name, it); err != nil {
			return err
		}
	}
	for name, it := range s.BuyItems {
		if err := validateItem(name, it); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(name string, it Item) error {
	if name == "" {
		return errors.New("stock item without a name")
	}
	if it.Category == "" {
		return fmt.Errorf("stock item %q has no category", name)
	}
	if it.Price < 0 {
		return fmt.Errorf("stock item %q has a negative price", name)
	}
	return nil
}

// Shop is the persisted merchant state of a save.
type Shop struct {
	Status                   Status          `json:"status"`
	SoldItems                map[string]Item `json:"sold_items,omitempty"`
	BuyItems                 map[string]Item `json:"buy_items,omitempty"`
	Prompt                   string          `json:"prompt,omitempty"`
	ShopkeeperDescription    string          `json:"shopkeeper_description,omitempty"`
	ShopkeeperRecommendation string          `json:"shopkeeper_recommendation,omitempty"`
}

// New returns a closed shop.
func New() *Shop {
	return &Shop{Status: StatusClosed}
}

// Close empties the shop.
func (s *Shop) Close() {
	*s = Shop{Status: StatusClosed}
}

// Generating marks the shop as being stocked in the background.
func (s *Shop) Generating() {
	s.Status = StatusGenerating
}

// Stock opens the shop with the given offer. A stock reporting a problem
// opens an empty shop with a fixed notice.
func (s *Shop) Stock(st *Stock) {
	if st.Problem != "" {
		*s = Shop{
			Status:                   StatusOpen,
			SoldItems:                map[string]Item{},
			BuyItems:                 map[string]Item{},
			Prompt:                   problemPrompt,
			ShopkeeperDescription:    problemDescription,
			ShopkeeperRecommendation: problemRecommendation,
		}
		return
	}
	*s = Shop{
		Status:                   StatusOpen,
		SoldItems:                cloneItems(st.SoldItems),
		BuyItems:                 cloneItems(st.BuyItems),
		Prompt:                   st.Prompt,
		ShopkeeperDescription:    st.ShopkeeperDescription,
		ShopkeeperRecommendation: st.ShopkeeperRecommendation,
	}
}

// SoldItem looks up an item the shop sells.
func (s *Shop) SoldItem(name string) (Item, error) {
	it, ok := s.SoldItems[name]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotInShop, name)
	}
	return it, nil
}

// BuyItem looks up an item the shop is willing to buy.
func (s *Shop) BuyItem(name string) (Item, error) {
	it, ok := s.BuyItems[name]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotWanted, name)
	}
	return it, nil
}

// ItemSold moves an item the player bought to the buy list at half price.
func (s *Shop) ItemSold(name string) error {
	it, err := s.SoldItem(name)
	if err != nil {
		return err
	}
	delete(s.SoldItems, name)
	if s.BuyItems == nil {
		s.BuyItems = map[string]Item{}
	}
	s.BuyItems[name] = Item{Category: it.Category, Price: int(float64(it.Price) * 0.5)}
	return nil
}

// ItemBought moves an item the player sold to the sell list at double price.
func (s *Shop) ItemBought(name string) error {
	it, err := s.BuyItem(name)
	if err != nil {
		return err
	}
	delete(s.BuyItems, name)
	if s.SoldItems == nil {
		s.SoldItems = map[string]Item{}
	}
	s.SoldItems[name] = Item{Category: it.Category, Price: it.Price * 2}
	return nil
}

// Snapshot is the player-visible view. It is empty unless the shop is open.
type Snapshot struct {
	SoldItems                map[string]Item `json:"sold_items,omitempty"`
	BuyItems                 map[string]Item `json:"buy_items,omitempty"`
	Prompt                   string          `json:"prompt,omitempty"`
	ShopkeeperDescription    string          `json:"shopkeeper_description,omitempty"`
	ShopkeeperRecommendation string          `json:"shopkeeper_recommendation,omitempty"`
	Image                    string          `json:"image,omitempty"`
}

func (s *Shop) Snapshot() Snapshot {
	if s == nil || s.Status != StatusOpen {
		return Snapshot{}
	}
	return Snapshot{
		SoldItems:                nonNil(cloneItems(s.SoldItems)),
		BuyItems:                 nonNil(cloneItems(s.BuyItems)),
		Prompt:                   s.Prompt,
		ShopkeeperDescription:    s.ShopkeeperDescription,
		ShopkeeperRecommendation: s.ShopkeeperRecommendation,
	}
}

func cloneItems(m map[string]Item) map[string]Item {
	if m == nil {
		return nil
	}
	out := make(map[string]Item, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonNil(m map[string]Item) map[string]Item {
	if m == nil {
		return map[string]Item{}
	}
	return m
}
