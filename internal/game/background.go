package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/gamemaster/internal/services/events"
	"github.com/jwebster45206/gamemaster/internal/storage"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/shop"
)

// Notifier keys for background work. '#' never passes the input guard, so
// they cannot clash with an action.
const (
	keyShop  = "#shop"
	keyQuest = "#quest"
)

func shopPending(s *savedata.SaveData) bool  { return s.Shop.Status == shop.StatusGenerating }
func questPending(s *savedata.SaveData) bool { return s.QuestPending }

// waitFor loads the save, blocking while pending reports background work on
// it. After the wait timeout the save is returned as it is and the caller
// does the work itself.
func (g *Game) waitFor(ctx context.Context, user, saveID, key string, pending func(*savedata.SaveData) bool) (*savedata.SaveData, error) {
	deadline := time.NewTimer(g.waitTimeout)
	defer deadline.Stop()
	for {
		resolved, unsubscribe, err := g.notifier.Subscribe(ctx, user, saveID, key)
		if err != nil {
			g.logger.Warn("Cannot wait for background work", "user", user, "save", saveID, "key", key, "error", err)
			return g.load(ctx, user, saveID)
		}
		s, err := g.load(ctx, user, saveID)
		if err != nil || !pending(s) {
			unsubscribe()
			return s, err
		}
		select {
		case <-resolved:
			unsubscribe()
		case <-deadline.C:
			unsubscribe()
			g.logger.Warn("Timed out waiting for background work", "user", user, "save", saveID, "key", key)
			return s, nil
		case <-ctx.Done():
			unsubscribe()
			return nil, ctx.Err()
		}
	}
}

// startBackground marks the shop and the next quest as pending and
// generates both off the request.
func (g *Game) startBackground(ctx context.Context, user, saveID string, image bool) error {
	s, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if s.HasStory() {
			return errors.New("story running")
		}
		s.Shop.Generating()
		s.QuestPending = true
		return nil
	})
	if err != nil {
		return err
	}
	g.pool.Go(ctx, "shop and quest", func(ctx context.Context) error {
		return g.background(ctx, user, saveID, s, image)
	})
	return nil
}

func (g *Game) background(ctx context.Context, user, saveID string, s *savedata.SaveData, image bool) error {
	var (
		stock *shop.Stock
		q     *quest.Quest
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		st, err := g.generateShop(egCtx, user, saveID, s, image)
		if err != nil {
			g.logger.Error("Shop generation failed", "user", user, "save", saveID, "error", err)
			return nil
		}
		stock = st
		return nil
	})
	eg.Go(func() error {
		p, err := g.generateQuest(egCtx, s)
		if err != nil {
			g.logger.Error("Quest generation failed", "user", user, "save", saveID, "error", err)
			return nil
		}
		q = p
		return nil
	})
	_ = eg.Wait()

	_, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		if shopPending(s) {
			if stock != nil && !s.HasStory() {
				s.Shop.Stock(stock)
			} else {
				s.Shop.Close()
			}
		}
		if s.QuestPending {
			if q != nil && !s.Quest.IsActive() {
				s.Quest = q
			}
			s.QuestPending = false
		}
		return nil
	})
	// Waiters reload the save, so they are released even if the write failed.
	g.notify(ctx, user, saveID, keyShop)
	g.notify(ctx, user, saveID, keyQuest)
	if err != nil {
		return fmt.Errorf("failed to store background results: %w", err)
	}
	if stock != nil {
		g.publish(ctx, events.EventTypeShopReady, user, saveID, nil)
	}
	if q != nil {
		g.publish(ctx, events.EventTypeQuestReady, user, saveID, map[string]any{"title": q.Title})
	}
	return nil
}

func (g *Game) notify(ctx context.Context, user, saveID, key string) {
	if err := g.notifier.Notify(ctx, user, saveID, key); err != nil {
		g.logger.Warn("Failed to notify waiters", "user", user, "save", saveID, "key", key, "error", err)
	}
}

// generateShop asks for a stock and, when image is set, renders the shop.
func (g *Game) generateShop(ctx context.Context, user, saveID string, s *savedata.SaveData, image bool) (*shop.Stock, error) {
	var st *shop.Stock
	err := g.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = g.gm.Shop(ctx, s)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate shop: %w", err)
	}
	if image && st.Problem == "" {
		g.generateImage(ctx, user, saveID, storage.ImageShop, st.Prompt)
	}
	return st, nil
}

// GetShop returns the open shop, stocking it first if it is closed.
func (g *Game) GetShop(ctx context.Context, user, saveID string, image bool) (*shop.Snapshot, error) {
	s, err := g.waitFor(ctx, user, saveID, keyShop, shopPending)
	if err != nil {
		return nil, err
	}
	if s.HasStory() {
		return nil, ErrStoryRunning
	}
	if s.Shop.Status != shop.StatusOpen {
		st, err := g.generateShop(ctx, user, saveID, s, image)
		if err != nil {
			return nil, err
		}
		s, err = g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
			if s.HasStory() {
				return ErrStoryRunning
			}
			s.Shop.Stock(st)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	snap := s.Shop.Snapshot()
	if image {
		snap.Image = g.store.GetSaveImage(ctx, user, saveID, storage.ImageShop)
	}
	return &snap, nil
}

// BuyItem buys item from the shop.
func (g *Game) BuyItem(ctx context.Context, user, saveID, item string) error {
	_, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		it, err := s.Shop.SoldItem(item)
		if err != nil {
			return customf("Item not in shop.")
		}
		if s.Coins < it.Price {
			return customf("Not enough coins.")
		}
		if s.Inventory.Contains(item, it.Category) {
			return customf("Item already owned.")
		}
		s.Inventory.AddItem(item, it.Category)
		s.Coins -= it.Price
		return s.Shop.ItemSold(item)
	})
	if err == nil {
		g.logger.Info("Item bought", "user", user, "save", saveID, "item", item)
	}
	return err
}

// SellItem sells item to the shop.
func (g *Game) SellItem(ctx context.Context, user, saveID, item string) error {
	_, err := g.mutate(ctx, user, saveID, func(s *savedata.SaveData) error {
		it, err := s.Shop.BuyItem(item)
		if err != nil {
			return customf("I don't want this item.")
		}
		if !s.Inventory.Contains(item, it.Category) {
			return customf("Item not owned.")
		}
		if err := s.Inventory.RemoveItem(item, it.Category); err != nil {
			return err
		}
		s.Coins += it.Price
		return s.Shop.ItemBought(item)
	})
	if err == nil {
		g.logger.Info("Item sold", "user", user, "save", saveID, "item", item)
	}
	return err
}
