package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jwebster45206/gamemaster/internal/export"
	"github.com/jwebster45206/gamemaster/internal/game"
	"github.com/jwebster45206/gamemaster/internal/storage"
	"github.com/jwebster45206/gamemaster/pkg/actor"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/shop"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

// Game is the API the handlers expose.
type Game interface {
	SystemStartup(ctx context.Context) []string
	Themes() map[string]theme.Summary
	SavesList(ctx context.Context, user string) ([]game.SaveSummary, error)
	NewSave(ctx context.Context, user, themeName string, background map[string]any, image bool) (string, error)
	FetchSave(ctx context.Context, user, saveID string) (map[string]json.RawMessage, error)
	LoadSave(ctx context.Context, user, saveID string, image bool) (map[string]json.RawMessage, error)
	DeleteSave(ctx context.Context, user, saveID string) error
	GetQuest(ctx context.Context, user, saveID string, regen bool) (*quest.Quest, error)
	NewStory(ctx context.Context, user, saveID, goal string) error
	AdvanceStory(ctx context.Context, user, saveID, action string, image bool) (savedata.Outcome, error)
	CreateOption(ctx context.Context, user, saveID, action string) (string, error)
	EndGame(ctx context.Context, user, saveID string, image bool) error
	SpendActionPoint(ctx context.Context, user, saveID, skill string) error
	GetShop(ctx context.Context, user, saveID string, image bool) (*shop.Snapshot, error)
	BuyItem(ctx context.Context, user, saveID, item string) error
	SellItem(ctx context.Context, user, saveID, item string) error
	GetImage(ctx context.Context, user, saveID, category string) (string, error)
	Sheet(ctx context.Context, user, saveID string) (*actor.Sheet, error)
	Save(ctx context.Context, user, saveID string) (*savedata.SaveData, error)
}

var _ Game = (*game.Game)(nil)

type GameHandler struct {
	game Game
	responder
}

func NewGameHandler(g Game, logger *slog.Logger, debug bool) *GameHandler {
	return &GameHandler{game: g, responder: responder{logger: logger, debug: debug}}
}

// Register adds the game routes to mux.
func (h *GameHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/system/startup", h.startup)
	mux.HandleFunc("GET /v1/themes", h.themes)
	mux.HandleFunc("GET /v1/saves", h.user(h.listSaves))
	mux.HandleFunc("POST /v1/saves", h.user(h.newSave))
	mux.HandleFunc("GET /v1/saves/{save}", h.save(h.fetchSave))
	mux.HandleFunc("POST /v1/saves/{save}/load", h.save(h.loadSave))
	mux.HandleFunc("DELETE /v1/saves/{save}", h.save(h.deleteSave))
	mux.HandleFunc("GET /v1/saves/{save}/quest", h.save(h.getQuest))
	mux.HandleFunc("POST /v1/saves/{save}/story", h.save(h.newStory))
	mux.HandleFunc("POST /v1/saves/{save}/story/advance", h.save(h.advanceStory))
	mux.HandleFunc("POST /v1/saves/{save}/story/options", h.save(h.createOption))
	mux.HandleFunc("POST /v1/saves/{save}/story/end", h.save(h.endGame))
	mux.HandleFunc("POST /v1/saves/{save}/skills", h.save(h.spendActionPoint))
	mux.HandleFunc("GET /v1/saves/{save}/shop", h.save(h.getShop))
	mux.HandleFunc("POST /v1/saves/{save}/shop/buy", h.save(h.buyItem))
	mux.HandleFunc("POST /v1/saves/{save}/shop/sell", h.save(h.sellItem))
	mux.HandleFunc("GET /v1/saves/{save}/images/{category}", h.save(h.getImage))
	mux.HandleFunc("GET /v1/saves/{save}/sheet", h.save(h.sheet))
	mux.HandleFunc("GET /v1/saves/{save}/export.pdf", h.save(h.exportPDF))
}

type userHandler func(w http.ResponseWriter, r *http.Request, user string)

type saveHandler func(w http.ResponseWriter, r *http.Request, user, saveID string)

func (h *GameHandler) user(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UsernameHeader)
		if user == "" {
			h.badRequest(w, "Missing username.")
			return
		}
		next(w, r, user)
	}
}

func (h *GameHandler) save(next saveHandler) http.HandlerFunc {
	return h.user(func(w http.ResponseWriter, r *http.Request, user string) {
		saveID := r.PathValue("save")
		if saveID == "" {
			h.badRequest(w, "Missing save name.")
			return
		}
		next(w, r, user, saveID)
	})
}

// body decodes a request body, answering 400 itself when it is invalid.
func (h *GameHandler) body(w http.ResponseWriter, r *http.Request, v Validator) bool {
	if err := decode(r, v); err != nil {
		h.badRequest(w, err.Error())
		return false
	}
	return true
}

func flag(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func (h *GameHandler) startup(w http.ResponseWriter, r *http.Request) {
	h.success(w, h.game.SystemStartup(r.Context()))
}

func (h *GameHandler) themes(w http.ResponseWriter, _ *http.Request) {
	h.success(w, h.game.Themes())
}

func (h *GameHandler) listSaves(w http.ResponseWriter, r *http.Request, user string) {
	saves, err := h.game.SavesList(r.Context(), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, saves)
}

func (h *GameHandler) newSave(w http.ResponseWriter, r *http.Request, user string) {
	var req NewSaveRequest
	if !h.body(w, r, &req) {
		return
	}
	name, err := h.game.NewSave(r.Context(), user, req.Theme, req.Background, req.Image)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, name)
}

func (h *GameHandler) fetchSave(w http.ResponseWriter, r *http.Request, user, saveID string) {
	view, err := h.game.FetchSave(r.Context(), user, saveID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, view)
}

func (h *GameHandler) loadSave(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req ImageRequest
	if !h.body(w, r, &req) {
		return
	}
	view, err := h.game.LoadSave(r.Context(), user, saveID, req.Image)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, view)
}

func (h *GameHandler) deleteSave(w http.ResponseWriter, r *http.Request, user, saveID string) {
	if err := h.game.DeleteSave(r.Context(), user, saveID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, nil)
}

func (h *GameHandler) getQuest(w http.ResponseWriter, r *http.Request, user, saveID string) {
	q, err := h.game.GetQuest(r.Context(), user, saveID, flag(r, "regen"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, q)
}

func (h *GameHandler) newStory(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req NewStoryRequest
	if !h.body(w, r, &req) {
		return
	}
	if err := h.game.NewStory(r.Context(), user, saveID, req.Goal); err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, nil)
}

func (h *GameHandler) advanceStory(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req ActionRequest
	if !h.body(w, r, &req) {
		return
	}
	outcome, err := h.game.AdvanceStory(r.Context(), user, saveID, req.Action, req.Image)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, outcome)
}

func (h *GameHandler) createOption(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req ActionRequest
	if !h.body(w, r, &req) {
		return
	}
	msg, err := h.game.CreateOption(r.Context(), user, saveID, req.Action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, msg)
}

func (h *GameHandler) endGame(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req ImageRequest
	if !h.body(w, r, &req) {
		return
	}
	if err := h.game.EndGame(r.Context(), user, saveID, req.Image); err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, nil)
}

func (h *GameHandler) spendActionPoint(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req SkillRequest
	if !h.body(w, r, &req) {
		return
	}
	if err := h.game.SpendActionPoint(r.Context(), user, saveID, req.Skill); err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, nil)
}

func (h *GameHandler) getShop(w http.ResponseWriter, r *http.Request, user, saveID string) {
	snap, err := h.game.GetShop(r.Context(), user, saveID, flag(r, "image"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, snap)
}

func (h *GameHandler) buyItem(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req ItemRequest
	if !h.body(w, r, &req) {
		return
	}
	if err := h.game.BuyItem(r.Context(), user, saveID, req.Item); err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, nil)
}

func (h *GameHandler) sellItem(w http.ResponseWriter, r *http.Request, user, saveID string) {
	var req ItemRequest
	if !h.body(w, r, &req) {
		return
	}
	if err := h.game.SellItem(r.Context(), user, saveID, req.Item); err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, nil)
}

func (h *GameHandler) getImage(w http.ResponseWriter, r *http.Request, user, saveID string) {
	img, err := h.game.GetImage(r.Context(), user, saveID, r.PathValue("category"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, img)
}

func (h *GameHandler) sheet(w http.ResponseWriter, r *http.Request, user, saveID string) {
	sh, err := h.game.Sheet(r.Context(), user, saveID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.success(w, sh)
}

func (h *GameHandler) exportPDF(w http.ResponseWriter, r *http.Request, user, saveID string) {
	s, err := h.game.Save(r.Context(), user, saveID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var portrait []byte
	if img, err := h.game.GetImage(r.Context(), user, saveID, storage.ImageCharacter); err == nil {
		portrait, _ = base64.StdEncoding.DecodeString(img)
	}
	data, err := export.StoryPDF(s, portrait)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", saveID+".pdf"))
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write pdf", "error", err)
	}
}
