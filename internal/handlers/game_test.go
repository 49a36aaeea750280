package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/gamemaster/internal/game"
	"github.com/jwebster45206/gamemaster/internal/services"
	"github.com/jwebster45206/gamemaster/pkg/inventory"
	"github.com/jwebster45206/gamemaster/pkg/quest"
	"github.com/jwebster45206/gamemaster/pkg/savedata"
	"github.com/jwebster45206/gamemaster/pkg/theme"
)

// fakeGame records the last call. Methods it does not override panic.
type fakeGame struct {
	Game
	user, save, arg string
	image          bool
	err            error
	saveData       *savedata.SaveData
}

func (f *fakeGame) record(user, save, arg string) error {
	f.user, f.save, f.arg = user, save, arg
	return f.err
}

func (f *fakeGame) SystemStartup(context.Context) []string { return []string{"LLM", "T2I"} }

func (f *fakeGame) SavesList(_ context.Context, user string) ([]game.SaveSummary, error) {
	if err := f.record(user, "", ""); err != nil {
		return nil, err
	}
	return []game.SaveSummary{{Name: "Aria"}}, nil
}

func (f *fakeGame) NewSave(_ context.Context, user, themeName string, _ map[string]any, image bool) (string, error) {
	f.image = image
	return "Aria", f.record(user, "", themeName)
}

func (f *fakeGame) GetQuest(_ context.Context, user, saveID string, regen bool) (*quest.Quest, error) {
	f.image = regen
	if err := f.record(user, saveID, ""); err != nil {
		return nil, err
	}
	return &quest.Quest{Title: "The Lost Crown"}, nil
}

func (f *fakeGame) NewStory(_ context.Context, user, saveID, goal string) error {
	return f.record(user, saveID, goal)
}

func (f *fakeGame) AdvanceStory(_ context.Context, user, saveID, action string, image bool) (savedata.Outcome, error) {
	f.image = image
	return savedata.Success, f.record(user, saveID, action)
}

func (f *fakeGame) DeleteSave(_ context.Context, user, saveID string) error {
	return f.record(user, saveID, "")
}

func (f *fakeGame) GetImage(_ context.Context, user, saveID, category string) (string, error) {
	if err := f.record(user, saveID, category); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(services.TestPNG()), nil
}

func (f *fakeGame) Save(_ context.Context, user, saveID string) (*savedata.SaveData, error) {
	return f.saveData, f.record(user, saveID, "")
}

func newTestServer(t *testing.T, g Game, debug bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewGameHandler(g, slog.New(slog.NewTextHandler(io.Discard, nil)), debug).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, Response) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(UsernameHeader, "alice")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestGameHandler_Success(t *testing.T) {
	g := &fakeGame{}
	srv := newTestServer(t, g, false)

	code, out := call(t, srv, http.MethodGet, "/v1/system/startup", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, []any{"LLM", "T2I"}, out.Result)

	code, out = call(t, srv, http.MethodPost, "/v1/saves", `{"theme":"fantasy","background":{"name":"Aria"},"image":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Aria", out.Result)
	assert.Equal(t, "fantasy", g.arg)
	assert.True(t, g.image)

	code, out = call(t, srv, http.MethodGet, "/v1/saves/Aria/quest?regen=true", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Aria", g.save)
	assert.True(t, g.image)
	assert.Equal(t, "The Lost Crown", out.Result.(map[string]any)["quest_title"])

	code, _ = call(t, srv, http.MethodPost, "/v1/saves/Aria/story", `{"goal":"  Find the map "}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Find the map", g.arg)

	code, out = call(t, srv, http.MethodPost, "/v1/saves/Aria/story/advance", `{"action":"Climb the wall"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Success", out.Result)
	assert.Equal(t, "Climb the wall", g.arg)
	assert.False(t, g.image)

	code, _ = call(t, srv, http.MethodDelete, "/v1/saves/Aria", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", g.user)
}

func TestGameHandler_Errors(t *testing.T) {
	t.Run("custom error is shown", func(t *testing.T) {
		srv := newTestServer(t, &fakeGame{err: game.ErrSaveNotFound}, false)
		code, out := call(t, srv, http.MethodDelete, "/v1/saves/Nobody", "")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "error", out.Status)
		assert.Equal(t, "Save not found.", out.Reason)
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		srv := newTestServer(t, &fakeGame{err: errors.New("mongo exploded")}, false)
		code, out := call(t, srv, http.MethodGet, "/v1/saves", "")
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, GenericReason, out.Reason)
	})

	t.Run("debug shows internal error", func(t *testing.T) {
		srv := newTestServer(t, &fakeGame{err: errors.New("mongo exploded")}, true)
		_, out := call(t, srv, http.MethodGet, "/v1/saves", "")
		assert.Equal(t, "mongo exploded", out.Reason)
	})

	t.Run("invalid body", func(t *testing.T) {
		srv := newTestServer(t, &fakeGame{}, false)
		code, out := call(t, srv, http.MethodPost, "/v1/saves/Aria/story/advance", `{"action":""}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "Missing required field: action", out.Reason)

		code, out = call(t, srv, http.MethodPost, "/v1/saves", `{"theme":`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, out.Reason, "Invalid request body")
	})

	t.Run("missing username", func(t *testing.T) {
		srv := newTestServer(t, &fakeGame{}, false)
		resp, err := srv.Client().Get(srv.URL + "/v1/saves")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGameHandler_ExportPDF(t *testing.T) {
	th, err := theme.Get("fantasy")
	require.NoError(t, err)
	s := savedata.New(th, map[string]any{"name": "Aria"}, inventory.New())
	g := &fakeGame{saveData: s}
	srv := newTestServer(t, g, false)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/saves/Aria/export.pdf", nil)
	require.NoError(t, err)
	req.Header.Set(UsernameHeader, "alice")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Aria.pdf")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
	assert.Equal(t, "character", g.arg)
}
