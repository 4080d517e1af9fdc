package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	mathrand "math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"bizsim/internal/config"
	"bizsim/internal/game"
	"bizsim/internal/store"
)

type harness struct {
	srv *httptest.Server
	hub *Hub
}

func newHarness(t *testing.T, cfg config.APIConfig) *harness {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	svc := game.NewService(store.NewMemoryStore(), game.NewEngine(game.DefaultParams()), logger,
		game.WithSeedSource(mathrand.New(mathrand.NewSource(7))),
		game.WithPublisher(hub),
	)
	srv := httptest.NewServer(New(cfg, logger, svc, hub).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &harness{srv: srv, hub: hub}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func submitBody(companyID string, quarter int) map[string]any {
	return map[string]any{
		"company_id": companyID,
		"quarter":    quarter,
		"decisions":  game.DefaultDecisions(),
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, config.APIConfig{})
	status, body := h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestSubmitBarrierOverHTTP(t *testing.T) {
	h := newHarness(t, config.APIConfig{})

	for _, id := range []string{"north-co", "south-co"} {
		status, _ := h.do(t, http.MethodPost, "/v1/games/league/join", map[string]any{"company_id": id}, nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, body := h.do(t, http.MethodPost, "/v1/games/league/decisions", submitBody("north-co", 1),
		map[string]string{"Idempotency-Key": "sub-1"})
	require.Equal(t, http.StatusOK, status, string(body))
	var first game.SubmitResult
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, game.BarrierWaiting, first.Status)
	assert.Equal(t, "sub-1", first.SubmissionID)
	assert.Equal(t, []string{"south-co"}, first.PendingCompanyIDs)

	status, body = h.do(t, http.MethodPost, "/v1/games/league/decisions", submitBody("south-co", 1), nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var second game.SubmitResult
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, game.BarrierCompleted, second.Status)
	assert.Equal(t, 2, second.NextQuarter)
	assert.Len(t, second.Results, 2)

	status, body = h.do(t, http.MethodGet, "/v1/games/league/status?company_id=north-co", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var view game.StatusView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, 2, view.Quarter)
	require.NotNil(t, view.Company)
	assert.Equal(t, game.StatusPending, view.Company.Status)

	status, body = h.do(t, http.MethodGet, "/v1/games/league/companies/north-co", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var ledger game.CompanyLedger
	require.NoError(t, json.Unmarshal(body, &ledger))
	assert.Len(t, ledger.History, 1)
}

func TestSubmitErrorsMapToStatusCodes(t *testing.T) {
	h := newHarness(t, config.APIConfig{})

	status, _ := h.do(t, http.MethodPost, "/v1/games/league/decisions", submitBody("acme", 3), nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = h.do(t, http.MethodPost, "/v1/games/league/decisions", map[string]any{
		"company_id": "acme", "quarter": 1, "decisions": game.DefaultDecisions(), "bogus": true,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/games/league/decisions", map[string]any{"company_id": "acme", "quarter": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodGet, "/v1/games/league/companies/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusOfUnknownGame(t *testing.T) {
	h := newHarness(t, config.APIConfig{})
	status, body := h.do(t, http.MethodGet, "/v1/games/nowhere/status", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var view game.StatusView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.False(t, view.Exists)
	assert.Equal(t, 1, view.Quarter)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	open := newHarness(t, config.APIConfig{})
	status, _ := open.do(t, http.MethodGet, "/v1/admin/games", nil, map[string]string{adminKeyHeader: "anything"})
	assert.Equal(t, http.StatusUnauthorized, status)

	h := newHarness(t, config.APIConfig{AdminKey: "s3cret"})
	status, _ = h.do(t, http.MethodGet, "/v1/admin/games", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(t, http.MethodGet, "/v1/admin/games", nil, map[string]string{adminKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body := h.do(t, http.MethodGet, "/v1/admin/games", nil, map[string]string{adminKeyHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"games":[]}`, string(body))
}

func TestAdminKeyHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t, config.APIConfig{AdminKey: "ignored", AdminKeyHash: string(hash)})

	status, _ := h.do(t, http.MethodGet, "/v1/admin/strategies", nil, map[string]string{adminKeyHeader: "ignored"})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body := h.do(t, http.MethodGet, "/v1/admin/strategies", nil, map[string]string{adminKeyHeader: "hashed-key"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), game.StrategyRuleBased)
}

func TestAdminResetLockAndCompetitors(t *testing.T) {
	h := newHarness(t, config.APIConfig{AdminKey: "k"})
	admin := map[string]string{adminKeyHeader: "k"}

	status, _ := h.do(t, http.MethodPost, "/v1/admin/games/league/reset", nil, admin)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodPost, "/v1/admin/games/league/competitors",
		map[string]any{"company_id": "bot", "strategy": "psychic"}, admin)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/admin/games/league/competitors",
		map[string]any{"company_id": "bot", "company_name": "Bot Corp"}, admin)
	require.Equal(t, http.StatusOK, status)

	for _, id := range []string{"alpha", "beta"} {
		status, _ = h.do(t, http.MethodPost, "/v1/games/league/join", map[string]any{"company_id": id}, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, _ = h.do(t, http.MethodPost, "/v1/games/league/decisions", submitBody("alpha", 1), nil)
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodPost, "/v1/admin/games/league/companies/beta/lock", nil, admin)
	require.Equal(t, http.StatusOK, status, string(body))
	var locked game.SubmitResult
	require.NoError(t, json.Unmarshal(body, &locked))
	assert.Equal(t, game.BarrierCompleted, locked.Status)
	assert.Contains(t, locked.Results, "bot")
	assert.NotContains(t, locked.Results, "beta")

	status, _ = h.do(t, http.MethodPost, "/v1/admin/games/league/companies/beta/unlock", nil, admin)
	assert.Equal(t, http.StatusOK, status)

	status, body = h.do(t, http.MethodPost, "/v1/admin/games/league/reset", nil, admin)
	require.Equal(t, http.StatusOK, status)
	var reset game.ResetResult
	require.NoError(t, json.Unmarshal(body, &reset))
	assert.True(t, reset.Success)
	assert.Equal(t, 1, reset.Quarter)

	status, body = h.do(t, http.MethodGet, "/v1/games/league/log", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "reset")
}

func TestWebSocketReceivesQuarterEvents(t *testing.T) {
	h := newHarness(t, config.APIConfig{})
	status, _ := h.do(t, http.MethodPost, "/v1/games/solo/join", map[string]any{"company_id": "acme"}, nil)
	require.Equal(t, http.StatusOK, status)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/games/solo/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.hub.Clients("solo") == 1 }, 2*time.Second, 10*time.Millisecond)

	status, _ = h.do(t, http.MethodPost, "/v1/games/solo/decisions", submitBody("acme", 1), nil)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev game.Event
	for ev.Type != game.EventQuarterCompleted {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		ev = game.Event{}
		require.NoError(t, json.Unmarshal(raw, &ev))
	}
	assert.Equal(t, "solo", ev.GameID)
	assert.Equal(t, 1, ev.Quarter)
	assert.Contains(t, ev.Results, "acme")
	assert.Zero(t, h.hub.Clients("other"))
}
