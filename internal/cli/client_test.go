package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizsim/internal/api"
	"bizsim/internal/config"
	"bizsim/internal/game"
	"bizsim/internal/store"
	"bizsim/internal/syncq"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := game.NewService(store.NewMemoryStore(), nil, logger)
	srv := httptest.NewServer(api.New(config.APIConfig{AdminKey: "admin"}, logger, svc, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := NewClient(srv.URL + "/")

	view, err := c.Join(ctx, "league", "acme", "Acme Ltd")
	require.NoError(t, err)
	assert.True(t, view.Exists)

	tmpl, err := c.DecisionTemplate(ctx)
	require.NoError(t, err)
	assert.Len(t, tmpl.Products, len(game.Products))

	res, err := c.Submit(ctx, Submission{GameID: "league", CompanyID: "acme", Quarter: 1, Decisions: tmpl, IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, game.BarrierCompleted, res.Status)
	assert.Equal(t, "k-1", res.SubmissionID)

	ledger, err := c.Company(ctx, "league", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", ledger.Name)
	assert.Len(t, ledger.History, 1)

	entries, err := c.Log(ctx, "league")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestClientAPIErrors(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := NewClient(srv.URL)

	_, err := c.Submit(ctx, Submission{GameID: "league", CompanyID: "acme", Quarter: 5, Decisions: game.DefaultDecisions()})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Body, "quarter")

	_, err = c.ListGames(ctx)
	assert.ErrorContains(t, err, "admin key required")

	c.AdminKey = "wrong"
	_, err = c.ListGames(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	c.AdminKey = "admin"
	games, err := c.ListGames(ctx)
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestClientAdminFlow(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	c.AdminKey = "admin"

	_, err := c.AddCompetitor(ctx, "league", "bot", "", game.StrategyNoOp)
	require.NoError(t, err)
	_, err = c.Join(ctx, "league", "acme", "")
	require.NoError(t, err)

	res, err := c.SetLock(ctx, "league", "acme", true)
	require.NoError(t, err)
	assert.Equal(t, game.BarrierWaiting, res.Status)
	assert.Zero(t, res.TotalCount)

	_, err = c.SetLock(ctx, "league", "acme", false)
	require.NoError(t, err)

	strategies, err := c.Strategies(ctx)
	require.NoError(t, err)
	assert.Contains(t, strategies, game.StrategyScripted)

	reset, err := c.Reset(ctx, "league")
	require.NoError(t, err)
	assert.Equal(t, 2, reset.CompaniesReset)
}

func TestReplayKeepsOnlyNetworkFailures(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	live := NewClient(srv.URL)

	entries := []syncq.Entry{
		{GameID: "league", CompanyID: "acme", Quarter: 1, Decisions: game.DefaultDecisions(), IdempotencyKey: "ok"},
		{GameID: "league", CompanyID: "acme", Quarter: 7, Decisions: game.DefaultDecisions(), IdempotencyKey: "stale"},
	}
	remaining, outcomes := Replay(ctx, live, entries)
	assert.Empty(t, remaining)
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, game.BarrierCompleted, outcomes[0].Result.Status)
	assert.True(t, IsAPIError(outcomes[1].Err))

	down := NewClient("http://127.0.0.1:1")
	remaining, outcomes = Replay(ctx, down, entries[:1])
	require.Len(t, remaining, 1)
	assert.False(t, IsAPIError(outcomes[0].Err))
}

func TestProfilePersistence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadProfile()
	assert.Error(t, err)

	require.NoError(t, SaveProfile(Profile{GameID: "league", CompanyID: "acme"}))
	p, err := LoadProfile()
	require.NoError(t, err)
	assert.Equal(t, "acme", p.CompanyID)

	require.NoError(t, ClearProfile())
	require.NoError(t, ClearProfile())
	_, err = LoadProfile()
	assert.Error(t, err)
}
