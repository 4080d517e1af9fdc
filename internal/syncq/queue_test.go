package syncq

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizsim/internal/game"
)

func TestLoadEmptyQueue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	entries, err := Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPushReplacesSameQuarter(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	first := Entry{GameID: "league", CompanyID: "acme", Quarter: 2, Decisions: game.DefaultDecisions(), IdempotencyKey: "a", QueuedAt: time.Now().UTC()}
	other := Entry{GameID: "league", CompanyID: "globex", Quarter: 2, Decisions: game.DefaultDecisions(), IdempotencyKey: "b"}
	second := first
	second.IdempotencyKey = "c"

	require.NoError(t, Push(first))
	require.NoError(t, Push(other))
	require.NoError(t, Push(second))

	entries, err := Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].IdempotencyKey)
	assert.Equal(t, "c", entries[1].IdempotencyKey)
	assert.True(t, entries[1].Decisions.Products[game.P1].Price.Equal(game.DefaultDecisions().Products[game.P1].Price))

	info, err := os.Stat(filepath.Join(home, ".bizsim", "queue.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, Save(nil))
	entries, err = Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
