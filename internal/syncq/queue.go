// Package syncq keeps decision submissions that could not reach the server so
// they can be replayed later.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"bizsim/internal/game"
)

type Entry struct {
	GameID         string         `json:"game_id"`
	CompanyID      string         `json:"company_id"`
	CompanyName    string         `json:"company_name,omitempty"`
	Quarter        int            `json:"quarter"`
	Decisions      game.Decisions `json:"decisions"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".bizsim")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Entry, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Entry{}, nil
	}
	var out []Entry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(entries []Entry) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push appends e, replacing any earlier entry for the same company and
// quarter so only the latest decisions are replayed.
func Push(e Entry) error {
	entries, err := Load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, cur := range entries {
		if cur.GameID == e.GameID && cur.CompanyID == e.CompanyID && cur.Quarter == e.Quarter {
			continue
		}
		kept = append(kept, cur)
	}
	return Save(append(kept, e))
}
