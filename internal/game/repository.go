package game

import (
	"context"
	"time"
)

// Repository is the shared gameID -> Session mapping. Every entry point of a
// process must use the same instance.
type Repository interface {
	// Get returns a private copy of the last committed session, or
	// ErrSessionNotFound.
	Get(ctx context.Context, gameID string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	// List returns copies of every session, ordered by game id.
	List(ctx context.Context) ([]Session, error)
	// WithLock runs fn inside the per-session critical section. fn receives a
	// private copy (nil when the session does not exist). A non-nil returned
	// session is committed; a nil session or an error leaves storage untouched.
	WithLock(ctx context.Context, gameID string, fn func(sess *Session) (*Session, error)) error
}

type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventCompanyJoined    EventType = "company_joined"
	EventDecisionsStaged  EventType = "decisions_submitted"
	EventQuarterCompleted EventType = "quarter_completed"
	EventSessionReset     EventType = "session_reset"
	EventCompanyLocked    EventType = "company_locked"
	EventCompanyUnlocked  EventType = "company_unlocked"
	EventCompetitorAdded  EventType = "competitor_added"
)

type Event struct {
	Seq       int64                    `json:"seq"`
	Type      EventType                `json:"type"`
	GameID    string                   `json:"game_id"`
	CompanyID string                   `json:"company_id,omitempty"`
	Quarter   int                      `json:"quarter"`
	Submitted int                      `json:"submitted,omitempty"`
	Total     int                      `json:"total,omitempty"`
	Results   map[string]QuarterResult `json:"results,omitempty"`
	Messages  []string                 `json:"messages,omitempty"`
	At        time.Time                `json:"at"`
}

// Publisher receives session events after the session lock is released.
// Implementations must not block the caller for long. Publishes from
// concurrent requests may arrive out of order; Seq restores commit order.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}
