package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")

	// ErrUnknownDriver is returned for a storage.driver that is not built in.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Report is one concluded, reported aggregation round.
type Report struct {
	SessionID uuid.UUID `json:"session_id"`
	// Kind is the handler that produced the round ("segue", "roleplay").
	Kind string `json:"kind"`
	// Value is the average rating for segue rounds and the summed delta for
	// roleplay rounds.
	Value      float64   `json:"value"`
	Count      int       `json:"count"`
	Room       string    `json:"room"`
	StartedAt  time.Time `json:"started_at"`
	ComputedAt time.Time `json:"computed_at"`
}

// AuditEntry records a moderator command.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Room    string    `json:"room"`
	Actor   string    `json:"actor"`
	Command string    `json:"command"`
	Args    string    `json:"args,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
}

// Store is the persistence API used by the handlers.
type Store interface {
	PutReport(ctx context.Context, r Report) error
	// Reports returns the newest reports of kind, newest first. An empty kind
	// matches every kind; limit <= 0 means no limit.
	Reports(ctx context.Context, kind string, limit int) ([]Report, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// NewReport fills in a fresh session id and the computation time.
func NewReport(kind, room string, value float64, count int, startedAt time.Time) Report {
	return Report{
		SessionID:  uuid.New(),
		Kind:       kind,
		Value:      value,
		Count:      count,
		Room:       room,
		StartedAt:  startedAt,
		ComputedAt: time.Now(),
	}
}
