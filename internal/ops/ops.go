// Package ops implements the persistence operations behind every surface:
// recording finalized sessions, reading the dashboard and history, and
// moving data in and out through JSONL files.
package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/session"
)

// Store keys.
const (
	SessionKeyPrefix = "session:"
	LastSessionKey   = "session:last"
	HistoryKey       = "session:history"
)

// Pagination limits
const (
	DefaultHistoryLimit  = 20
	MaxHistoryLimit      = 100
	DefaultDashboardDays = 7
	MaxDashboardDays     = 366
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

func sessionKey(id string) string {
	return SessionKeyPrefix + id
}

// ValidateSessionID trims id and rejects ids that would collide with the
// reserved session keys.
func ValidateSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewInvalidRequest("session id is required")
	}
	if id == "last" || id == "history" || strings.ContainsAny(id, ":*?[]") {
		return "", errors.NewInvalidRequest("invalid session id: " + id)
	}
	return id, nil
}

// GetSession returns the stored record for id.
func GetSession(ctx context.Context, s kv.Store, id string) (*session.Record, error) {
	id, err := ValidateSessionID(id)
	if err != nil {
		return nil, err
	}
	var rec session.Record
	found, err := kv.GetJSON(ctx, s, sessionKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFound("session " + id)
	}
	return &rec, nil
}

// LastSession returns the most recently recorded session, or nil when none
// has been recorded yet.
func LastSession(ctx context.Context, s kv.Store) (*session.Record, error) {
	var rec session.Record
	found, err := kv.GetJSON(ctx, s, LastSessionKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func readHistory(ctx context.Context, s kv.Store) ([]string, error) {
	var ids []string
	if _, err := kv.GetJSON(ctx, s, HistoryKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
