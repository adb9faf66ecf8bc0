// Package audit records every schedule mutation, including automatic
// override expiry, in an append-only trail.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
)

// Known audit actions.
const (
	ActionUpdateHours   = "update_hours"
	ActionSetOverride   = "set_override"
	ActionClearOverride = "clear_override"
	ActionAutoRestore   = "auto_restore"
)

// SystemActor attributes automatic transitions (override expiry) that
// no admin initiated.
const SystemActor = "system"

// Entry is one audit record. OldState and NewState hold JSON snapshots
// of the schedule row before and after the mutation.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	OldState  string    `json:"old_state"`
	NewState  string    `json:"new_state"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List queries.
type Filter struct {
	// Action restricts to one action type when non-empty.
	Action string

	// Limit caps the page size. Values above maxLimit are clamped.
	Limit int

	// Offset skips rows for pagination.
	Offset int
}

// ListResult is one page of audit entries.
type ListResult struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Repository stores audit entries in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates an audit repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// AppendTx inserts an entry inside the caller's transaction, so the
// audit row commits atomically with the mutation it records.
func (r *Repository) AppendTx(ctx context.Context, tx *sql.Tx, entry *Entry) error {
	prepareEntry(entry)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO system_schedule_audit (id, action, actor, old_state, new_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.Actor, entry.OldState, entry.NewState, entry.Reason,
		entry.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Append inserts an entry outside any transaction.
func (r *Repository) Append(ctx context.Context, entry *Entry) error {
	prepareEntry(entry)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_schedule_audit (id, action, actor, old_state, new_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.Actor, entry.OldState, entry.NewState, entry.Reason,
		entry.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func prepareEntry(entry *Entry) {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// List returns a page of audit entries, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM system_schedule_audit" + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `
		SELECT id, action, actor, old_state, new_state, reason, created_at
		FROM system_schedule_audit` + whereClause + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			entry     Entry
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor,
			&entry.OldState, &entry.NewState, &entry.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
