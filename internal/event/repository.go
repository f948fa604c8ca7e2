package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	DeviceID string
	Decision Decision
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Repository is the append-only access event store.
type Repository interface {
	// Create stores a new event. Events are never updated afterwards.
	Create(ctx context.Context, e *AccessEvent) error

	// Get returns ErrNotFound if the event does not exist.
	Get(ctx context.Context, id string) (*AccessEvent, error)

	// List returns events newest first.
	List(ctx context.Context, f Filter) ([]AccessEvent, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed event store.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e.
func (r *SQLiteRepository) Create(ctx context.Context, e *AccessEvent) error {
	if err := e.validate(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_events (id, timestamp, device_id, credential_id, user_id, decision,
			detected_identifier, snapshot_ref, details, access_type, direction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(timeLayout), e.DeviceID,
		nullable(e.CredentialID), nullable(e.UserID), string(e.Decision),
		nullable(e.DetectedIdentifier), nullable(e.SnapshotRef), e.Details,
		string(e.AccessType), string(e.Direction),
	)
	if err != nil {
		return fmt.Errorf("inserting access event: %w", err)
	}
	return nil
}

const selectEvent = `
	SELECT id, timestamp, device_id, credential_id, user_id, decision,
		detected_identifier, snapshot_ref, details, access_type, direction
	FROM access_events`

// Get retrieves one event.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*AccessEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, selectEvent+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying access event: %w", err)
	}
	return e, nil
}

// List retrieves events matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]AccessEvent, error) {
	var where []string
	var args []any
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(f.Decision))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.Until.UTC().Format(timeLayout))
	}

	query := selectEvent
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access events: %w", err)
	}
	defer rows.Close()

	events := []AccessEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning access event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access events: %w", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*AccessEvent, error) {
	var e AccessEvent
	var ts, decision, accessType, direction string
	var credentialID, userID, detected, snapshot sql.NullString

	err := row.Scan(&e.ID, &ts, &e.DeviceID, &credentialID, &userID, &decision,
		&detected, &snapshot, &e.Details, &accessType, &direction)
	if err != nil {
		return nil, err
	}

	if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	e.Decision = Decision(decision)
	e.AccessType = credential.Type(accessType)
	e.Direction = device.Direction(direction)
	e.CredentialID = fromNullable(credentialID)
	e.UserID = fromNullable(userID)
	e.DetectedIdentifier = fromNullable(detected)
	e.SnapshotRef = fromNullable(snapshot)
	return &e, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
