package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for credentials, users and access
// groups. Decisioning and LiveSync only read; the write methods exist for
// the administration layer and tooling.
type Repository interface {
	GetCredential(ctx context.Context, id string) (*Credential, error)

	// FindCredential returns the credential with exactly this type and
	// value, or ErrNotFound. There is no partial or fuzzy matching.
	FindCredential(ctx context.Context, t Type, value string) (*Credential, error)

	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	GetUser(ctx context.Context, id string) (*User, error)

	// GroupIDsForUser returns the access groups the user belongs to.
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)

	// DeviceIDsForGroup returns the devices an access group opens.
	DeviceIDsForGroup(ctx context.Context, groupID string) ([]string, error)

	CreateUser(ctx context.Context, u *User) error
	CreateCredential(ctx context.Context, c *Credential) error
	UpdateCredential(ctx context.Context, c *Credential) error
	CreateGroup(ctx context.Context, g *AccessGroup) error
	AddUserToGroup(ctx context.Context, groupID, userID string) error
	AddDeviceToGroup(ctx context.Context, groupID, deviceID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectCredential = `SELECT id, type, value, user_id, image_ref, created_at, updated_at FROM credentials`

// GetCredential retrieves a credential by ID.
func (r *SQLiteRepository) GetCredential(ctx context.Context, id string) (*Credential, error) {
	return r.queryCredential(ctx, selectCredential+" WHERE id = ?", id)
}

// FindCredential retrieves a credential by exact (type, value).
// When duplicates exist the oldest one wins, so decisions are stable.
func (r *SQLiteRepository) FindCredential(ctx context.Context, t Type, value string) (*Credential, error) {
	return r.queryCredential(ctx,
		selectCredential+" WHERE type = ? AND value = ? ORDER BY created_at, id LIMIT 1",
		string(t), value)
}

func (r *SQLiteRepository) queryCredential(ctx context.Context, query string, args ...any) (*Credential, error) {
	c, err := scanCredential(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return c, nil
}

// ListCredentialsByUser returns every credential owned by userID.
func (r *SQLiteRepository) ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error) {
	rows, err := r.db.QueryContext(ctx, selectCredential+" WHERE user_id = ? ORDER BY type, value", userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// GetUser retrieves a user by ID.
func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var document sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT id, name, document FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Name, &document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if document.Valid {
		u.Document = &document.String
	}
	return &u, nil
}

// GroupIDsForUser returns the IDs of the groups userID belongs to.
func (r *SQLiteRepository) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return r.queryIDs(ctx, "SELECT group_id FROM access_group_users WHERE user_id = ? ORDER BY group_id", userID)
}

// DeviceIDsForGroup returns the IDs of the devices in groupID.
func (r *SQLiteRepository) DeviceIDsForGroup(ctx context.Context, groupID string) ([]string, error) {
	return r.queryIDs(ctx, "SELECT device_id FROM access_group_devices WHERE group_id = ? ORDER BY device_id", groupID)
}

func (r *SQLiteRepository) queryIDs(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}
	return ids, nil
}

// CreateUser inserts a user, assigning an ID when empty.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users (id, name, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Name, nullableString(u.Document), now, now)
	return wrapWriteError("inserting user", err)
}

// CreateCredential inserts a credential, assigning an ID when empty.
func (r *SQLiteRepository) CreateCredential(ctx context.Context, c *Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, type, value, user_id, image_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Type), c.Value, nullableString(c.UserID), nullableString(c.ImageRef),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	return wrapWriteError("inserting credential", err)
}

// UpdateCredential rewrites value, owner and image reference.
func (r *SQLiteRepository) UpdateCredential(ctx context.Context, c *Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET type = ?, value = ?, user_id = ?, image_ref = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Type), c.Value, nullableString(c.UserID), nullableString(c.ImageRef),
		c.UpdatedAt.Format(time.RFC3339), c.ID)
	if err != nil {
		return wrapWriteError("updating credential", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports rows affected
		return ErrNotFound
	}
	return nil
}

// CreateGroup inserts an access group, assigning an ID when empty.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g *AccessGroup) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO access_groups (id, name, created_at) VALUES (?, ?, ?)",
		g.ID, g.Name, time.Now().UTC().Format(time.RFC3339))
	return wrapWriteError("inserting access group", err)
}

// AddUserToGroup links a user to a group. Linking twice is a no-op.
func (r *SQLiteRepository) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO access_group_users (group_id, user_id) VALUES (?, ?)", groupID, userID)
	return wrapWriteError("linking user to group", err)
}

// AddDeviceToGroup links a device to a group. Linking twice is a no-op.
func (r *SQLiteRepository) AddDeviceToGroup(ctx context.Context, groupID, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO access_group_devices (group_id, device_id) VALUES (?, ?)", groupID, deviceID)
	return wrapWriteError("linking device to group", err)
}

func validateCredential(c *Credential) error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
	}
	if strings.TrimSpace(c.Value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidValue)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var typ, createdAt, updatedAt string
	var userID, imageRef sql.NullString

	if err := row.Scan(&c.ID, &typ, &c.Value, &userID, &imageRef, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Type = Type(typ)
	if userID.Valid {
		c.UserID = &userID.String
	}
	if imageRef.Valid {
		c.ImageRef = &imageRef.String
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return &c, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func wrapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrExists)
	}
	if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
