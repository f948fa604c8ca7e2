package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/migrations"
)

type fixture struct {
	repo     *SQLiteRepository
	registry *device.Registry
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	return &fixture{
		repo:     NewSQLiteRepository(db.DB),
		registry: device.NewRegistry(device.NewSQLiteRepository(db.DB)),
	}
}

func (f *fixture) addDevice(t *testing.T, id, name string) {
	t.Helper()
	d := &device.Device{
		ID: id, Name: name, Brand: device.BrandHikvision, Kind: device.KindLPRCamera,
		Host: "10.0.0.1", Direction: device.DirectionEntry,
	}
	if err := f.registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice(%s) error = %v", id, err)
	}
}

func (f *fixture) addUser(t *testing.T, id, name string) {
	t.Helper()
	if err := f.repo.CreateUser(context.Background(), &User{ID: id, Name: name}); err != nil {
		t.Fatalf("CreateUser(%s) error = %v", id, err)
	}
}

func (f *fixture) addGroup(t *testing.T, id string, userIDs []string, deviceIDs []string) {
	t.Helper()
	ctx := context.Background()
	if err := f.repo.CreateGroup(ctx, &AccessGroup{ID: id, Name: id}); err != nil {
		t.Fatalf("CreateGroup(%s) error = %v", id, err)
	}
	for _, u := range userIDs {
		if err := f.repo.AddUserToGroup(ctx, id, u); err != nil {
			t.Fatalf("AddUserToGroup error = %v", err)
		}
	}
	for _, d := range deviceIDs {
		if err := f.repo.AddDeviceToGroup(ctx, id, d); err != nil {
			t.Fatalf("AddDeviceToGroup error = %v", err)
		}
	}
}

func (f *fixture) addCredential(t *testing.T, id string, typ Type, value string, userID *string) {
	t.Helper()
	c := &Credential{ID: id, Type: typ, Value: value, UserID: userID}
	if err := f.repo.CreateCredential(context.Background(), c); err != nil {
		t.Fatalf("CreateCredential(%s) error = %v", id, err)
	}
}

func strPtr(s string) *string { return &s }

func TestSQLiteRepository_FindCredentialExactMatch(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", "Ana")
	f.addCredential(t, "c-1", TypePlate, "ABC123", strPtr("u-1"))

	got, err := f.repo.FindCredential(ctx, TypePlate, "ABC123")
	if err != nil {
		t.Fatalf("FindCredential() error = %v", err)
	}
	if got.ID != "c-1" || got.UserID == nil || *got.UserID != "u-1" {
		t.Errorf("FindCredential() = %+v", got)
	}

	misses := []struct {
		typ   Type
		value string
	}{
		{TypePlate, "ABC12"},  // prefix
		{TypePlate, "ABC1234"}, // superset
		{TypePlate, "abc123"}, // case
		{TypeTag, "ABC123"},   // other type
	}
	for _, m := range misses {
		if _, err := f.repo.FindCredential(ctx, m.typ, m.value); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindCredential(%s, %q) error = %v, want ErrNotFound", m.typ, m.value, err)
		}
	}
}

func TestSQLiteRepository_CredentialValidation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	if err := f.repo.CreateCredential(ctx, &Credential{Type: "IRIS", Value: "x"}); !errors.Is(err, ErrInvalidType) {
		t.Errorf("invalid type error = %v", err)
	}
	if err := f.repo.CreateCredential(ctx, &Credential{Type: TypeTag, Value: " "}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("empty value error = %v", err)
	}
	err := f.repo.CreateCredential(ctx, &Credential{Type: TypeTag, Value: "123", UserID: strPtr("ghost")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown owner error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_UpdateAndListByUser(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	f.addUser(t, "u-1", "Ana")
	f.addCredential(t, "c-1", TypeTag, "0001", nil)

	c, err := f.repo.GetCredential(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if c.UserID != nil {
		t.Fatalf("new credential should be unassigned")
	}

	c.UserID = strPtr("u-1")
	if err := f.repo.UpdateCredential(ctx, c); err != nil {
		t.Fatalf("UpdateCredential() error = %v", err)
	}

	creds, err := f.repo.ListCredentialsByUser(ctx, "u-1")
	if err != nil || len(creds) != 1 || creds[0].ID != "c-1" {
		t.Errorf("ListCredentialsByUser() = %v, %v", creds, err)
	}

	missing := &Credential{ID: "nope", Type: TypeTag, Value: "1"}
	if err := f.repo.UpdateCredential(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateCredential(missing) = %v, want ErrNotFound", err)
	}
}
