package device

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
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
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	d := testDevice("dev-1", "North Gate", "10.0.0.10")
	d.Brand = BrandDahua
	d.Port = 8443
	d.UseTLS = true
	d.Username = "admin"
	d.Password = "s3cret"
	d.MAC = strPtr("aa:bb:cc:dd:ee:01")
	d.Channel = 2

	if err := repo.Create(ctx, &d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Brand != BrandDahua || got.Port != 8443 || !got.UseTLS || got.Password != "s3cret" ||
		got.MAC == nil || *got.MAC != "aa:bb:cc:dd:ee:01" || got.Channel != 2 {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stored")
	}

	if err := repo.Create(ctx, &d); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_ListOrderedByName(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, d := range []Device{
		testDevice("dev-c", "Charlie", "10.0.0.3"),
		testDevice("dev-a", "Alpha", "10.0.0.1"),
		testDevice("dev-b", "Bravo", "10.0.0.2"),
	} {
		d := d
		if err := repo.Create(ctx, &d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var names []string
	for _, d := range devices {
		names = append(names, d.Name)
	}
	if len(names) != 3 || names[0] != "Alpha" || names[2] != "Charlie" {
		t.Errorf("List() names = %v", names)
	}
}

func TestSQLiteRepository_UpdateDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	d := testDevice("dev-1", "Gate", "10.0.0.10")
	if err := repo.Create(ctx, &d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Direction = DirectionExit
	if err := repo.Update(ctx, &d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "dev-1")
	if got.Direction != DirectionExit {
		t.Errorf("Direction = %q, want EXIT", got.Direction)
	}

	missing := testDevice("nope", "Nope", "10.0.0.99")
	if err := repo.Update(ctx, &missing); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update(missing) = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.Delete(ctx, "dev-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.GetByID(ctx, "dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete = %v, want ErrDeviceNotFound", err)
	}
}
