// Package database provides SQLite connectivity for Gray Logic Access.
//
// This package manages:
//   - Database connection with WAL mode so dashboard reads never block ingestion
//   - Versioned schema migrations read from an fs.FS
//   - A single-connection pool (SQLite has exactly one writer)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be NULLABLE or carry a DEFAULT,
// and every .up.sql has a matching .down.sql.
package database
