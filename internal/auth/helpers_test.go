package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nexauth/nexauth-core/internal/infrastructure/database"

	// Register embedded SQL migrations.
	_ "github.com/nexauth/nexauth-core/migrations"
)

// testDB opens a temporary SQLite database with the full schema applied.
// The file lives in the test's temp dir and is cleaned up automatically.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "nexauth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db
}

// seedService inserts an active relying service and returns it with its
// generated API key.
func seedService(t *testing.T, db *database.DB, name string) *Service {
	t.Helper()

	repo := NewSQLiteServiceRepository(db)
	svc := &Service{
		Name:        name,
		RedirectURL: "https://" + name + ".example.com/callback",
		IsActive:    true,
	}
	if err := repo.Create(context.Background(), svc); err != nil {
		t.Fatalf("seeding service %s: %v", name, err)
	}
	return svc
}

// seedUser inserts an active user and returns it with its generated
// auth key.
func seedUser(t *testing.T, db *database.DB, username string) *User {
	t.Helper()

	repo := NewSQLiteUserRepository(db)
	user := &User{
		Username: username,
		Email:    username + "@example.com",
		IsActive: true,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("seeding user %s: %v", username, err)
	}
	return user
}
