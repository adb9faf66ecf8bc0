package auth

import (
	"context"
	"errors"
	"testing"
)

func seedAdmin(t *testing.T, repo AdminRepository, username, password, role string) *Admin {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	admin := &Admin{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), admin); err != nil {
		t.Fatalf("seeding admin %s: %v", username, err)
	}
	return admin
}

func TestAdminAuthenticate(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteAdminRepository(db)
	seedAdmin(t, repo, "root", "s3cret-admin-pass", RoleSuperAdmin)

	admin, err := Authenticate(context.Background(), repo, "root", "s3cret-admin-pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if admin.Role != RoleSuperAdmin {
		t.Errorf("role = %q, want %q", admin.Role, RoleSuperAdmin)
	}
}

func TestAdminAuthenticateFailuresCollapse(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteAdminRepository(db)
	seedAdmin(t, repo, "root", "s3cret-admin-pass", RoleSuperAdmin)
	retired := seedAdmin(t, repo, "retired", "s3cret-admin-pass", RoleAdmin)

	if _, err := db.ExecContext(context.Background(),
		"UPDATE admins SET is_active = 0 WHERE id = ?", retired.ID); err != nil {
		t.Fatalf("deactivating admin: %v", err)
	}

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"unknown username", "nobody", "s3cret-admin-pass"},
		{"wrong password", "root", "wrong"},
		{"inactive account", "retired", "s3cret-admin-pass"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Authenticate(context.Background(), repo, tc.username, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestEnsureAdminBootstrap(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteAdminRepository(db)

	created, err := EnsureAdmin(context.Background(), repo, "root", "bootstrap-pass")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !created {
		t.Fatal("bootstrap admin not created on empty table")
	}

	admin, err := repo.GetByUsername(context.Background(), "root")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if admin.Role != RoleSuperAdmin {
		t.Errorf("bootstrap role = %q, want %q", admin.Role, RoleSuperAdmin)
	}

	// Second run is a no-op even with different credentials.
	created, err = EnsureAdmin(context.Background(), repo, "other", "other-pass")
	if err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}
	if created {
		t.Error("EnsureAdmin created a second bootstrap account")
	}
}

func TestEnsureAdminWithoutCredentials(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteAdminRepository(db)

	created, err := EnsureAdmin(context.Background(), repo, "", "")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if created {
		t.Error("EnsureAdmin created an account without configured credentials")
	}
}
