package auth

import (
	"context"
	"fmt"
)

// EnsureAdmin creates the bootstrap super-admin account when the
// admins table is empty. Returns (true, nil) when an account was
// created, (false, nil) when admins already exist or no bootstrap
// credentials are configured.
func EnsureAdmin(ctx context.Context, repo AdminRepository, username, password string) (bool, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("checking admin accounts: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if username == "" || password == "" {
		return false, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hashing bootstrap password: %w", err)
	}

	admin := &Admin{
		Username:     username,
		PasswordHash: hash,
		Role:         RoleSuperAdmin,
		IsActive:     true,
	}
	if err := repo.Create(ctx, admin); err != nil {
		return false, fmt.Errorf("creating bootstrap admin: %w", err)
	}
	return true, nil
}
