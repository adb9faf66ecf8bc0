// Package auth contains the broker's authentication domain model:
// registered services, active users, admin accounts, QR challenge
// sessions and the login history backing bearer sessions.
//
// The package owns:
//   - Token, auth-key, API-key and PIN generation (crypto/rand)
//   - JWT session and admin claims (HS256)
//   - Argon2id password hashing for admin accounts
//   - SQLite repositories for every table it models
//
// State transitions on qr_sessions use conditional UPDATEs with
// affected-row checks so that concurrent scans or verifies of the same
// token resolve to exactly one winner.
//
// Security Considerations:
//   - PIN and API key comparisons are constant-time
//   - Auth keys, PINs and session tokens are never logged
package auth
