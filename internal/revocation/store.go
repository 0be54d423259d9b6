// Package revocation keeps track of which refresh tokens may still be used.
//
// A Store holds the set of issued, not yet revoked refresh tokens. Tokens are
// identified by an opaque key (the token service passes a SHA-256 fingerprint
// of the raw token string). Anything not in the set is treated as revoked, so
// an empty store at process start rejects every refresh token issued before.
package revocation

import (
	"context"
	"time"
)

type Store interface {
	// Track marks key as usable until expiresAt.
	Track(ctx context.Context, key string, expiresAt time.Time) error
	// Active reports whether key was tracked and has not been revoked.
	Active(ctx context.Context, key string) (bool, error)
	// Revoke removes key. Revoking an unknown or already revoked key is not an error.
	Revoke(ctx context.Context, key string) error
	// Consume removes key and reports whether it was active. Exactly one of
	// several concurrent callers for the same key gets true.
	Consume(ctx context.Context, key string) (bool, error)
}
