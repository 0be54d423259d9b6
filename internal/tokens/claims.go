package tokens

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessType  = "access"
	refreshType = "refresh"
)

type AccessClaims struct {
	Type      string `json:"typ"`
	Moderator bool   `json:"mod"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Fingerprint is the key a refresh token is tracked under in the revocation store.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newJTI() string { return uuid.NewString() }
