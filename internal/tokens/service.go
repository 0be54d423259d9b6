package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/user_directory/internal/revocation"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Service mints and validates the access/refresh pair. Access tokens are
// checked by signature and expiry alone; refresh tokens must additionally be
// present in the revocation store.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	store         revocation.Store
	now           func() time.Time
}

type Option func(*Service)

func WithTTL(access, refresh time.Duration) Option {
	return func(s *Service) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(accessSecret, refreshSecret []byte, store revocation.Store, opts ...Option) *Service {
	s := &Service{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		store:         store,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) IssueAccessToken(id Identity) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		Type:      accessType,
		Moderator: id.IsModerator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a refresh token for username and records it as usable.
func (s *Service) IssueRefreshToken(ctx context.Context, username string) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.refreshTTL)
	claims := RefreshClaims{
		Type: refreshType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        newJTI(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.store.Track(ctx, Fingerprint(signed), claims.ExpiresAt.Time); err != nil {
		return "", time.Time{}, fmt.Errorf("track refresh token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) ValidateAccessToken(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	var claims AccessClaims
	if _, err := s.parser().ParseWithClaims(raw, &claims, secret(s.accessSecret)); err != nil {
		return Identity{}, classify(err)
	}
	if claims.Type != accessType || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}

	return Identity{Username: claims.Subject, IsModerator: claims.Moderator}, nil
}

// ValidateRefreshToken returns the username the token was issued to.
func (s *Service) ValidateRefreshToken(ctx context.Context, raw string) (string, error) {
	claims, err := s.parseRefresh(raw)
	if err != nil {
		return "", err
	}

	active, err := s.store.Active(ctx, Fingerprint(raw))
	if err != nil {
		return "", fmt.Errorf("check refresh token: %w", err)
	}
	if !active {
		return "", ErrRevokedToken
	}

	return claims.Subject, nil
}

// Redeem validates raw and revokes it in one step. Of several concurrent
// redemptions of the same token only one succeeds; the rest get ErrRevokedToken.
func (s *Service) Redeem(ctx context.Context, raw string) (string, error) {
	claims, err := s.parseRefresh(raw)
	if err != nil {
		return "", err
	}

	consumed, err := s.store.Consume(ctx, Fingerprint(raw))
	if err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	if !consumed {
		return "", ErrRevokedToken
	}

	return claims.Subject, nil
}

// RefreshOwner returns the subject of a well-formed, unexpired refresh token
// without consulting the revocation store.
func (s *Service) RefreshOwner(raw string) (string, error) {
	claims, err := s.parseRefresh(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Revoke makes raw unusable. Unknown and already revoked tokens are accepted.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.store.Revoke(ctx, Fingerprint(raw)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Service) parseRefresh(raw string) (*RefreshClaims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	var claims RefreshClaims
	if _, err := s.parser().ParseWithClaims(raw, &claims, secret(s.refreshSecret)); err != nil {
		return nil, classify(err)
	}
	if claims.Type != refreshType || claims.Subject == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	return &claims, nil
}

func (s *Service) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
}

func secret(key []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %w", ErrExpiredToken, err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidToken, err)
}
