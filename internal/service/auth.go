package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/querylens/querylens/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Principal is an authenticated caller: the name of an API key, or the
// subject of a bearer token issued for one.
type Principal struct {
	Name string
}

// AuthService resolves API keys and bearer tokens to principals.
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
}

func NewAuthService(st *store.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateAPIKey checks a raw API key against the stored hashes.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*Principal, error) {
	name, err := s.store.ValidateAPIKey(ctx, rawKey)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Principal{Name: name}, nil
}

// ValidateToken verifies a bearer token and returns its principal.
func (s *AuthService) ValidateToken(_ context.Context, tokenStr string) (*Principal, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	return &Principal{Name: claims.Subject}, nil
}

// IssueToken creates a signed bearer token for an API-key holder, so
// short-lived clients don't have to carry the key itself.
func (s *AuthService) IssueToken(_ context.Context, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "querylens",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
