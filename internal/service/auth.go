package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orgforge/orgforge/internal/domain"
	"github.com/orgforge/orgforge/internal/store"
)

var (
	// ErrInvalidCredentials is returned for unknown email and wrong password
	// alike; login never reveals which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims is the signed identity a successful login carries. Downstream
// services trust nothing in it without verifying the signature.
type Claims struct {
	AdminID          string `json:"admin_id"`
	Email            string `json:"email"`
	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	jwt.RegisteredClaims
}

// AuthService verifies admin credentials against the metadata registry and
// issues HS256-signed session tokens. It never touches the collection store.
type AuthService struct {
	registry domain.MetadataRegistry
	secret   []byte
	tokenTTL time.Duration
}

func NewAuthService(registry domain.MetadataRegistry, secret []byte, tokenTTL time.Duration) *AuthService {
	return &AuthService{registry: registry, secret: secret, tokenTTL: tokenTTL}
}

// Login verifies the credentials and returns a signed token embedding the
// admin's identity and organization.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	identity, err := s.registry.VerifyCredential(ctx, email, password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	now := time.Now()
	claims := Claims{
		AdminID:          identity.AdminID.String(),
		Email:            identity.Email,
		OrganizationID:   identity.OrganizationID.String(),
		OrganizationName: identity.OrganizationName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry of a session token and
// returns its claims.
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
