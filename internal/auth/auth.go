// Package auth verifies caller identity tokens and mints them for development.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

//go:generate mockgen -destination=mock_verifier.go -package=auth live-auction/internal/auth Verifier

const DefaultTokenTTL = 24 * time.Hour

// Claims is the token payload
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer token into a verified identity
type Verifier interface {
	Verify(ctx context.Context, token string) (model.Identity, error)
}

// UserLookup loads the account behind a token
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
}

// JWTVerifier checks HS256 tokens and then the account state
type JWTVerifier struct {
	secret []byte
	users  UserLookup
}

// NewJWTVerifier creates a verifier for tokens signed with secret
func NewJWTVerifier(secret string, users UserLookup) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), users: users}
}

// Verify validates the token signature and expiry, then requires the user
// to exist, be active and not banned. The role comes from the store.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, biddingerrors.ErrUnauthenticated
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: %w - %v", biddingerrors.ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return model.Identity{}, fmt.Errorf("auth: %w - missing userId claim", biddingerrors.ErrInvalidToken)
	}

	u, err := v.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrUserNotFound) {
			return model.Identity{}, fmt.Errorf("auth: %w - unknown user %s", biddingerrors.ErrInvalidToken, claims.UserID)
		}
		return model.Identity{}, fmt.Errorf("auth: failed to load user %s: %w", claims.UserID, err)
	}
	if !u.Active || u.Banned {
		return model.Identity{}, fmt.Errorf("auth: %w - user %s", biddingerrors.ErrUserInactive, u.UserID)
	}

	role := u.Role
	if role == "" {
		role = model.RoleClient
	}
	return model.Identity{UserID: u.UserID, Role: role}, nil
}

// Issuer mints signed tokens
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A non-positive ttl uses DefaultTokenTTL.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a token identifying userID
func (i *Issuer) Issue(userID string) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest reads the token from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query param.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
