// Package identity verifies bearer tokens minted by the external identity
// provider. It never issues credentials.
package identity

import (
	"alcyxob/coachsync/internal/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// Provider turns a token into a verified identity.
type Provider interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Claims is the token payload.
type Claims struct {
	UserID string      `json:"uid"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens.
type JWTProvider struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewJWTProvider(secret string, leeway time.Duration) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		leeway: leeway,
		now:    time.Now,
		// Time claims are checked below with leeway.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation()),
	}
}

func (p *JWTProvider) Verify(_ context.Context, token string) (domain.Identity, error) {
	claims := &Claims{}
	_, err := p.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := p.now()
	if claims.ExpiresAt == nil || !claims.VerifyExpiresAt(now.Add(-p.leeway), true) {
		return domain.Identity{}, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(p.leeway), false) {
		return domain.Identity{}, fmt.Errorf("%w: token not valid yet", ErrInvalidToken)
	}

	actorID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: malformed uid claim", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return domain.Identity{ActorID: actorID, Role: claims.Role}, nil
}
