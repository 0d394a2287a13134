package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/CUknot/locshare/logging"
)

// Claims carried by a session token.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (c *Claims) User() User {
	return User{ID: c.UserID, Email: c.Email, Username: c.Username}
}

// JWTProvider issues and verifies session tokens and implements Provider
// for tokens attached with WithToken.
type JWTProvider struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationStore
	now         func() time.Time
}

func NewJWTProvider(secret string, ttl time.Duration, revocations RevocationStore) *JWTProvider {
	if secret == "" {
		panic("jwt secret cannot be empty")
	}
	return &JWTProvider{
		secret:      []byte(secret),
		ttl:         ttl,
		revocations: revocations,
		now:         time.Now,
	}
}

// Issue signs a token for u valid for the configured TTL.
func (p *JWTProvider) Issue(u User) (string, error) {
	now := p.now()
	claims := Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks a token. Every failure wraps ErrUnauthenticated.
func (p *JWTProvider) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, fmt.Errorf("%w: token has expired", ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}

	if p.revocations != nil {
		revoked, err := p.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
		}
	}
	return claims, nil
}

func (p *JWTProvider) CurrentUser(ctx context.Context) (User, error) {
	token, ok := TokenFrom(ctx)
	if !ok {
		return User{}, ErrUnauthenticated
	}
	claims, err := p.Verify(ctx, token)
	if err != nil {
		return User{}, err
	}
	return claims.User(), nil
}

// SignOut revokes the token attached to ctx until it would have expired.
func (p *JWTProvider) SignOut(ctx context.Context) error {
	token, ok := TokenFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	claims, err := p.Verify(ctx, token)
	if err != nil {
		return err
	}
	if p.revocations == nil {
		return nil
	}
	if err := p.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	logging.ForUser(ctx, claims.UserID).Info().Msg("User signed out")
	return nil
}
