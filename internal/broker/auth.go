package broker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/stashbox/stashbox/internal/api"
)

// ErrInvalidToken is returned for tokens that parse but carry no usable
// subject.
var ErrInvalidToken = errors.New("invalid token")

const ownerContextKey = "stashbox.owner"

// Claims are the bearer token claims. The subject is the owner ID.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for owner valid for ttl.
func IssueToken(secret []byte, owner string, ttl time.Duration, now time.Time) (string, error) {
	if !validOwner(owner) {
		return "", fmt.Errorf("%w: bad subject %q", ErrInvalidToken, owner)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}

// ParseToken verifies tokenString and returns its owner.
func ParseToken(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if !validOwner(claims.Subject) {
		return "", fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return claims.Subject, nil
}

// requireBearer rejects requests without a valid bearer token and stores
// the owner in the echo context.
func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return writeError(c, &Error{Code: api.CodeUnauthorized, Message: "missing bearer token"})
		}

		owner, err := ParseToken(strings.TrimSpace(raw), s.secret)
		if err != nil {
			s.logger.Debug().Err(err).Str("remote", c.RealIP()).Msg("Rejected token")
			return writeError(c, &Error{Code: api.CodeUnauthorized, Message: "invalid or expired token"})
		}

		c.Set(ownerContextKey, owner)
		return next(c)
	}
}

func ownerFrom(c echo.Context) string {
	owner, _ := c.Get(ownerContextKey).(string)
	return owner
}
