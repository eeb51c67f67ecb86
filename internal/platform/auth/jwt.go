package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"auction-logistics/internal/platform/xerrors"
)

const contextKey = "user"

type Claims struct {
	UserID int64  `json:"uid"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Name   string
	Email  string
	Role   Role
}

func (p Principal) Can(perm Permission) bool { return HasPermission(p.Role, perm) }

// Sign issues an HS256 token for p valid for ttl.
func Sign(secret string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: p.UserID,
		Name:   p.Name,
		Email:  p.Email,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", p.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies a raw token, with or without the Bearer prefix.
func Parse(secret, raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnauthorized, err)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// parsed *jwt.Token under the "user" context key.
func Middleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(secret),
		ContextKey: contextKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "missing or invalid token",
				"code":  xerrors.Code(xerrors.ErrUnauthorized),
			})
		},
	})
}

// FromContext returns the caller stored by Middleware.
func FromContext(c echo.Context) (Principal, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok {
		return Principal{}, xerrors.ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Principal{}, errors.New("unexpected claims type")
	}
	return Principal{UserID: claims.UserID, Name: claims.Name, Email: claims.Email, Role: claims.Role}, nil
}

// Require lets the request through only when the caller's role grants perm.
func Require(perm Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := FromContext(c)
			if err != nil {
				return err
			}
			if !p.Can(perm) {
				return fmt.Errorf("%w: role %s lacks %s", xerrors.ErrForbidden, p.Role, perm)
			}
			return next(c)
		}
	}
}
