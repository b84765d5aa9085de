package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const userIDKey contextKey = "user_id"

var errUnauthenticated = echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")

// WithUserID returns ctx carrying the authenticated user.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// VerifyUserToken validates an HS256 bearer token and returns its subject.
func (s *Server) VerifyUserToken(token string) (uuid.UUID, error) {
	if len(s.deps.AuthSecret) == 0 {
		return uuid.Nil, errUnauthenticated
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.deps.AuthSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, errUnauthenticated
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errUnauthenticated
	}
	return id, nil
}

// Authenticate requires a valid user bearer token and stores its subject on
// the request context. Without an auth secret every request is rejected.
func (s *Server) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			parts := strings.SplitN(c.Request().Header.Get(echo.HeaderAuthorization), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return errUnauthenticated
			}
			userID, err := s.VerifyUserToken(strings.TrimSpace(parts[1]))
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(WithUserID(c.Request().Context(), userID)))
			return next(c)
		}
	}
}

func principal(ctx context.Context) (uuid.UUID, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, errUnauthenticated
	}
	return userID, nil
}
