package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const stateTTL = 10 * time.Minute

var errCalendarDisabled = echo.NewHTTPError(http.StatusNotFound, "calendar sync is not configured")

// SignState issues the OAuth state for userID.
func (s *Server) SignState(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.deps.StateSecret)
}

// VerifyState returns the user an OAuth state was issued for.
func (s *Server) VerifyState(state string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (interface{}, error) {
		return s.deps.StateSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("verify state: %w", err)
	}
	return uuid.Parse(claims.Subject)
}

// HandleCalendarConnect returns the consent URL for userID.
func (s *Server) HandleCalendarConnect(_ context.Context, userID string) (string, error) {
	if s.deps.Calendar == nil {
		return "", errCalendarDisabled
	}
	id, err := parseID("userId", userID)
	if err != nil {
		return "", err
	}
	state, err := s.SignState(id)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return s.deps.Calendar.ConnectURL(state), nil
}

func (s *Server) calendarConnect(c echo.Context) error {
	target, err := s.HandleCalendarConnect(c.Request().Context(), c.QueryParam("userId"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, target)
}

// CallbackRequest is the provider's redirect back to us.
type CallbackRequest struct {
	Code  string
	State string
	Error string
}

// HandleCalendarCallback stores the user's tokens and returns the dashboard
// URL to send the browser to.
func (s *Server) HandleCalendarCallback(ctx context.Context, req CallbackRequest) (string, error) {
	if s.deps.Calendar == nil {
		return "", errCalendarDisabled
	}
	if req.Error != "" {
		return s.dashboardURL("error"), fmt.Errorf("consent denied: %s", req.Error)
	}
	userID, err := s.VerifyState(req.State)
	if err != nil {
		return s.dashboardURL("error"), err
	}
	if err := s.deps.Calendar.Connect(ctx, userID, req.Code); err != nil {
		return s.dashboardURL("error"), err
	}
	return s.dashboardURL("connected"), nil
}

func (s *Server) calendarCallback(c echo.Context) error {
	target, err := s.HandleCalendarCallback(c.Request().Context(), CallbackRequest{
		Code:  c.QueryParam("code"),
		State: c.QueryParam("state"),
		Error: c.QueryParam("error"),
	})
	if errors.Is(err, errCalendarDisabled) {
		return err
	}
	if err != nil {
		s.log.Warn("calendar connect failed", zap.Error(err))
	}
	return c.Redirect(http.StatusFound, target)
}

func (s *Server) dashboardURL(status string) string {
	return s.deps.AppBaseURL + "/dashboard?calendar=" + url.QueryEscape(status)
}
