// Package httpapi exposes the reminder operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/dispatch"
	"github.com/pathakanu/medMemo/internal/reminder"
	"go.uber.org/zap"
)

// Dispatcher runs reminder delivery cycles.
type Dispatcher interface {
	Authorize(header string) error
	Run(ctx context.Context) (dispatch.Report, error)
}

// Reminders manages reminder schedules.
type Reminders interface {
	Schedule(ctx context.Context, req reminder.ScheduleRequest) (reminder.ScheduleResult, error)
	Cancel(ctx context.Context, medicineID, userID uuid.UUID) (reminder.CancelResult, error)
}

// CalendarConnector links a user's calendar account.
type CalendarConnector interface {
	ConnectURL(state string) string
	Connect(ctx context.Context, userID uuid.UUID, code string) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the server. Calendar may be nil when sync is disabled.
// AuthSecret verifies user bearer tokens on the reminder routes.
type Dependencies struct {
	Dispatcher  Dispatcher
	Reminders   Reminders
	Calendar    CalendarConnector
	Health      Pinger
	AuthSecret  []byte
	StateSecret []byte
	AppBaseURL  string
}

// Server hosts the HTTP routes.
type Server struct {
	echo *echo.Echo
	deps Dependencies
	log  *zap.Logger
	now  func() time.Time
}

// New builds the server and registers its routes.
func New(deps Dependencies, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		deps: deps,
		log:  log.With(zap.String("component", "http")),
		now:  time.Now,
	}
	e.HTTPErrorHandler = s.handleError
	e.Use(Logger(s.log), Recovery(s.log))

	e.GET("/healthz", s.health)
	api := e.Group("/api")
	api.GET("/cron/send-reminders", s.sendReminders)
	reminders := api.Group("/reminders", s.Authenticate())
	reminders.POST("/schedule", s.schedule)
	reminders.POST("/cancel", s.cancel)
	api.GET("/calendar/connect", s.calendarConnect)
	api.GET("/calendar/callback", s.calendarCallback)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := apperr.HTTPStatus(err)
	message := err.Error()

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
	case errors.Is(err, dispatch.ErrUnauthorized):
		status = http.StatusUnauthorized
		message = "Unauthorized"
	case status == http.StatusInternalServerError:
		s.log.Error("request failed",
			zap.String("path", c.Request().URL.Path),
			zap.Error(err))
		message = "internal server error"
	}

	if err := c.JSON(status, errorResponse{Success: false, Error: message}); err != nil {
		s.log.Warn("write error response", zap.Error(err))
	}
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Health.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
