package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/dispatch"
	"github.com/pathakanu/medMemo/internal/outcome"
	"github.com/pathakanu/medMemo/internal/reminder"
	"github.com/pathakanu/medMemo/internal/timeslot"
)

// CronRequest carries the trigger's credentials.
type CronRequest struct {
	Authorization string
}

// HandleCron authorizes the trigger and runs one dispatch cycle.
func (s *Server) HandleCron(ctx context.Context, req CronRequest) (dispatch.Report, error) {
	if err := s.deps.Dispatcher.Authorize(req.Authorization); err != nil {
		return dispatch.Report{}, err
	}
	return s.deps.Dispatcher.Run(ctx)
}

func (s *Server) sendReminders(c echo.Context) error {
	report, err := s.HandleCron(c.Request().Context(), CronRequest{
		Authorization: c.Request().Header.Get(echo.HeaderAuthorization),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ScheduleBody is the JSON body of the schedule endpoint. UserID is
// optional; when present it must name the authenticated user.
type ScheduleBody struct {
	MedicineID   string `json:"medicineId"`
	UserID       string `json:"userId"`
	DurationDays int    `json:"durationDays"`
	Morning      bool   `json:"morning"`
	Noon         bool   `json:"noon"`
	Night        bool   `json:"night"`
}

// ScheduleResponse is returned after a successful schedule.
type ScheduleResponse struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	RemindersCreated int             `json:"remindersCreated"`
	ScheduledTimes   []string        `json:"scheduledTimes"`
	Calendar         outcome.Outcome `json:"calendar"`
}

// Request converts the body into a lifecycle request for userID.
func (b ScheduleBody) Request(userID uuid.UUID) (reminder.ScheduleRequest, error) {
	medicineID, err := parseID("medicineId", b.MedicineID)
	if err != nil {
		return reminder.ScheduleRequest{}, err
	}
	if strings.TrimSpace(b.UserID) != "" {
		claimed, err := parseID("userId", b.UserID)
		if err != nil {
			return reminder.ScheduleRequest{}, err
		}
		if claimed != userID {
			return reminder.ScheduleRequest{}, apperr.NotFound("medicine", medicineID.String())
		}
	}
	req := reminder.ScheduleRequest{
		MedicineID:   medicineID,
		UserID:       userID,
		DurationDays: b.DurationDays,
		Times:        timeslot.Selection{Morning: b.Morning, Noon: b.Noon, Night: b.Night},
	}
	return req, req.Validate()
}

// HandleSchedule replaces the reminder schedule of a medicine owned by the
// authenticated user.
func (s *Server) HandleSchedule(ctx context.Context, body ScheduleBody) (ScheduleResponse, error) {
	userID, err := principal(ctx)
	if err != nil {
		return ScheduleResponse{}, err
	}
	req, err := body.Request(userID)
	if err != nil {
		return ScheduleResponse{}, err
	}

	result, err := s.deps.Reminders.Schedule(ctx, req)
	if err != nil {
		return ScheduleResponse{}, err
	}

	times := make([]string, len(result.ScheduledTimes))
	for i, label := range result.ScheduledTimes {
		times[i] = string(label)
	}
	return ScheduleResponse{
		Success:          true,
		Message:          fmt.Sprintf("Scheduled %d reminder(s) for %d day(s)", result.RemindersCreated, req.DurationDays),
		RemindersCreated: result.RemindersCreated,
		ScheduledTimes:   times,
		Calendar:         result.Calendar,
	}, nil
}

func (s *Server) schedule(c echo.Context) error {
	var body ScheduleBody
	if err := c.Bind(&body); err != nil {
		return apperr.Validation("body", "must be a JSON object")
	}
	resp, err := s.HandleSchedule(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelBody is the JSON body of the cancel endpoint.
type CancelBody struct {
	MedicineID string `json:"medicineId"`
}

// CancelResponse is returned after a cancel.
type CancelResponse struct {
	Success     bool            `json:"success"`
	Deactivated int64           `json:"deactivated"`
	Calendar    outcome.Outcome `json:"calendar"`
}

// HandleCancel deactivates the reminders of a medicine owned by the
// authenticated user.
func (s *Server) HandleCancel(ctx context.Context, body CancelBody) (CancelResponse, error) {
	userID, err := principal(ctx)
	if err != nil {
		return CancelResponse{}, err
	}
	medicineID, err := parseID("medicineId", body.MedicineID)
	if err != nil {
		return CancelResponse{}, err
	}
	result, err := s.deps.Reminders.Cancel(ctx, medicineID, userID)
	if err != nil {
		return CancelResponse{}, err
	}
	return CancelResponse{Success: true, Deactivated: result.Deactivated, Calendar: result.Calendar}, nil
}

func (s *Server) cancel(c echo.Context) error {
	var body CancelBody
	if err := c.Bind(&body); err != nil {
		return apperr.Validation("body", "must be a JSON object")
	}
	resp, err := s.HandleCancel(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func parseID(field, value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, apperr.Validation(field, "is required")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperr.Validation(field, "must be a valid id")
	}
	return id, nil
}
