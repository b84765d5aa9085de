// Package calendar mirrors reminder schedules into the user's external
// calendar and owns the OAuth token lifecycle that mirroring depends on.
// Every failure here is best effort: it is reported to the caller as a
// result and never blocks the reminder itself.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/lock"
	"github.com/pathakanu/medMemo/internal/model"
	"github.com/pathakanu/medMemo/internal/outcome"
	"github.com/pathakanu/medMemo/internal/timeslot"
	"go.uber.org/zap"
)

const (
	eventLength = 15 * time.Minute
	expirySkew  = 30 * time.Second
)

// TokenStore is the persistence the service needs.
type TokenStore interface {
	GetToken(ctx context.Context, userID uuid.UUID, provider string) (*model.CalendarToken, error)
	SaveToken(ctx context.Context, token *model.CalendarToken) error
	GetEventRecord(ctx context.Context, medicineID, userID uuid.UUID) (*model.CalendarEventRecord, error)
	SaveEventRecord(ctx context.Context, record *model.CalendarEventRecord) error
	DeleteEventRecord(ctx context.Context, medicineID, userID uuid.UUID) error
}

// Options configures a Service.
type Options struct {
	Location *time.Location
	TimeZone string
	Timeout  time.Duration
	Locker   lock.Locker
	Now      func() time.Time
}

// Service mirrors schedules into a calendar Provider.
type Service struct {
	store    TokenStore
	oauth    OAuth
	provider Provider
	locker   lock.Locker
	log      *zap.Logger
	loc      *time.Location
	tz       string
	timeout  time.Duration
	now      func() time.Time
}

// NewService wires a Service. Zero Options fields get in-process defaults.
func NewService(store TokenStore, oauth OAuth, provider Provider, log *zap.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		oauth:    oauth,
		provider: provider,
		locker:   opts.Locker,
		log:      log.With(zap.String("component", "calendar")),
		loc:      opts.Location,
		tz:       opts.TimeZone,
		timeout:  opts.Timeout,
		now:      opts.Now,
	}
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ConnectURL returns the provider consent URL carrying state.
func (s *Service) ConnectURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Connect exchanges an authorization code and stores the resulting token.
func (s *Service) Connect(ctx context.Context, userID uuid.UUID, code string) error {
	if strings.TrimSpace(code) == "" {
		return apperr.Validation("code", "authorization code is required")
	}

	callCtx, cancel := s.callContext(ctx)
	tok, err := s.oauth.Exchange(callCtx, code)
	cancel()
	if err != nil {
		return &apperr.UpstreamAuthError{Provider: ProviderName, Reason: err.Error()}
	}

	return s.store.SaveToken(ctx, &model.CalendarToken{
		UserID:       userID,
		Provider:     ProviderName,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
}

// GetValidToken returns a token that is not expired at return time, or false
// when the user has no usable token. Refreshes are serialized per user so a
// concurrent caller reuses the token another one just stored.
func (s *Service) GetValidToken(ctx context.Context, userID uuid.UUID) (*model.CalendarToken, bool) {
	tok, ok := s.loadToken(ctx, userID)
	if !ok {
		return nil, false
	}
	if !tok.ExpiredAt(s.now(), expirySkew) {
		return tok, true
	}
	if tok.RefreshToken == "" {
		s.log.Info("calendar: token expired without refresh token", zap.String("user_id", userID.String()))
		return nil, false
	}

	unlock, err := s.locker.Lock(ctx, "calendar-token:"+userID.String()+":"+ProviderName)
	if err != nil {
		s.log.Warn("calendar: acquire refresh lock", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, false
	}
	defer unlock()

	tok, ok = s.loadToken(ctx, userID)
	if !ok {
		return nil, false
	}
	if !tok.ExpiredAt(s.now(), expirySkew) {
		return tok, true
	}

	callCtx, cancel := s.callContext(ctx)
	fresh, err := s.oauth.Refresh(callCtx, tok.RefreshToken)
	cancel()
	if err != nil {
		s.log.Warn("calendar: refresh token", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, false
	}

	refreshed := &model.CalendarToken{
		UserID:       userID,
		Provider:     ProviderName,
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	if refreshed.AccessToken == "" || refreshed.ExpiredAt(s.now(), expirySkew) {
		s.log.Warn("calendar: refresh returned an unusable token", zap.String("user_id", userID.String()))
		return nil, false
	}
	if err := s.store.SaveToken(ctx, refreshed); err != nil {
		s.log.Warn("calendar: persist refreshed token", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return refreshed, true
}

func (s *Service) loadToken(ctx context.Context, userID uuid.UUID) (*model.CalendarToken, bool) {
	tok, err := s.store.GetToken(ctx, userID, ProviderName)
	if err != nil {
		var nf *apperr.NotFoundError
		if !errors.As(err, &nf) {
			s.log.Warn("calendar: load token", zap.String("user_id", userID.String()), zap.Error(err))
		}
		return nil, false
	}
	return tok, true
}

// Schedule is the reminder schedule to mirror.
type Schedule struct {
	MedicineID   uuid.UUID
	UserID       uuid.UUID
	MedicineName string
	Dosage       string
	Instructions string
	DurationDays int
	Labels       []timeslot.Label
	From         time.Time
}

// EventFailure records one event that could not be created or deleted.
type EventFailure struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// CreateResult reports the outcome of CreateEventsForSchedule.
type CreateResult struct {
	EventIDs []string
	Failures []EventFailure
	Skipped  string
}

// Outcome collapses the result into a tagged outcome.
func (r CreateResult) Outcome() outcome.Outcome {
	switch {
	case r.Skipped != "":
		return outcome.CalendarSkipped(r.Skipped)
	case len(r.Failures) > 0:
		return outcome.CalendarSyncFailed(fmt.Sprintf("%d of %d events failed: %s",
			len(r.Failures), len(r.Failures)+len(r.EventIDs), r.Failures[0].Reason))
	default:
		return outcome.OK()
	}
}

// RecurrenceRule returns the daily recurrence repeating days times.
func RecurrenceRule(days int) string {
	return fmt.Sprintf("RRULE:FREQ=DAILY;COUNT=%d", days)
}

// BuildEvents returns one recurring event per selected slot, starting at the
// next occurrence of the slot's trigger hour in loc.
func BuildEvents(sch Schedule, loc *time.Location, tz string) []Event {
	description := strings.TrimSpace(strings.Join(nonEmpty(
		prefixed("Dosage: ", sch.Dosage),
		prefixed("Instructions: ", sch.Instructions),
	), "\n"))

	events := make([]Event, 0, len(sch.Labels))
	for _, label := range sch.Labels {
		start := timeslot.NextOccurrence(sch.From, label.TriggerHour(), loc)
		events = append(events, Event{
			Summary:     fmt.Sprintf("Take %s (%s)", sch.MedicineName, label.Display()),
			Description: description,
			Start:       start,
			End:         start.Add(eventLength),
			TimeZone:    tz,
			Recurrence:  []string{RecurrenceRule(sch.DurationDays)},
		})
	}
	return events
}

// CreateEventsForSchedule creates the events of sch one at a time, carrying
// on past individual failures, and records the ids that were created.
func (s *Service) CreateEventsForSchedule(ctx context.Context, sch Schedule) (CreateResult, error) {
	tok, ok := s.GetValidToken(ctx, sch.UserID)
	if !ok {
		return CreateResult{Skipped: "calendar not connected"}, nil
	}
	if sch.From.IsZero() {
		sch.From = s.now()
	}

	var result CreateResult
	for i, event := range BuildEvents(sch, s.loc, s.tz) {
		callCtx, cancel := s.callContext(ctx)
		id, err := s.provider.InsertEvent(callCtx, tok.AccessToken, event)
		cancel()
		if err != nil {
			s.log.Warn("calendar: create event",
				zap.String("medicine_id", sch.MedicineID.String()),
				zap.String("slot", string(sch.Labels[i])),
				zap.Error(err))
			result.Failures = append(result.Failures, EventFailure{Ref: string(sch.Labels[i]), Reason: err.Error()})
			continue
		}
		result.EventIDs = append(result.EventIDs, id)
	}

	if len(result.EventIDs) == 0 {
		return result, nil
	}
	err := s.store.SaveEventRecord(ctx, &model.CalendarEventRecord{
		MedicineID: sch.MedicineID,
		UserID:     sch.UserID,
		EventIDs:   result.EventIDs,
	})
	if err != nil {
		s.discardEvents(ctx, tok.AccessToken, sch.MedicineID, result.EventIDs)
		return CreateResult{Failures: result.Failures}, fmt.Errorf("record calendar events: %w", err)
	}
	return result, nil
}

// discardEvents deletes events whose ids could not be recorded. Ids that
// cannot be deleted either are logged so they can be removed by hand.
func (s *Service) discardEvents(ctx context.Context, accessToken string, medicineID uuid.UUID, ids []string) {
	var orphaned []string
	for _, id := range ids {
		callCtx, cancel := s.callContext(ctx)
		err := s.provider.DeleteEvent(callCtx, accessToken, id)
		cancel()
		if err != nil && !errors.Is(err, ErrEventGone) {
			orphaned = append(orphaned, id)
		}
	}
	if len(orphaned) > 0 {
		s.log.Error("calendar: events created but not recorded",
			zap.String("medicine_id", medicineID.String()),
			zap.Strings("event_ids", orphaned))
	}
}

// DeleteResult reports the outcome of DeleteEventsForMedicine.
type DeleteResult struct {
	Attempted int
	Deleted   int
	Failures  []EventFailure
	Skipped   string
}

// Outcome collapses the result into a tagged outcome.
func (r DeleteResult) Outcome() outcome.Outcome {
	switch {
	case r.Skipped != "":
		return outcome.CalendarSkipped(r.Skipped)
	case len(r.Failures) > 0:
		return outcome.CalendarSyncFailed(fmt.Sprintf("%d of %d event deletions failed: %s",
			len(r.Failures), r.Attempted, r.Failures[0].Reason))
	default:
		return outcome.OK()
	}
}

// DeleteEventsForMedicine deletes every mirrored event of the medicine, carrying
// on past individual failures, then removes the record. Without a record or a
// usable token it does nothing.
func (s *Service) DeleteEventsForMedicine(ctx context.Context, medicineID, userID uuid.UUID) (DeleteResult, error) {
	record, err := s.store.GetEventRecord(ctx, medicineID, userID)
	if err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return DeleteResult{Skipped: "no mirrored events"}, nil
		}
		return DeleteResult{}, err
	}

	tok, ok := s.GetValidToken(ctx, userID)
	if !ok {
		return DeleteResult{Skipped: "calendar not connected"}, nil
	}

	result := DeleteResult{Attempted: len(record.EventIDs)}
	for _, id := range record.EventIDs {
		callCtx, cancel := s.callContext(ctx)
		err := s.provider.DeleteEvent(callCtx, tok.AccessToken, id)
		cancel()
		if err != nil && !errors.Is(err, ErrEventGone) {
			s.log.Warn("calendar: delete event",
				zap.String("medicine_id", medicineID.String()),
				zap.String("event_id", id),
				zap.Error(err))
			result.Failures = append(result.Failures, EventFailure{Ref: id, Reason: err.Error()})
			continue
		}
		result.Deleted++
	}

	if err := s.store.DeleteEventRecord(ctx, medicineID, userID); err != nil {
		return result, fmt.Errorf("remove calendar event record: %w", err)
	}
	return result, nil
}

func prefixed(prefix, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return prefix + strings.TrimSpace(value)
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
