package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/database/dbtest"
	"github.com/pathakanu/medMemo/internal/dispatch"
	"github.com/pathakanu/medMemo/internal/outcome"
	"github.com/pathakanu/medMemo/internal/reminder"
	"github.com/pathakanu/medMemo/internal/store"
	"github.com/pathakanu/medMemo/internal/timeslot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	secret string
	report dispatch.Report
	err    error
	runs   int
}

func (f *fakeDispatcher) Authorize(header string) error {
	if f.secret != "" && header != "Bearer "+f.secret {
		return dispatch.ErrUnauthorized
	}
	return nil
}

func (f *fakeDispatcher) Run(context.Context) (dispatch.Report, error) {
	f.runs++
	return f.report, f.err
}

type cancelCall struct {
	medicineID uuid.UUID
	userID     uuid.UUID
}

type fakeReminders struct {
	scheduled []reminder.ScheduleRequest
	cancelled []cancelCall
	err       error
}

func (f *fakeReminders) Schedule(_ context.Context, req reminder.ScheduleRequest) (reminder.ScheduleResult, error) {
	if f.err != nil {
		return reminder.ScheduleResult{}, f.err
	}
	f.scheduled = append(f.scheduled, req)
	labels := req.Times.Labels()
	return reminder.ScheduleResult{
		RemindersCreated: len(labels),
		ScheduledTimes:   labels,
		Calendar:         outcome.CalendarSkipped("calendar not connected"),
	}, nil
}

func (f *fakeReminders) Cancel(_ context.Context, medicineID, userID uuid.UUID) (reminder.CancelResult, error) {
	if f.err != nil {
		return reminder.CancelResult{}, f.err
	}
	f.cancelled = append(f.cancelled, cancelCall{medicineID: medicineID, userID: userID})
	return reminder.CancelResult{Deactivated: 2, Calendar: outcome.OK()}, nil
}

type fakeCalendar struct {
	connected map[uuid.UUID]string
	err       error
}

func (f *fakeCalendar) ConnectURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeCalendar) Connect(_ context.Context, userID uuid.UUID, code string) error {
	if f.err != nil {
		return f.err
	}
	f.connected[userID] = code
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	server    *Server
	dispatch  *fakeDispatcher
	reminders *fakeReminders
	calendar  *fakeCalendar
	user      uuid.UUID
	auth      http.Header
}

var authSecret = []byte("auth-secret")

func signUserToken(t *testing.T, secret []byte, userID uuid.UUID, expires time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(expires),
	}).SignedString(secret)
	require.NoError(t, err)
	return token
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dispatch:  &fakeDispatcher{secret: "s3cret"},
		reminders: &fakeReminders{},
		calendar:  &fakeCalendar{connected: map[uuid.UUID]string{}},
		user:      uuid.New(),
	}
	f.auth = bearer(signUserToken(t, authSecret, f.user, testNow.Add(time.Hour)))
	f.server = New(Dependencies{
		Dispatcher:  f.dispatch,
		Reminders:   f.reminders,
		Calendar:    f.calendar,
		Health:      fakePinger{},
		AuthSecret:  authSecret,
		StateSecret: []byte("state-secret"),
		AppBaseURL:  "https://app.example.com",
	}, zap.NewNop())
	f.server.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCronRejectsWrongSecret(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/cron/send-reminders", "", http.Header{"Authorization": {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decode(t, rec)["error"])
	assert.Zero(t, f.dispatch.runs)
}

func TestCronReturnsReport(t *testing.T) {
	f := newFixture(t)
	f.dispatch.report = dispatch.Report{Message: dispatch.MessageNotScheduled, Timestamp: testNow}

	rec := f.do(t, http.MethodGet, "/api/cron/send-reminders", "", http.Header{"Authorization": {"Bearer s3cret"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, dispatch.MessageNotScheduled, body["message"])
	assert.Nil(t, body["scheduledHour"])
	assert.Contains(t, body, "emailsSent")
}

func TestCronStoreFailureIs500(t *testing.T) {
	f := newFixture(t)
	f.dispatch.err = apperr.Store("fetch due reminders", errors.New("connection refused"))

	rec := f.do(t, http.MethodGet, "/api/cron/send-reminders", "", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestScheduleEndpoint(t *testing.T) {
	f := newFixture(t)
	medicineID := uuid.New()
	body := `{"medicineId":"` + medicineID.String() + `","userId":"` + f.user.String() + `","durationDays":7,"morning":true,"night":true}`

	rec := f.do(t, http.MethodPost, "/api/reminders/schedule", body, f.auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.RemindersCreated)
	assert.Equal(t, []string{"morning", "night"}, resp.ScheduledTimes)
	assert.Equal(t, outcome.KindCalendarSkipped, resp.Calendar.Kind)

	require.Len(t, f.reminders.scheduled, 1)
	got := f.reminders.scheduled[0]
	assert.Equal(t, medicineID, got.MedicineID)
	assert.Equal(t, f.user, got.UserID)
	assert.Equal(t, timeslot.Selection{Morning: true, Night: true}, got.Times)
}

func TestScheduleEndpointUsesAuthenticatedUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reminders/schedule",
		`{"medicineId":"`+uuid.NewString()+`","durationDays":2,"noon":true}`, f.auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.reminders.scheduled, 1)
	assert.Equal(t, f.user, f.reminders.scheduled[0].UserID)

	rec = f.do(t, http.MethodPost, "/api/reminders/schedule",
		`{"medicineId":"`+uuid.NewString()+`","userId":"`+uuid.NewString()+`","durationDays":2,"noon":true}`, f.auth)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a body naming another user is refused")
	assert.Len(t, f.reminders.scheduled, 1)
}

func TestReminderRoutesRequireUserToken(t *testing.T) {
	f := newFixture(t)
	body := `{"medicineId":"` + uuid.NewString() + `","durationDays":2,"noon":true}`

	headers := map[string]http.Header{
		"no header":      nil,
		"cron secret":    {"Authorization": {"Bearer s3cret"}},
		"wrong key":      bearer(signUserToken(t, []byte("other"), f.user, testNow.Add(time.Hour))),
		"expired":        bearer(signUserToken(t, authSecret, f.user, testNow.Add(-time.Minute))),
		"not bearer":     {"Authorization": {"Basic dXNlcjpwYXNz"}},
		"non-id subject": bearer(func() string {
			tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   "admin",
				ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
			}).SignedString(authSecret)
			require.NoError(t, err)
			return tok
		}()),
	}
	for name, header := range headers {
		for _, path := range []string{"/api/reminders/schedule", "/api/reminders/cancel"} {
			rec := f.do(t, http.MethodPost, path, body, header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", name, path)
		}
	}
	assert.Empty(t, f.reminders.scheduled)
	assert.Empty(t, f.reminders.cancelled)
}

func TestReminderRoutesRejectAllWithoutAuthSecret(t *testing.T) {
	f := newFixture(t)
	f.server.deps.AuthSecret = nil

	rec := f.do(t, http.MethodPost, "/api/reminders/cancel", `{"medicineId":"`+uuid.NewString()+`"}`, f.auth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.reminders.cancelled)
}

func TestHandleScheduleWithoutPrincipal(t *testing.T) {
	f := newFixture(t)

	_, err := f.server.HandleSchedule(context.Background(), ScheduleBody{MedicineID: uuid.NewString(), DurationDays: 1, Noon: true})
	assert.ErrorIs(t, err, errUnauthenticated)

	_, err = f.server.HandleCancel(context.Background(), CancelBody{MedicineID: uuid.NewString()})
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestScheduleEndpointValidation(t *testing.T) {
	f := newFixture(t)
	id := uuid.New().String()
	user := f.user.String()

	cases := map[string]string{
		"missing medicine": `{"userId":"` + user + `","durationDays":3,"noon":true}`,
		"bad id":           `{"medicineId":"abc","durationDays":3,"noon":true}`,
		"bad user id":      `{"medicineId":"` + id + `","userId":"abc","durationDays":3,"noon":true}`,
		"no times":         `{"medicineId":"` + id + `","durationDays":3}`,
		"zero duration":    `{"medicineId":"` + id + `","noon":true}`,
		"not json":         `[1,2`,
	}
	for name, body := range cases {
		rec := f.do(t, http.MethodPost, "/api/reminders/schedule", body, f.auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Empty(t, f.reminders.scheduled)
}

func TestScheduleEndpointUnknownMedicine(t *testing.T) {
	f := newFixture(t)
	f.reminders.err = apperr.NotFound("medicine", "x")

	rec := f.do(t, http.MethodPost, "/api/reminders/schedule",
		`{"medicineId":"`+uuid.NewString()+`","durationDays":3,"noon":true}`, f.auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/api/reminders/cancel", `{"medicineId":"`+id.String()+`"}`, f.auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, []cancelCall{{medicineID: id, userID: f.user}}, f.reminders.cancelled)

	rec = f.do(t, http.MethodPost, "/api/reminders/cancel", `{}`, f.auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrossUserRequestsAreNotFound(t *testing.T) {
	db := dbtest.Open(t)
	owner, medicine := dbtest.SeedMedicine(t, db, "Methotrexate")
	stranger, _ := dbtest.SeedMedicine(t, db, "Other")
	manager := reminder.NewManager(store.New(db, time.Second), nil, zap.NewNop(),
		reminder.WithClock(func() time.Time { return testNow }))

	s := New(Dependencies{Reminders: manager, AuthSecret: authSecret}, zap.NewNop())
	s.now = func() time.Time { return testNow }
	f := &fixture{server: s}
	ownerAuth := bearer(signUserToken(t, authSecret, owner.ID, testNow.Add(time.Hour)))
	strangerAuth := bearer(signUserToken(t, authSecret, stranger.ID, testNow.Add(time.Hour)))
	schedule := `{"medicineId":"` + medicine.ID.String() + `","durationDays":5,"morning":true,"night":true}`
	cancel := `{"medicineId":"` + medicine.ID.String() + `"}`

	rec := f.do(t, http.MethodPost, "/api/reminders/schedule", schedule, ownerAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/reminders/schedule", schedule, strangerAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/reminders/cancel", cancel, strangerAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	active := 0
	for _, slot := range dbtest.Slots(t, db, medicine.ID) {
		if slot.IsActive {
			active++
		}
	}
	assert.Equal(t, 2, active, "the owner's schedule survives another user's requests")

	rec = f.do(t, http.MethodPost, "/api/reminders/cancel", cancel, ownerAuth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["deactivated"])
}

func TestStateRoundTrip(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	state, err := f.server.SignState(userID)
	require.NoError(t, err)

	got, err := f.server.VerifyState(state)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	f.server.now = func() time.Time { return testNow.Add(stateTTL + time.Minute) }
	_, err = f.server.VerifyState(state)
	assert.Error(t, err, "expired state is rejected")

	other := New(Dependencies{StateSecret: []byte("other")}, zap.NewNop())
	other.now = func() time.Time { return testNow }
	_, err = other.VerifyState(state)
	assert.Error(t, err, "state signed with another secret is rejected")
}

func TestCalendarConnectAndCallback(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	rec := f.do(t, http.MethodGet, "/api/calendar/connect?userId="+userID.String(), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	rec = f.do(t, http.MethodGet, "/api/calendar/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example.com/dashboard?calendar=connected", rec.Header().Get("Location"))
	assert.Equal(t, "abc", f.calendar.connected[userID])
}

func TestCalendarCallbackFailuresRedirectToError(t *testing.T) {
	f := newFixture(t)
	state, err := f.server.SignState(uuid.New())
	require.NoError(t, err)

	targets := []string{
		"/api/calendar/callback?code=abc&state=forged",
		"/api/calendar/callback?error=access_denied&state=" + url.QueryEscape(state),
	}
	for _, target := range targets {
		rec := f.do(t, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusFound, rec.Code, target)
		assert.Equal(t, "https://app.example.com/dashboard?calendar=error", rec.Header().Get("Location"), target)
	}

	f.calendar.err = &apperr.UpstreamAuthError{Provider: "calendar", Reason: "invalid_grant"}
	rec := f.do(t, http.MethodGet, "/api/calendar/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	assert.Equal(t, "https://app.example.com/dashboard?calendar=error", rec.Header().Get("Location"))
	assert.Empty(t, f.calendar.connected)
}

func TestCalendarDisabled(t *testing.T) {
	s := New(Dependencies{Health: fakePinger{}}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/connect?userId="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.server.deps.Health = fakePinger{err: errors.New("down")}
	rec = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoveryConvertsPanics(t *testing.T) {
	s := New(Dependencies{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
