package calendar

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ProviderName is the provider key under which calendar tokens are stored.
const ProviderName = "calendar"

// ErrEventGone is returned by a Provider when the event no longer exists.
var ErrEventGone = errors.New("calendar event already deleted")

// Event is one recurring calendar event mirroring a reminder slot.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Recurrence  []string
}

// Provider creates and deletes events in a user's calendar.
type Provider interface {
	InsertEvent(ctx context.Context, accessToken string, event Event) (string, error)
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
}

// OAuth performs the authorization-code and refresh grants.
type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}
