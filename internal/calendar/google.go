package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleOAuth is the OAuth implementation for Google Calendar.
type GoogleOAuth struct {
	cfg *oauth2.Config
}

// NewGoogleOAuth builds an OAuth client limited to the calendar events scope.
func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *GoogleOAuth {
	return &GoogleOAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gcal.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthCodeURL returns the consent URL. Offline access with a forced consent
// prompt makes Google return a refresh token on every connect.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(ctx, code)
}

// Refresh obtains a new access token from a refresh token.
func (g *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// GoogleProvider talks to the Google Calendar API on behalf of a user.
type GoogleProvider struct {
	calendarID string
}

// NewGoogleProvider returns a provider writing to the user's primary calendar.
func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{calendarID: "primary"}
}

func (p *GoogleProvider) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

// InsertEvent creates event with a popup reminder and returns its id.
func (p *GoogleProvider) InsertEvent(ctx context.Context, accessToken string, event Event) (string, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(p.calendarID, &gcal.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start: &gcal.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: event.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: event.TimeZone,
		},
		Recurrence: event.Recurrence,
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "popup", Minutes: 0, ForceSendFields: []string{"Minutes"}},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

// DeleteEvent removes an event. Events already deleted at Google yield ErrEventGone.
func (p *GoogleProvider) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(p.calendarID, eventID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return ErrEventGone
	}
	if err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}
