package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/model"
)

// googleProvider serves both email and calendar through the Gmail and
// Calendar APIs, authenticated by the session's OAuth token.
type googleProvider struct {
	gmail    *gmail.UsersService
	calendar *calendar.Service
	email    string
	logger   *slog.Logger
}

func newGoogleProvider(ctx context.Context, g config.Google, logger *slog.Logger, email string, secret model.Secret) (*googleProvider, error) {
	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     googleoauth.Endpoint,
		RedirectURL:  g.RedirectURL(),
		Scopes:       g.Scopes,
	}

	token := &oauth2.Token{
		AccessToken:  secret.AccessToken,
		RefreshToken: secret.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       secret.TokenExpiry,
	}

	client := oauth2.NewClient(ctx, conf.TokenSource(ctx, token))

	gmailSvc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating Gmail service: %w", err)
	}
	calSvc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating Calendar service: %w", err)
	}

	return &googleProvider{
		gmail:    gmailSvc.Users,
		calendar: calSvc,
		email:    email,
		logger:   logger,
	}, nil
}

// FetchMessages lists inbox message ids and resolves each to its
// metadata headers. The Gmail list order is already newest first.
func (p *googleProvider) FetchMessages(ctx context.Context, max int, since time.Time) ([]model.Message, error) {
	call := p.gmail.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(int64(max)).
		Context(ctx)
	if !since.IsZero() {
		call = call.Q(fmt.Sprintf("after:%d", since.Unix()))
	}

	res, err := call.Do()
	if err != nil {
		return nil, mapGoogleError(err)
	}

	msgs := make([]model.Message, 0, len(res.Messages))
	for _, ref := range res.Messages {
		full, err := p.gmail.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapGoogleError(err)
		}
		msgs = append(msgs, messageFromGmail(full))
	}

	return msgs, nil
}

// FetchMessageBody fetches the full payload and extracts the text and
// HTML parts.
func (p *googleProvider) FetchMessageBody(ctx context.Context, externalID string) (*model.Body, error) {
	full, err := p.gmail.Messages.Get("me", externalID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError(err)
	}

	body := &model.Body{}
	collectParts(full.Payload, body)
	return body, nil
}

// SendMessage builds an RFC 5322 message and submits it through the
// Gmail send endpoint.
func (p *googleProvider) SendMessage(ctx context.Context, draft model.Draft) error {
	if len(draft.To) == 0 {
		return ErrMissingRecipient
	}

	raw, err := buildMIME(p.email, draft)
	if err != nil {
		return err
	}

	_, err = p.gmail.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return mapGoogleError(err)
	}
	return nil
}

// FetchEvents lists upcoming events from the primary calendar.
func (p *googleProvider) FetchEvents(ctx context.Context, within model.TimeRange) ([]model.Event, error) {
	res, err := p.calendar.Events.List("primary").
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(within.Start.Format(time.RFC3339)).
		TimeMax(within.End.Format(time.RFC3339)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapGoogleError(err)
	}

	events := make([]model.Event, 0, len(res.Items))
	for _, item := range res.Items {
		ev, ok := eventFromCalendar(item)
		if !ok {
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func (p *googleProvider) SupportsEvents() bool { return true }

// Transient treats rate limiting and server-side failures as
// retryable; 4xx (including auth rejections) propagate immediately.
func (p *googleProvider) Transient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return transientNet(err)
}

func mapGoogleError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 404:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
	}
	return err
}

func messageFromGmail(m *gmail.Message) model.Message {
	msg := model.Message{
		ExternalID: m.Id,
		Folder:     "inbox",
		Snippet:    m.Snippet,
		Date:       time.UnixMilli(m.InternalDate).UTC(),
	}

	for _, label := range m.LabelIds {
		if label == "UNREAD" {
			msg.Unread = true
			break
		}
	}

	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		switch h.Name {
		case "From":
			msg.From = parseAddress(h.Value)
		case "To":
			msg.To = h.Value
		case "Subject":
			msg.Subject = h.Value
		}
	}

	return msg
}

func parseAddress(raw string) string {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return raw
	}
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}

// collectParts walks a Gmail payload tree and fills body with the
// first text/plain and text/html leaves.
func collectParts(part *gmail.MessagePart, body *model.Body) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain") && body.Text == "":
				body.Text = string(decoded)
			case strings.HasPrefix(part.MimeType, "text/html") && body.HTML == "":
				body.HTML = string(decoded)
			}
		}
	}

	for _, child := range part.Parts {
		collectParts(child, body)
	}
}

func eventFromCalendar(item *calendar.Event) (model.Event, bool) {
	ev := model.Event{
		ExternalID: item.Id,
		Summary:    item.Summary,
		Location:   item.Location,
	}

	start, allDay, ok := parseEventTime(item.Start)
	if !ok {
		return model.Event{}, false
	}
	end, _, ok := parseEventTime(item.End)
	if !ok {
		end = start
	}

	ev.Start = start
	ev.End = end
	ev.AllDay = allDay
	return ev, true
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool, bool) {
	if edt == nil {
		return time.Time{}, false, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, false, true
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, true, true
	}
	return time.Time{}, false, false
}
