package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/hnguyen/mailbox/internal/config"
	"github.com/hnguyen/mailbox/internal/logging"
	"github.com/hnguyen/mailbox/internal/model"
)

// imapProvider serves email over IMAP and SMTP for app-password
// accounts. Calendar is not available on this path.
type imapProvider struct {
	cfg      config.Mail
	email    string
	password string
	logger   *slog.Logger
}

func newIMAPProvider(cfg config.Mail, logger *slog.Logger, email, password string) *imapProvider {
	return &imapProvider{
		cfg:      cfg,
		email:    email,
		password: password,
		logger:   logger,
	}
}

// VerifyLogin dials the IMAP endpoint and attempts a login, reporting
// ErrAuthRejected when the server refuses the credentials. It is used
// to validate a password before it is ever persisted.
func VerifyLogin(ctx context.Context, cfg config.Mail, email, password string) error {
	client, err := dialIMAP(ctx, cfg, email, password)
	if err != nil {
		return err
	}
	_ = client.Logout().Wait()
	return nil
}

func dialIMAP(ctx context.Context, cfg config.Mail, email, password string) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(email, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("%w: login for %s: %v", ErrAuthRejected, logging.AnonymizeEmail(email), err)
	}

	if err := ctx.Err(); err != nil {
		_ = client.Logout().Wait()
		return nil, err
	}

	return client, nil
}

// FetchMessages searches the inbox for messages received since the
// given time and returns their envelopes, newest first.
func (p *imapProvider) FetchMessages(ctx context.Context, max int, since time.Time) ([]model.Message, error) {
	client, err := dialIMAP(ctx, p.cfg, p.email, p.password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if max > 0 && len(uids) > max {
		uids = uids[len(uids)-max:]
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	})
	defer fetchCmd.Close()

	var msgs []model.Message
	for {
		raw := fetchCmd.Next()
		if raw == nil {
			break
		}
		buf, err := raw.Collect()
		if err != nil {
			p.logger.Warn("skipping unreadable message", logging.Err(err))
			continue
		}
		msgs = append(msgs, messageFromIMAP(buf))
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching envelopes: %w", err)
	}

	// UID search returns oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// FetchMessageBody locates the message by its Message-ID header and
// parses the MIME tree into text and HTML bodies.
func (p *imapProvider) FetchMessageBody(ctx context.Context, externalID string) (*model.Body, error) {
	client, err := dialIMAP(ctx, p.cfg, p.email, p.password)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	uid, err := p.resolveUID(client, externalID)
	if err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	raw := fetchCmd.Next()
	if raw == nil {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, externalID)
	}
	buf, err := raw.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	rawBody := buf.FindBodySection(bodySection)
	if rawBody == nil {
		return &model.Body{}, nil
	}
	return parseMIMEBody(rawBody), nil
}

// resolveUID maps an external id back to a mailbox UID. External ids
// are Message-ID headers when the server provided one, otherwise the
// UID itself.
func (p *imapProvider) resolveUID(client *imapclient.Client, externalID string) (imap.UID, error) {
	if n, err := strconv.ParseUint(externalID, 10, 32); err == nil {
		return imap.UID(n), nil
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: externalID},
		},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("searching by Message-Id: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, fmt.Errorf("%w: message %s", ErrNotFound, externalID)
	}
	return uids[len(uids)-1], nil
}

// SendMessage submits the draft over SMTP. Port 465 speaks implicit
// TLS; everything else upgrades with STARTTLS.
func (p *imapProvider) SendMessage(ctx context.Context, draft model.Draft) error {
	if len(draft.To) == 0 {
		return ErrMissingRecipient
	}

	raw, err := buildMIME(p.email, draft)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.SMTPHost, p.cfg.SMTPPort)
	auth := sasl.NewPlainClient("", p.email, p.password)
	recipients := append(append([]string(nil), draft.To...), draft.Cc...)

	if p.cfg.SMTPPort == 465 {
		err = smtp.SendMailTLS(addr, auth, p.email, recipients, bytes.NewReader(raw))
	} else {
		err = smtp.SendMail(addr, auth, p.email, recipients, bytes.NewReader(raw))
	}
	if err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code == 535 {
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return fmt.Errorf("sending via %s: %w", addr, err)
	}

	p.logger.Info("message sent",
		slog.Int("recipients", len(recipients)),
		logging.Account(p.email))
	return nil
}

// FetchEvents is unavailable on the IMAP path.
func (p *imapProvider) FetchEvents(ctx context.Context, within model.TimeRange) ([]model.Event, error) {
	return nil, fmt.Errorf("%w: calendar over IMAP", ErrUnsupportedCapability)
}

func (p *imapProvider) SupportsEvents() bool { return false }

func (p *imapProvider) Transient(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 400 && smtpErr.Code < 500
	}
	return transientNet(err)
}

func messageFromIMAP(buf *imapclient.FetchMessageBuffer) model.Message {
	msg := model.Message{
		ExternalID: strconv.FormatUint(uint64(buf.UID), 10),
		Folder:     "inbox",
		Unread:     true,
	}

	if env := buf.Envelope; env != nil {
		if env.MessageID != "" {
			msg.ExternalID = env.MessageID
		}
		msg.Subject = env.Subject
		msg.Date = env.Date

		if len(env.From) > 0 {
			from := env.From[0]
			if from.Name != "" {
				msg.From = from.Name
			} else {
				msg.From = from.Addr()
			}
		}

		to := make([]string, 0, len(env.To))
		for _, addr := range env.To {
			to = append(to, addr.Addr())
		}
		msg.To = strings.Join(to, ", ")
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			msg.Unread = false
			break
		}
	}

	return msg
}

// parseMIMEBody walks the MIME tree and keeps the first text/plain
// and text/html inline parts. Unparseable input falls back to plain
// text verbatim.
func parseMIMEBody(raw []byte) *model.Body {
	body := &model.Body{}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		body.Text = string(raw)
		return body
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF || err != nil {
			break
		}

		h, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && body.Text == "":
			body.Text = string(content)
		case strings.HasPrefix(contentType, "text/html") && body.HTML == "":
			body.HTML = string(content)
		}
	}

	return body
}
