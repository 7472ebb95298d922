package provider

import (
	"bytes"
	"fmt"
	"io"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/hnguyen/mailbox/internal/model"
)

// buildMIME renders a draft as an RFC 5322 message with a single
// text/plain part.
func buildMIME(from string, draft model.Draft) ([]byte, error) {
	var buf bytes.Buffer

	var h gomail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*gomail.Address{{Address: from}})
	h.SetAddressList("To", addressList(draft.To))
	if len(draft.Cc) > 0 {
		h.SetAddressList("Cc", addressList(draft.Cc))
	}
	h.SetSubject(draft.Subject)

	mw, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(mw, draft.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}

	return buf.Bytes(), nil
}

func addressList(addrs []string) []*gomail.Address {
	list := make([]*gomail.Address, len(addrs))
	for i, a := range addrs {
		list[i] = &gomail.Address{Address: a}
	}
	return list
}
