package message

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wneessen/go-mail"
)

// WriteTo renders the message as RFC 5322 MIME and writes it to w.
// Bcc recipients are not written to the headers.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	mm, err := m.mimeMsg()
	if err != nil {
		return 0, err
	}
	return mm.WriteTo(w)
}

// Bytes returns the rendered MIME message.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Message) mimeMsg() (*mail.Msg, error) {
	charset := m.Charset
	if charset == "" {
		charset = DefaultCharset
	}

	mm := mail.NewMsg(mail.WithCharset(mail.Charset(charset)))
	mm.SetMessageIDWithValue(m.ID)
	mm.SetDate()

	if err := mm.From(m.From.String()); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.From.Address, err)
	}
	if len(m.To) > 0 {
		if err := mm.To(mailboxStrings(m.To)...); err != nil {
			return nil, fmt.Errorf("invalid To address: %w", err)
		}
	}
	if len(m.Cc) > 0 {
		if err := mm.Cc(mailboxStrings(m.Cc)...); err != nil {
			return nil, fmt.Errorf("invalid Cc address: %w", err)
		}
	}
	if len(m.Bcc) > 0 {
		if err := mm.Bcc(mailboxStrings(m.Bcc)...); err != nil {
			return nil, fmt.Errorf("invalid Bcc address: %w", err)
		}
	}
	for _, mb := range m.ReplyTo {
		if err := mm.ReplyTo(mb.String()); err != nil {
			return nil, fmt.Errorf("invalid Reply-To address: %w", err)
		}
	}
	if len(m.ReplyTo) > 1 {
		// Msg.ReplyTo keeps only one address.
		mm.SetGenHeader(mail.HeaderReplyTo, mailboxStrings(m.ReplyTo)...)
	}
	mm.Subject(m.Subject)

	switch {
	case m.TextBody != "" && m.HTMLBody != "":
		mm.SetBodyString(mail.TypeTextPlain, m.TextBody)
		mm.AddAlternativeString(mail.TypeTextHTML, m.HTMLBody)
	case m.HTMLBody != "":
		mm.SetBodyString(mail.TypeTextHTML, m.HTMLBody)
	case m.TextBody != "":
		mm.SetBodyString(mail.TypeTextPlain, m.TextBody)
	}

	for _, att := range m.Attachments {
		err := mm.AttachReader(att.Name, bytes.NewReader(att.Data),
			mail.WithFileContentType(mail.ContentType(att.MediaType.String())))
		if err != nil {
			return nil, fmt.Errorf("failed to attach %q: %w", att.Name, err)
		}
	}

	return mm, nil
}

func mailboxStrings(list []Mailbox) []string {
	out := make([]string, 0, len(list))
	for _, mb := range list {
		out = append(out, mb.String())
	}
	return out
}
