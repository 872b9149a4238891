package message

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/smtp-dispatch/internal/email"
)

// readChunkSize is the read size used when copying attachment streams.
const readChunkSize = 32 * 1024

// AddressConverter maps a host identity address onto a transport mailbox.
type AddressConverter func(email.Address) Mailbox

// ToMailbox is the default AddressConverter.
func ToMailbox(a email.Address) Mailbox {
	return Mailbox{Name: a.Display, Address: a.Value}
}

// BuildOptions controls how Build maps an email onto a Message.
type BuildOptions struct {
	// Charset is the character encoding of the rendered message.
	// Defaults to DefaultCharset.
	Charset string

	// ConvertAddress defaults to ToMailbox.
	ConvertAddress AddressConverter
}

// Build creates a new Message for e with a freshly generated message ID.
// Attachment streams are read fully; if ctx is cancelled while they are
// being read, Build stops and returns an error wrapping ctx.Err().
func Build(ctx context.Context, e *email.Email, opts BuildOptions) (*Message, error) {
	conv := opts.ConvertAddress
	if conv == nil {
		conv = ToMailbox
	}
	charset := opts.Charset
	if strings.TrimSpace(charset) == "" {
		charset = DefaultCharset
	}

	from := conv(e.From)
	msg := &Message{
		ID:       NewID(from.Address),
		From:     from,
		To:       convertAll(conv, e.To),
		Cc:       convertAll(conv, e.Cc),
		Bcc:      convertAll(conv, e.Bcc),
		ReplyTo:  convertAll(conv, e.ReplyTo),
		Subject:  e.Subject,
		HTMLBody: e.HTMLBody,
		TextBody: e.TextBody,
		Charset:  charset,
	}

	for _, att := range e.Attachments {
		data, err := readAll(ctx, att.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q: %w", att.Name, err)
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:      att.Name,
			MediaType: ParseMediaType(att.ContentType),
			Data:      data,
		})
	}

	return msg, nil
}

// NewID generates a unique message ID using the domain of the sender
// address, or "localhost" when the sender has none.
func NewID(sender string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(sender, '@'); i >= 0 && i < len(sender)-1 {
		domain = sender[i+1:]
	}
	return uuid.NewString() + "@" + domain
}

// ParseMediaType resolves a declared content type into its two parts.
// Parameters after ';' are ignored. Empty input, or input that does not
// split on '/' into exactly two non-empty segments, yields DefaultMediaType.
func ParseMediaType(contentType string) MediaType {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return DefaultMediaType
	}

	parts := strings.Split(contentType, "/")
	if len(parts) != 2 {
		return DefaultMediaType
	}
	mediaType, subtype := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if mediaType == "" || subtype == "" {
		return DefaultMediaType
	}
	return MediaType{Type: mediaType, Subtype: subtype}
}

func convertAll(conv AddressConverter, addrs []email.Address) []Mailbox {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]Mailbox, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, conv(a))
	}
	return out
}

// readAll reads r to EOF, checking ctx between chunks.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, ctx.Err()
	}

	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
