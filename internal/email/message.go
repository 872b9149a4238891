// Package email defines the generic email model handed to channel providers.
package email

import (
	"io"
	"strings"
)

// Address is an identity address as known to the host: the mailbox value
// plus an optional display name.
type Address struct {
	Value   string
	Display string
}

// NewAddress returns an Address for value with an optional display name.
func NewAddress(value string, display ...string) Address {
	a := Address{Value: strings.TrimSpace(value)}
	if len(display) > 0 {
		a.Display = display[0]
	}
	return a
}

// String formats the address the way it would appear in a header.
func (a Address) String() string {
	if a.Display == "" {
		return a.Value
	}
	return a.Display + " <" + a.Value + ">"
}

// Email represents a message to be dispatched over the email channel.
// HTMLBody and TextBody are optional; an empty string means absent.
type Email struct {
	From        Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
}

// Attachment represents a file attached to an email message.
// Content is owned by the caller; providers only read it.
type Attachment struct {
	Name        string
	ContentType string
	Content     io.Reader
}
