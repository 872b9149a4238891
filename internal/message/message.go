// Package message builds transport-ready email messages from the generic
// email model and renders them as MIME.
package message

import (
	"net/mail"
	"strings"
)

// DefaultCharset is used when no character encoding is configured.
const DefaultCharset = "UTF-8"

// Mailbox is a transport mailbox address.
type Mailbox struct {
	Name    string
	Address string
}

// String formats the mailbox for use in a message header. Non-ASCII display
// names are RFC 2047 encoded.
func (m Mailbox) String() string {
	a := mail.Address{Name: m.Name, Address: m.Address}
	return a.String()
}

// MediaType is a two-part MIME type such as text/plain.
type MediaType struct {
	Type    string
	Subtype string
}

// DefaultMediaType is used for attachments whose declared type is missing or
// malformed.
var DefaultMediaType = MediaType{Type: "application", Subtype: "octet-stream"}

func (t MediaType) String() string {
	return t.Type + "/" + t.Subtype
}

// Attachment is a message part carrying file content.
type Attachment struct {
	Name      string
	MediaType MediaType
	Data      []byte
}

// Message is the transport-ready representation of one dispatch. A Message
// is built once per dispatch and never reused.
type Message struct {
	// ID is the Message-ID without angle brackets.
	ID          string
	From        Mailbox
	To          []Mailbox
	Cc          []Mailbox
	Bcc         []Mailbox
	ReplyTo     []Mailbox
	Subject     string
	HTMLBody    string
	TextBody    string
	Charset     string
	Attachments []Attachment
}

// Recipients returns the envelope recipients: every To, Cc and Bcc address
// once, in order of first appearance.
func (m *Message) Recipients() []string {
	seen := make(map[string]struct{})
	var rcpts []string
	for _, list := range [][]Mailbox{m.To, m.Cc, m.Bcc} {
		for _, mb := range list {
			key := strings.ToLower(mb.Address)
			if mb.Address == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			rcpts = append(rcpts, mb.Address)
		}
	}
	return rcpts
}
