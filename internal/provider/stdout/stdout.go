// Package stdout implements an email channel provider that prints emails
// to standard output instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
	"github.com/shineum/smtp-dispatch/internal/provider"
)

// ProviderID is the base channel provider ID of the stdout provider.
const ProviderID = "stdout"

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Register adds a stdout provider writing to w to reg for the email channel.
// A nil w means os.Stdout.
func Register(reg *provider.Registry, w io.Writer, providerID string) error {
	if w == nil {
		w = os.Stdout
	}
	return reg.Add(provider.ID(ProviderID, providerID), provider.ChannelEmail, func(context.Context) (provider.Provider, error) {
		return NewWithWriter(w), nil
	})
}

// Dispatch prints the email in a readable format. Only a failed write is
// reported as a failed result.
func (p *Provider) Dispatch(ctx context.Context, e *email.Email, cc *dispatch.CommunicationContext) ([]*dispatch.Result, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: email is nil", dispatch.ErrInvalidArgument)
	}
	if cc == nil {
		return nil, fmt.Errorf("%w: communication context is nil", dispatch.ErrInvalidArgument)
	}

	msg, err := message.Build(ctx, e, message.BuildOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	result := &dispatch.Result{
		ResourceID:        msg.ID,
		ChannelID:         cc.ChannelID,
		ChannelProviderID: cc.ChannelProviderID,
	}
	if _, err := fmt.Fprint(p.writer, render(msg)); err != nil {
		result.Status = dispatch.Failure(ProviderID, err.Error())
		result.Err = err
	} else {
		result.Status = dispatch.Success(ProviderID, "Printed")
	}

	results := []*dispatch.Result{result}
	dispatch.SendDeliveryReports(ctx, cc, e, results)
	return results, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderID
}

func render(msg *message.Message) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message-ID: %s\n", msg.ID)
	fmt.Fprintf(&b, "From: %s\n", formatMailbox(msg.From))
	fmt.Fprintf(&b, "To: %s\n", joinMailboxes(msg.To))

	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinMailboxes(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinMailboxes(msg.Bcc))
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Name, att.MediaType, formatSize(len(att.Data))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")
	return b.String()
}

func joinMailboxes(list []message.Mailbox) string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, formatMailbox(m))
	}
	return strings.Join(out, ", ")
}

func formatMailbox(m message.Mailbox) string {
	if m.Name == "" {
		return m.Address
	}
	return m.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
