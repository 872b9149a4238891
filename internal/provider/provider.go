// Package provider defines the channel provider contract and the registry
// that maps provider IDs to their factories.
package provider

import (
	"context"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
)

// ChannelEmail is the channel ID served by email providers.
const ChannelEmail = "Email"

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Dispatch delivers msg and returns one result per delivered message.
	// Delivery failures are reported through the results; the returned
	// error is reserved for invalid arguments and configuration errors.
	Dispatch(ctx context.Context, msg *email.Email, cc *dispatch.CommunicationContext) ([]*dispatch.Result, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// ID builds a provider ID from a base name and an optional instance name,
// e.g. ID("smtp", "") is "smtp" and ID("smtp", "billing") is "smtp.billing".
func ID(base, providerID string) string {
	if providerID == "" {
		return base
	}
	return base + "." + providerID
}
