package smtp

import (
	"context"

	"github.com/shineum/smtp-dispatch/internal/provider"
)

// ID returns the channel provider ID for an optional instance name.
func ID(providerID string) string {
	return provider.ID(ProviderID, providerID)
}

// Register adds an SMTP provider configured with opts to reg for the email
// channel, under ID(providerID).
func Register(reg *provider.Registry, opts Options, providerID string, options ...Option) error {
	return reg.Add(ID(providerID), provider.ChannelEmail, func(context.Context) (provider.Provider, error) {
		return New(opts, options...), nil
	})
}
