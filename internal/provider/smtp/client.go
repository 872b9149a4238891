package smtp

import (
	"context"
	"fmt"

	"github.com/shineum/smtp-dispatch/internal/message"
	"github.com/shineum/smtp-dispatch/internal/transport"
)

// Client is the transport capability the Dispatcher drives. One Client
// serves exactly one dispatch and is closed at its end.
type Client interface {
	Connect(ctx context.Context, host string, port int, security transport.SecureSocketOptions) error
	Authenticate(ctx context.Context, username, password string) error
	Send(ctx context.Context, msg *message.Message) (string, error)
	Disconnect(ctx context.Context, quit bool) error
	Close() error
}

var _ Client = (*transport.Client)(nil)

// convertSocketOptions maps the configured security mode to the transport's.
func convertSocketOptions(o SecureSocketOptions) (transport.SecureSocketOptions, error) {
	switch o {
	case None:
		return transport.None, nil
	case Auto:
		return transport.Auto, nil
	case SslOnConnect:
		return transport.SslOnConnect, nil
	case StartTls:
		return transport.StartTls, nil
	case StartTlsWhenAvailable:
		return transport.StartTlsWhenAvailable, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSocketOption, o)
	}
}
