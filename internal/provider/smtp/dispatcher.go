// Package smtp implements the email channel provider that dispatches
// messages over SMTP through a transport Client.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
	"github.com/shineum/smtp-dispatch/internal/transport"
)

// ProviderID is the base channel provider ID of the SMTP provider.
const ProviderID = "smtp"

// dispatchedDetail is the status detail of a successful dispatch.
const dispatchedDetail = "Dispatched"

// disconnectTimeout bounds the QUIT exchange, which runs even after the
// caller's context is done.
const disconnectTimeout = 10 * time.Second

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClientFactory sets the function creating the transport Client for each
// dispatch.
func WithClientFactory(newClient func() Client) Option {
	return func(d *Dispatcher) { d.newClient = newClient }
}

// WithTransportOptions configures the default transport client.
func WithTransportOptions(opts transport.Options) Option {
	return func(d *Dispatcher) {
		d.newClient = func() Client { return transport.New(opts) }
	}
}

// WithAddressConverter overrides how identity addresses become mailboxes.
func WithAddressConverter(conv message.AddressConverter) Option {
	return func(d *Dispatcher) { d.convert = conv }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// Dispatcher sends emails over SMTP. It holds no per-dispatch state and is
// safe for concurrent use; every dispatch gets its own Client.
type Dispatcher struct {
	opts      Options
	newClient func() Client
	convert   message.AddressConverter
	logger    *slog.Logger
}

// New creates a Dispatcher for opts.
func New(opts Options, options ...Option) *Dispatcher {
	d := &Dispatcher{
		opts:    opts,
		convert: message.ToMailbox,
	}
	for _, opt := range options {
		opt(d)
	}
	if d.newClient == nil {
		d.newClient = func() Client { return transport.New(transport.Options{Logger: d.logger}) }
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Name returns the provider name.
func (d *Dispatcher) Name() string {
	return ProviderID
}

// Dispatch builds a message from e and sends it with a single
// connect/authenticate/send/disconnect sequence.
//
// Nil arguments, an unsupported socket option and a failure while building
// the message are returned as errors before any network activity. Transport
// failures are not returned: they are reported through the single result
// and the context's delivery reporter.
func (d *Dispatcher) Dispatch(ctx context.Context, e *email.Email, cc *dispatch.CommunicationContext) ([]*dispatch.Result, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: email is nil", dispatch.ErrInvalidArgument)
	}
	if cc == nil {
		return nil, fmt.Errorf("%w: communication context is nil", dispatch.ErrInvalidArgument)
	}

	security, err := convertSocketOptions(d.opts.SocketOptions)
	if err != nil {
		return nil, err
	}

	msg, err := message.Build(ctx, e, message.BuildOptions{
		Charset:        d.opts.Encoding,
		ConvertAddress: d.convert,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	logger := d.logger.With("provider", ProviderID, "host", d.opts.Host, "message_id", msg.ID)

	result := &dispatch.Result{
		ResourceID:        msg.ID,
		ChannelID:         cc.ChannelID,
		ChannelProviderID: cc.ChannelProviderID,
	}

	response, err := d.send(ctx, logger, security, msg)
	if err != nil {
		logger.Warn("smtp dispatch failed", "error", err)
		result.Status = dispatch.Failure(ProviderID, err.Error())
		result.Err = err
	} else {
		logger.Debug("smtp dispatch succeeded", "response", response)
		result.MessageString = response
		result.Status = dispatch.Success(ProviderID, dispatchedDetail)
	}

	results := []*dispatch.Result{result}
	dispatch.SendDeliveryReports(ctx, cc, e, results)
	return results, nil
}

// send runs the transport sequence on a fresh client. Disconnect is issued
// once whenever Connect succeeded, and the client is always closed.
func (d *Dispatcher) send(ctx context.Context, logger *slog.Logger, security transport.SecureSocketOptions, msg *message.Message) (response string, err error) {
	client := d.newClient()
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Debug("smtp client close failed", "error", cerr)
		}
	}()

	port := 0
	if d.opts.Port != nil {
		port = *d.opts.Port
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := client.Connect(ctx, d.opts.Host, port, security); err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}

	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()

		derr := client.Disconnect(dctx, true)
		if derr == nil {
			return
		}
		if err != nil {
			logger.Debug("smtp disconnect failed after error", "step", "disconnect", "error", derr)
			return
		}
		logger.Warn("smtp disconnect failed after message was accepted", "step", "disconnect", "error", derr)
	}()

	username, password, err := d.credentials(ctx, port)
	if err != nil {
		return "", fmt.Errorf("credentials: %w", err)
	}
	if err := client.Authenticate(ctx, username, password); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	response, err = client.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	return response, nil
}

func (d *Dispatcher) credentials(ctx context.Context, port int) (string, string, error) {
	if d.opts.Credentials != nil {
		return d.opts.Credentials.Credentials(ctx, d.opts.Host, port)
	}
	return d.opts.UserName, d.opts.Password, nil
}
