// Package transport implements the SMTP transport client used by the SMTP
// channel provider. The wire protocol is handled by github.com/emersion/go-smtp.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-dispatch/internal/message"
)

// DefaultTimeout bounds each SMTP command when no context deadline is shorter.
const DefaultTimeout = 30 * time.Second

var (
	ErrDisposed            = errors.New("smtp client has been closed")
	ErrNotConnected        = errors.New("smtp client is not connected")
	ErrAlreadyConnected    = errors.New("smtp client is already connected")
	ErrStartTLSUnavailable = errors.New("smtp server does not support STARTTLS")
	ErrAuthUnavailable     = errors.New("smtp server does not support authentication")
)

// startTLSUnsupported is the text of the unexported error go-smtp returns
// from NewClientStartTLS when EHLO does not list STARTTLS.
const startTLSUnsupported = "smtp: server doesn't support STARTTLS"

// Options configures a Client.
type Options struct {
	// TLSConfig is used for SslOnConnect and STARTTLS. ServerName defaults
	// to the host passed to Connect.
	TLSConfig *tls.Config

	// LocalName is sent with EHLO. Defaults to "localhost".
	LocalName string

	// Timeout bounds dialing, connection setup and each SMTP command.
	// Defaults to DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client is a single-connection SMTP client. A Client is owned by one
// dispatch; once closed it cannot be reused.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	conn     *boundConn
	sc       *smtp.Client
	host     string
	disposed bool
}

// New creates an unconnected Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LocalName == "" {
		opts.LocalName = "localhost"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}
}

// Connect dials host:port and secures the session according to security.
// A zero port selects DefaultPortSSL for SslOnConnect and DefaultPort
// otherwise.
func (c *Client) Connect(ctx context.Context, host string, port int, security SecureSocketOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	if c.sc != nil {
		return ErrAlreadyConnected
	}
	if security < None || security > StartTlsWhenAvailable {
		return fmt.Errorf("unsupported socket option: %s", security)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port, security = resolve(port, security)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tlsConfig := c.tlsConfig(host)

	conn, sc, err := c.open(ctx, addr, security, tlsConfig)
	if errors.Is(err, ErrStartTLSUnavailable) && security == StartTlsWhenAvailable {
		c.logger.Debug("smtp server does not offer STARTTLS, continuing in plain text", "addr", addr)
		conn, sc, err = c.open(ctx, addr, None, tlsConfig)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.sc = sc
	c.host = host
	c.logger.Debug("smtp connected", "addr", addr, "security", security.String())
	return nil
}

// open dials addr, applies the TLS mode and greets the server with EHLO.
// For the STARTTLS modes the upgrade happens before the final EHLO.
func (c *Client) open(ctx context.Context, addr string, security SecureSocketOptions, tlsConfig *tls.Config) (*boundConn, *smtp.Client, error) {
	dialer := &net.Dialer{Timeout: c.opts.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, contextErr(ctx, err))
	}

	conn := &boundConn{Conn: raw}
	unbind := conn.bind(ctx, time.Now().Add(c.opts.Timeout))
	defer unbind()

	var sc *smtp.Client
	switch security {
	case SslOnConnect:
		tc := tls.Client(conn, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, nil, fmt.Errorf("TLS handshake with %s failed: %w", addr, contextErr(ctx, err))
		}
		sc = smtp.NewClient(tc)
	case StartTls, StartTlsWhenAvailable:
		sc, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = raw.Close()
			if isStartTLSUnsupported(err) {
				return nil, nil, fmt.Errorf("%w: %s", ErrStartTLSUnavailable, addr)
			}
			return nil, nil, fmt.Errorf("STARTTLS with %s failed: %w", addr, contextErr(ctx, err))
		}
	default:
		sc = smtp.NewClient(conn)
	}
	sc.CommandTimeout = c.opts.Timeout
	sc.SubmissionTimeout = c.opts.Timeout

	if err := ctx.Err(); err != nil {
		_ = sc.Close()
		return nil, nil, err
	}
	if err := sc.Hello(c.opts.LocalName); err != nil {
		_ = sc.Close()
		return nil, nil, fmt.Errorf("EHLO to %s failed: %w", addr, contextErr(ctx, err))
	}
	return conn, sc, nil
}

// Authenticate performs AUTH PLAIN. An empty username and password skip
// authentication for servers that relay without it.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, err := c.session()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if username == "" && password == "" {
		return nil
	}

	unbind := c.conn.bind(ctx, time.Time{})
	defer unbind()

	if ok, _ := sc.Extension("AUTH"); !ok {
		return fmt.Errorf("%w: %s", ErrAuthUnavailable, c.host)
	}
	if err := sc.Auth(sasl.NewPlainClient("", username, password)); err != nil {
		return fmt.Errorf("authentication failed: %w", contextErr(ctx, err))
	}
	return nil
}

// Send submits msg and returns the server's response to the end of DATA.
// If Send returns an error the message was not accepted.
func (c *Client) Send(ctx context.Context, msg *message.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, err := c.session()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rcpts := msg.Recipients()
	if len(rcpts) == 0 {
		return "", fmt.Errorf("message %s has no recipients", msg.ID)
	}

	unbind := c.conn.bind(ctx, time.Time{})
	defer unbind()

	if err := sc.Mail(msg.From.Address, nil); err != nil {
		return "", fmt.Errorf("MAIL FROM rejected: %w", contextErr(ctx, err))
	}
	for _, rcpt := range rcpts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := sc.Rcpt(rcpt, nil); err != nil {
			return "", fmt.Errorf("RCPT TO %s rejected: %w", rcpt, contextErr(ctx, err))
		}
	}

	w, err := sc.Data()
	if err != nil {
		return "", fmt.Errorf("DATA rejected: %w", contextErr(ctx, err))
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write message: %w", contextErr(ctx, err))
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return "", fmt.Errorf("message rejected: %w", contextErr(ctx, err))
	}

	// CloseWithResponse only succeeds on a 250 reply.
	return "250 " + resp.StatusText, nil
}

// Disconnect ends the session. With quit set it sends QUIT first; otherwise
// the connection is dropped. Disconnecting an unconnected client is a no-op.
func (c *Client) Disconnect(ctx context.Context, quit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	sc := c.sc
	if sc == nil {
		return nil
	}
	conn := c.conn
	c.sc = nil
	c.conn = nil

	if !quit {
		return sc.Close()
	}

	unbind := conn.bind(ctx, time.Time{})
	defer unbind()

	if err := sc.Quit(); err != nil {
		_ = sc.Close()
		return fmt.Errorf("QUIT failed: %w", contextErr(ctx, err))
	}
	return nil
}

// Close releases the connection. Further calls other than Close fail with
// ErrDisposed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil
	}
	c.disposed = true

	var err error
	if c.sc != nil {
		err = c.sc.Close()
		c.sc = nil
	}
	c.conn = nil
	return err
}

func (c *Client) session() (*smtp.Client, error) {
	if c.disposed {
		return nil, ErrDisposed
	}
	if c.sc == nil {
		return nil, ErrNotConnected
	}
	return c.sc, nil
}

func (c *Client) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.opts.TLSConfig != nil {
		cfg = c.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func isStartTLSUnsupported(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return false
	}
	return err.Error() == startTLSUnsupported
}

// contextErr prefers the context's error when ctx ended during an operation.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
