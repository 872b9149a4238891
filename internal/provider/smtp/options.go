package smtp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedSocketOption is returned when Options.SocketOptions holds a
// value outside the defined set. It is a configuration error and is never
// retried.
var ErrUnsupportedSocketOption = errors.New("unsupported socket option")

// SecureSocketOptions is the configured connection security mode.
type SecureSocketOptions int

const (
	None SecureSocketOptions = iota
	Auto
	SslOnConnect
	StartTls
	StartTlsWhenAvailable
)

var socketOptionNames = map[SecureSocketOptions]string{
	None:                  "none",
	Auto:                  "auto",
	SslOnConnect:          "ssl-on-connect",
	StartTls:              "starttls",
	StartTlsWhenAvailable: "starttls-when-available",
}

func (o SecureSocketOptions) String() string {
	if name, ok := socketOptionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("SecureSocketOptions(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o SecureSocketOptions) MarshalText() ([]byte, error) {
	name, ok := socketOptionNames[o]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSocketOption, int(o))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Matching is case
// insensitive and accepts "_" in place of "-".
func (o *SecureSocketOptions) UnmarshalText(text []byte) error {
	v, err := ParseSecureSocketOptions(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// ParseSecureSocketOptions parses a security mode name such as "starttls".
// An empty string is None.
func ParseSecureSocketOptions(s string) (SecureSocketOptions, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if key == "" {
		return None, nil
	}
	for o, name := range socketOptionNames {
		if name == key {
			return o, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnsupportedSocketOption, s)
}

// Credentials supplies SMTP AUTH credentials per connection. When set on
// Options it takes precedence over UserName and Password.
type Credentials interface {
	Credentials(ctx context.Context, host string, port int) (username, password string, err error)
}

// StaticCredentials is a fixed username/password pair.
type StaticCredentials struct {
	Username string
	Password string
}

func (c StaticCredentials) Credentials(context.Context, string, int) (string, string, error) {
	return c.Username, c.Password, nil
}

// Options configures the SMTP channel provider.
type Options struct {
	SocketOptions SecureSocketOptions
	Host          string

	// Port is optional; when nil the transport default for the security
	// mode applies.
	Port *int

	// Encoding is the message character set. Defaults to UTF-8.
	Encoding string

	Credentials Credentials
	UserName    string
	Password    string
}
