package transport

import "fmt"

// SecureSocketOptions selects how the connection to the SMTP server is secured.
type SecureSocketOptions int

const (
	// None sends everything in plain text.
	None SecureSocketOptions = iota

	// Auto uses implicit TLS on port 465 and STARTTLS when available elsewhere.
	Auto

	// SslOnConnect negotiates TLS immediately after the TCP connection is made.
	SslOnConnect

	// StartTls requires the server to support STARTTLS.
	StartTls

	// StartTlsWhenAvailable upgrades with STARTTLS only if the server offers it.
	StartTlsWhenAvailable
)

func (o SecureSocketOptions) String() string {
	switch o {
	case None:
		return "None"
	case Auto:
		return "Auto"
	case SslOnConnect:
		return "SslOnConnect"
	case StartTls:
		return "StartTls"
	case StartTlsWhenAvailable:
		return "StartTlsWhenAvailable"
	default:
		return fmt.Sprintf("SecureSocketOptions(%d)", int(o))
	}
}

const (
	// DefaultPort is used when no port is given.
	DefaultPort = 25

	// DefaultPortSSL is used when no port is given and SslOnConnect is selected.
	DefaultPortSSL = 465
)

// resolve fills in the port default and turns Auto into a concrete mode.
func resolve(port int, security SecureSocketOptions) (int, SecureSocketOptions) {
	if port == 0 {
		port = DefaultPort
		if security == SslOnConnect {
			port = DefaultPortSSL
		}
	}
	if security == Auto {
		security = StartTlsWhenAvailable
		if port == DefaultPortSSL {
			security = SslOnConnect
		}
	}
	return port, security
}
