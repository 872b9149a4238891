package smtptest

import (
	"errors"
	"io"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

var (
	errRecipientRejected = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "No such user",
	}
	errDataRejected = &smtp.SMTPError{
		Code:         554,
		EnhancedCode: smtp.EnhancedCode{5, 0, 0},
		Message:      "Transaction failed",
	}
)

// session is the backend state of one SMTP conversation. go-smtp starts a
// new one after STARTTLS, so tls reflects the connection it was made on.
type session struct {
	srv      *Server
	tls      bool
	authUser string

	from string
	to   []string
}

func (s *Server) newSession(c *smtp.Conn) (smtp.Session, error) {
	_, isTLS := c.TLSConnectionState()
	return &session{srv: s, tls: isTLS}, nil
}

func (s *session) AuthMechanisms() []string {
	if !s.srv.authEnabled() {
		return nil
	}
	return []string{sasl.Plain, sasl.Login}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.srv.authEnabled() {
		return nil, smtp.ErrAuthUnsupported
	}
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(_, username, password string) error {
			return s.login(username, password)
		}), nil
	case sasl.Login:
		return &loginServer{authenticate: s.login}, nil
	default:
		return nil, smtp.ErrAuthUnknownMechanism
	}
}

func (s *session) login(username, password string) error {
	if username != s.srv.cfg.Username || password != s.srv.cfg.Password {
		return smtp.ErrAuthFailed
	}
	s.authUser = username
	return nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.srv.authEnabled() && s.authUser == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	s.to = nil
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.srv.rejects(to) {
		return errRecipientRejected
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.srv.cfg.RejectData {
		return errDataRejected
	}
	s.srv.deliver(&Delivery{
		From:     s.from,
		To:       append([]string(nil), s.to...),
		Data:     data,
		TLS:      s.tls,
		AuthUser: s.authUser,
	})
	return nil
}

// Reset clears the mail transaction but keeps authentication.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// loginServer implements the server side of AUTH LOGIN, which go-sasl
// only provides as a client.
type loginServer struct {
	authenticate func(username, password string) error

	step     int
	username string
}

func (a *loginServer) Next(response []byte) ([]byte, bool, error) {
	switch a.step {
	case 0:
		a.step++
		if response == nil {
			return []byte("Username:"), false, nil
		}
		fallthrough
	case 1:
		a.step = 2
		a.username = string(response)
		return []byte("Password:"), false, nil
	case 2:
		a.step++
		return nil, true, a.authenticate(a.username, string(response))
	default:
		return nil, false, errors.New("unexpected AUTH LOGIN response")
	}
}
