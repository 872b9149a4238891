// Package smtptest provides an in-process SMTP server for exercising SMTP
// clients over loopback, in the spirit of net/http/httptest. The protocol
// is served by github.com/emersion/go-smtp.
package smtptest

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	// Hostname is announced in the greeting. Defaults to "localhost".
	Hostname string

	// Username and Password enable AUTH PLAIN/LOGIN and make it mandatory
	// before MAIL FROM.
	Username string
	Password string

	// TLSConfig enables STARTTLS, or implicit TLS when ImplicitTLS is set.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// RejectRecipients lists addresses refused at RCPT TO.
	RejectRecipients []string

	// RejectData makes the server refuse every message after DATA.
	RejectData bool
}

// Delivery is a message accepted by the server.
type Delivery struct {
	From     string
	To       []string
	Data     []byte
	TLS      bool
	AuthUser string
}

// Parse parses the delivered message.
func (d *Delivery) Parse() (*Parsed, error) {
	return Parse(d.Data)
}

// Server is an SMTP server listening on a loopback port.
type Server struct {
	cfg      Config
	smtp     *smtp.Server
	listener net.Listener
	reject   map[string]bool

	mu         sync.Mutex
	deliveries []*Delivery
	sessions   int
	quits      int

	conns sync.WaitGroup
	done  chan struct{}
}

// NewServer starts a Server on 127.0.0.1 with a random port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		reject: make(map[string]bool),
		done:   make(chan struct{}),
	}
	for _, r := range cfg.RejectRecipients {
		s.reject[strings.ToLower(r)] = true
	}

	// Connections are tracked below the TLS layer so go-smtp still sees
	// *tls.Conn for implicit TLS and can upgrade plain ones with STARTTLS.
	var ln net.Listener = &trackingListener{Listener: raw, srv: s}
	if cfg.ImplicitTLS && cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, cfg.TLSConfig)
	}
	s.listener = ln

	srv := smtp.NewServer(smtp.BackendFunc(s.newSession))
	srv.Domain = cfg.Hostname
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = idleTimeout
	srv.WriteTimeout = idleTimeout
	srv.ErrorLog = errorLog{}
	srv.Debug = replyWatcher{srv: s}
	if !cfg.ImplicitTLS {
		srv.TLSConfig = cfg.TLSConfig
	}
	s.smtp = srv

	go func() {
		defer close(s.done)
		_ = srv.Serve(ln)
	}()
	return s, nil
}

// Close stops the listener, drops open sessions and waits for them to end.
func (s *Server) Close() error {
	err := s.smtp.Close()
	<-s.done
	s.conns.Wait()
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Deliveries returns the messages accepted so far.
func (s *Server) Deliveries() []*Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Delivery(nil), s.deliveries...)
}

// Sessions returns the number of accepted connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Quits returns the number of sessions that ended with QUIT.
func (s *Server) Quits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

func (s *Server) deliver(d *Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

func (s *Server) rejects(addr string) bool {
	return s.reject[strings.ToLower(addr)]
}

func (s *Server) authEnabled() bool {
	return s.cfg.Username != "" || s.cfg.Password != ""
}

// trackingListener counts accepted connections and lets Close wait for them.
type trackingListener struct {
	net.Listener
	srv *Server
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.srv.mu.Lock()
	l.srv.sessions++
	l.srv.mu.Unlock()
	l.srv.conns.Add(1)
	return &trackedConn{Conn: conn, done: l.srv.conns.Done}, nil
}

type trackedConn struct {
	net.Conn
	once sync.Once
	done func()
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.done)
	return err
}

// replyWatcher receives the protocol trace. go-smtp answers 221 only to
// QUIT, and each reply reaches the trace as a single write.
type replyWatcher struct {
	srv *Server
}

var quitReply = []byte("221 ")

func (w replyWatcher) Write(p []byte) (int, error) {
	if bytes.HasPrefix(p, quitReply) {
		w.srv.mu.Lock()
		w.srv.quits++
		w.srv.mu.Unlock()
	}
	return len(p), nil
}

// errorLog routes go-smtp server errors to slog at debug level.
type errorLog struct{}

func (errorLog) Printf(format string, v ...any) {
	slog.Debug("smtptest: " + fmt.Sprintf(format, v...))
}

func (errorLog) Println(v ...any) {
	slog.Debug("smtptest: " + strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}
