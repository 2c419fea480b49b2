// Package imapconn opens authenticated IMAP sessions with bounded
// timeouts for every protocol stage and guarantees teardown through a
// Close-owning session value.
package imapconn

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	imapclient "github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/config"
	"github.com/nexocrm/mailsync/pkg/base"
	"github.com/nexocrm/mailsync/pkg/utils"
)

// Stages at which a connection attempt can fail.
const (
	StageConnect  = "connect"
	StageGreeting = "greeting"
	StageLogin    = "login"
)

// ConnError is a typed transport failure. The stage tells the caller
// whether the remote host was unreachable, misbehaving, or rejected the
// credentials; the wrapped error keeps the raw transport message.
type ConnError struct {
	Stage string
	Addr  string
	Err   error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("imap %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Session is one authenticated IMAP connection. Callers must Close it
// on every exit path; leaked sessions exhaust remote connection quotas.
type Session struct {
	client base.Client
	logger *slog.Logger

	closeOnce sync.Once
}

// NewSession wraps an already-authenticated client. Dial is the normal
// entry point; this exists for callers that manage their own transport,
// tests included.
func NewSession(client base.Client, logger *slog.Logger) *Session {
	return &Session{client: client, logger: logger}
}

// Client exposes the underlying protocol client.
func (s *Session) Client() base.Client { return s.client }

// Close logs out of the remote session. It is safe to call more than
// once; only the first call performs the logout.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.client.Logout(); err != nil {
			s.logger.Error("Failed to logout", slog.Any("error", utils.WrapError(err)))
		}
	})
}

// Dialer opens sessions from stored connection settings.
type Dialer struct {
	timeouts      config.Timeouts
	allowInsecure bool
	logger        *slog.Logger

	// netDial is injectable for tests.
	netDial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

type DialerOption func(*Dialer) error

func NewDialer(opts ...DialerOption) (*Dialer, error) {
	d := Dialer{
		timeouts: config.DefaultTimeouts(),
		netDial:  net.DialTimeout,
	}
	for _, opt := range opts {
		if err := opt(&d); err != nil {
			return nil, err
		}
	}
	if d.logger == nil {
		return nil, errors.New("requires logger")
	}
	return &d, nil
}

func WithTimeouts(t config.Timeouts) DialerOption {
	return func(d *Dialer) error {
		d.timeouts = t
		return nil
	}
}

// WithInsecureTLS relaxes certificate hostname verification. This is a
// compatibility concession to mail hosts running self-signed or
// mismatched certificates, not a recommendation.
func WithInsecureTLS(allow bool) DialerOption {
	return func(d *Dialer) error {
		d.allowInsecure = allow
		return nil
	}
}

func WithLogger(logger *slog.Logger) DialerOption {
	return func(d *Dialer) error {
		d.logger = logger
		return nil
	}
}

func WithNetDial(dial func(network, addr string, timeout time.Duration) (net.Conn, error)) DialerOption {
	return func(d *Dialer) error {
		d.netDial = dial
		return nil
	}
}

// Dial opens, secures, and authenticates a session against the account
// in settings. Each stage runs under its own timeout budget: TCP
// establishment under Connect, TLS handshake and server greeting under
// Greet, and every subsequent command under Socket.
func (d *Dialer) Dial(settings base.ConnectionSettings) (*Session, error) {
	addr := settings.Address()

	conn, err := d.netDial("tcp", addr, d.timeouts.Connect)
	if err != nil {
		return nil, &ConnError{Stage: StageConnect, Addr: addr, Err: err}
	}

	// The greeting deadline covers the TLS handshake too: go-imap reads
	// the greeting during New, which forces the handshake on a fresh
	// tls.Conn.
	if err := conn.SetDeadline(time.Now().Add(d.timeouts.Greet)); err != nil {
		_ = conn.Close()
		return nil, &ConnError{Stage: StageGreeting, Addr: addr, Err: err}
	}

	if settings.UseTLS {
		conn = tls.Client(conn, &tls.Config{
			ServerName:         settings.Host,
			InsecureSkipVerify: d.allowInsecure, //nolint:gosec
		})
	}

	c, err := imapclient.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, &ConnError{Stage: StageGreeting, Addr: addr, Err: err}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, &ConnError{Stage: StageGreeting, Addr: addr, Err: err}
	}
	c.Timeout = d.timeouts.Socket

	if err := c.Login(settings.Username, settings.Password); err != nil {
		if logoutErr := c.Logout(); logoutErr != nil {
			d.logger.Debug("Logout after failed login", slog.Any("error", logoutErr))
		}
		return nil, &ConnError{Stage: StageLogin, Addr: addr, Err: err}
	}

	d.logger.Info("IMAP session established",
		slog.String("host", settings.Host),
		slog.String("username", settings.Username))

	return &Session{client: c, logger: d.logger}, nil
}
