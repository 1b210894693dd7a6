package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Mode selects the transport-security behavior of a server. The modes
// are mutually exclusive: a socket is either wrapped in TLS from the
// first byte (SMTPS), upgraded in-band (STARTTLS), or plaintext.
type Mode int

const (
	// ModePlain serves plaintext SMTP.
	ModePlain Mode = iota

	// ModeSMTPS wraps every accepted connection in TLS immediately.
	ModeSMTPS

	// ModeSTARTTLS advertises in-band TLS upgrades.
	ModeSTARTTLS
)

func (m Mode) String() string {
	switch m {
	case ModeSMTPS:
		return "smtps"
	case ModeSTARTTLS:
		return "starttls"
	default:
		return "smtp"
	}
}

// Handler receives one fully received message: the local and remote
// endpoints of the session and the raw envelope bytes. The returned
// line is written to the client as the DATA response.
type Handler func(local, remote net.Addr, raw []byte) string

// Config holds the configuration for an SMTP server.
type Config struct {
	// Addr is the address to listen on (e.g., "127.0.0.1:2525").
	Addr string

	// Hostname is the server hostname used in greeting and EHLO
	// responses.
	Hostname string

	// Handler consumes received messages. Required.
	Handler Handler

	// TLSConfig is the server TLS configuration. Required for ModeSMTPS
	// and ModeSTARTTLS.
	TLSConfig *tls.Config

	// Mode selects the transport-security behavior.
	Mode Mode

	// RequireStartTLS rejects MAIL until the connection is upgraded.
	// Only meaningful in ModeSTARTTLS.
	RequireStartTLS bool

	// Auth configures SMTP AUTH. A disabled Authenticator (or nil)
	// accepts unauthenticated sessions.
	Auth *Authenticator

	// Logger receives transport-level events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server accepts SMTP connections and hands every received message to
// the configured Handler.
type Server struct {
	cfg      Config
	log      *slog.Logger
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new SMTP Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log}
}

// ListenAndServe starts the server and blocks until the context is
// cancelled. On cancellation it stops accepting new connections and
// waits up to shutdownTimeout for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.Handler == nil {
		return fmt.Errorf("smtp server requires a handler")
	}
	if s.cfg.Mode != ModePlain && s.cfg.TLSConfig == nil {
		return fmt.Errorf("%s mode requires a TLS configuration", s.cfg.Mode)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if s.cfg.Mode == ModeSMTPS {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.listener = ln

	s.log.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"mode", s.cfg.Mode.String(),
		"auth_enabled", s.cfg.Auth.Enabled(),
	)

	// Monitor context for shutdown.
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down SMTP server", "addr", ln.Addr().String())
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown.
				s.waitForSessions()
				return nil
			default:
				s.log.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.newSession(conn).handle(ctx)
		}()
	}
}

func (s *Server) newSession(conn net.Conn) *session {
	sess := newSession(conn, s.cfg.Handler, s.cfg.Auth, s.cfg.Hostname, s.log)
	switch s.cfg.Mode {
	case ModeSMTPS:
		// The listener already wrapped the socket.
		sess.tlsActive = true
	case ModeSTARTTLS:
		sess.tlsConfig = s.cfg.TLSConfig
		sess.requireTLS = s.cfg.RequireStartTLS
	}
	return sess
}

// waitForSessions waits for all in-flight sessions to complete, with a
// maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		s.log.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
