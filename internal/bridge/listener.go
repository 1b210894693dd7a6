package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/shineum/mailbridge/internal/connector"
	"github.com/shineum/mailbridge/internal/message"
	"github.com/shineum/mailbridge/internal/smtp"
)

// ResponseAccepted is the transport response for every received
// message. Delivery failures are a backend concern and never surface to
// the SMTP client.
const ResponseAccepted = "250 Message accepted"

// ListenerConfig holds the parameters for creating a Listener.
type ListenerConfig struct {
	// Address is the bind address: an IP literal or "localhost".
	Address string

	// Port is the bind TCP port, 1-65535.
	Port int

	// Mappings is the ordered rule set. It must be non-empty and contain
	// exactly one rule with the default pattern.
	Mappings []*Mapping

	// TLSConfig enables a TLS mode: implicit TLS (SMTPS) by itself, or
	// STARTTLS together with EnableStartTLS.
	TLSConfig *tls.Config

	// EnableStartTLS advertises STARTTLS instead of wrapping the socket.
	// Requires TLSConfig.
	EnableStartTLS bool

	// RequireStartTLS rejects MAIL before the connection is upgraded.
	// Requires EnableStartTLS.
	RequireStartTLS bool

	// AuthUsername and AuthPassword enable SMTP AUTH when both are set.
	AuthUsername string
	AuthPassword string

	// Logger is the listener's log sink, propagated into every connector
	// in the mapping set. Defaults to slog.Default().
	Logger *slog.Logger
}

// Listener owns an ordered mapping set and a transport endpoint. It
// receives decoded messages from the transport, resolves the mappings
// that match, and dispatches to their connectors. A Listener's dispatch
// path is safe for concurrent sessions; its setters are not and are
// meant for construction and quiescent reconfiguration only.
type Listener struct {
	address         string
	port            int
	mappings        []*Mapping
	tlsConfig       *tls.Config
	enableStartTLS  bool
	requireStartTLS bool
	authUsername    string
	authPassword    string
	log             *slog.Logger
	server          *smtp.Server
}

// NewListener validates cfg and creates a Listener. Every field goes
// through the same validated setters used for later reconfiguration.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := &Listener{log: slog.Default()}

	l.SetLogger(cfg.Logger)
	if err := l.SetMappings(cfg.Mappings); err != nil {
		return nil, err
	}
	if err := l.SetAddress(cfg.Address); err != nil {
		return nil, err
	}
	if err := l.SetPort(cfg.Port); err != nil {
		return nil, err
	}
	l.SetTLSConfig(cfg.TLSConfig)
	if err := l.SetEnableStartTLS(cfg.EnableStartTLS); err != nil {
		return nil, err
	}
	if err := l.SetRequireStartTLS(cfg.RequireStartTLS); err != nil {
		return nil, err
	}
	if _, err := l.transportMode(); err != nil {
		return nil, err
	}
	l.authUsername = cfg.AuthUsername
	l.authPassword = cfg.AuthPassword

	return l, nil
}

// SetAddress validates and sets the bind address: an IP literal or the
// literal "localhost".
func (l *Listener) SetAddress(address string) error {
	if address != "localhost" && net.ParseIP(address) == nil {
		return fmt.Errorf("listener address %q must be a valid IP or localhost", address)
	}
	l.address = address
	return nil
}

// SetPort validates and sets the bind port.
func (l *Listener) SetPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("listener port %d must be a valid TCP port", port)
	}
	l.port = port
	return nil
}

// SetMappings validates and installs the rule set: non-empty, exactly
// one default. The listener's logger is rebound into every connector in
// the new set.
func (l *Listener) SetMappings(mappings []*Mapping) error {
	if len(mappings) == 0 {
		return fmt.Errorf("listener requires at least one mapping")
	}

	foundDefault := false
	for _, m := range mappings {
		if m == nil {
			return fmt.Errorf("listener mappings must not contain nil entries")
		}
		if !m.IsDefault() {
			continue
		}
		if foundDefault {
			return fmt.Errorf("multiple mappings declare the %q pattern", DefaultPattern)
		}
		foundDefault = true
	}
	if !foundDefault {
		return fmt.Errorf("a mapping with the %q pattern is required", DefaultPattern)
	}

	l.mappings = mappings
	l.rebindLogger()
	return nil
}

// Mappings returns the current rule set in declared order.
func (l *Listener) Mappings() []*Mapping { return l.mappings }

// SetTLSConfig sets or clears the TLS server configuration.
func (l *Listener) SetTLSConfig(cfg *tls.Config) {
	l.tlsConfig = cfg
}

// SetEnableStartTLS toggles STARTTLS advertisement. Disabling it while
// RequireStartTLS is set is rejected.
func (l *Listener) SetEnableStartTLS(enable bool) error {
	if !enable && l.requireStartTLS {
		return fmt.Errorf("cannot disable STARTTLS while it is required")
	}
	l.enableStartTLS = enable
	return nil
}

// SetRequireStartTLS toggles mandatory STARTTLS. Requires STARTTLS to be
// enabled.
func (l *Listener) SetRequireStartTLS(require bool) error {
	if require && !l.enableStartTLS {
		return fmt.Errorf("cannot require STARTTLS while it is not enabled")
	}
	l.requireStartTLS = require
	return nil
}

// SetLogger replaces the listener's log sink and rebinds it into every
// connector in the mapping set.
func (l *Listener) SetLogger(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	l.log = log
	l.rebindLogger()
}

// rebindLogger propagates the listener's logger into every owned
// connector, so connectors log through the listener that dispatches to
// them.
func (l *Listener) rebindLogger() {
	for _, m := range l.mappings {
		if ls, ok := m.Connector().(connector.LoggerSetter); ok {
			ls.SetLogger(l.log)
		}
	}
}

// transportMode resolves the mutually exclusive transport-security
// modes from the TLS settings.
func (l *Listener) transportMode() (smtp.Mode, error) {
	switch {
	case l.tlsConfig != nil && !l.enableStartTLS:
		return smtp.ModeSMTPS, nil
	case l.tlsConfig != nil && l.enableStartTLS:
		return smtp.ModeSTARTTLS, nil
	case l.tlsConfig == nil && !l.enableStartTLS:
		return smtp.ModePlain, nil
	default:
		return 0, fmt.Errorf("STARTTLS is enabled but no TLS configuration is set")
	}
}

// Start binds the transport endpoint and serves SMTP sessions until ctx
// is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	mode, err := l.transportMode()
	if err != nil {
		return err
	}

	l.server = smtp.New(smtp.Config{
		Addr:            net.JoinHostPort(l.address, strconv.Itoa(l.port)),
		Hostname:        l.address,
		Handler:         l.OnMessageReceived,
		TLSConfig:       l.tlsConfig,
		Mode:            mode,
		RequireStartTLS: l.requireStartTLS,
		Auth:            smtp.NewAuthenticator(l.authUsername, l.authPassword),
		Logger:          l.log,
	})

	l.log.Info("listener starting",
		"address", l.address,
		"port", l.port,
		"mode", mode.String(),
		"mappings", len(l.mappings),
	)
	l.logMappings()

	return l.server.ListenAndServe(ctx)
}

// Addr returns the bound transport address, or an empty string before
// Start.
func (l *Listener) Addr() string {
	if l.server == nil {
		return ""
	}
	return l.server.Addr()
}

// logMappings records the active rule set at startup for debugging.
func (l *Listener) logMappings() {
	for _, m := range l.mappings {
		l.log.Debug("loaded mapping",
			"pattern", m.Pattern(),
			"field", m.Field(),
			"connector", m.Connector().Name(),
			"parser", m.ParserName(),
		)
	}
}

// defaultMapping returns the rule with the default pattern. The mapping
// setter guarantees one exists, but resolution never proceeds silently
// without it.
func (l *Listener) defaultMapping() (*Mapping, error) {
	for _, m := range l.mappings {
		if m.IsDefault() {
			return m, nil
		}
	}
	return nil, fmt.Errorf("a mapping with the %q pattern is required", DefaultPattern)
}

// ResolveMatches returns the mappings msg dispatches to: every
// non-default rule that matches, in declared order, or exactly the
// default rule when none match. The default is strictly a fallback,
// never additive.
func (l *Listener) ResolveMatches(msg *message.Msg) ([]*Mapping, error) {
	def, err := l.defaultMapping()
	if err != nil {
		return nil, err
	}

	var matched []*Mapping
	for _, m := range l.mappings {
		if m.IsDefault() {
			continue
		}
		if m.Matches(msg) {
			matched = append(matched, m)
		}
	}

	if len(matched) == 0 {
		return []*Mapping{def}, nil
	}
	return matched, nil
}

// OnMessageReceived handles one decoded transaction from the transport:
// it builds the message model, resolves matches, and dispatches each
// matched mapping in order. A dispatch failure is logged and isolated;
// it never aborts sibling dispatches and never rejects the SMTP
// transaction.
func (l *Listener) OnMessageReceived(local, remote net.Addr, raw []byte) string {
	msg, err := message.New(local, remote, raw)
	if err != nil {
		l.log.Error("failed to decode received message", "error", err)
		return ResponseAccepted
	}

	l.log.Info("message received",
		"msg_id", msg.ID(),
		"server", msg.Server(),
		"peer", msg.Peer(),
	)

	matches, err := l.ResolveMatches(msg)
	if err != nil {
		l.log.Error("failed to resolve mappings", "msg_id", msg.ID(), "error", err)
		return ResponseAccepted
	}

	for _, m := range matches {
		l.log.Debug("dispatching mapping",
			"msg_id", msg.ID(),
			"pattern", m.Pattern(),
			"field", m.Field(),
			"connector", m.Connector().Name(),
			"parser", m.ParserName(),
		)

		if err := connector.Run(m.Connector(), m.NewParser(msg), l.log); err != nil {
			l.log.Error("mapping dispatch failed",
				"msg_id", msg.ID(),
				"pattern", m.Pattern(),
				"connector", m.Connector().Name(),
				"error", err,
			)
		}
	}

	return ResponseAccepted
}
