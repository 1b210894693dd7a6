// Package message defines the model for a single received SMTP transaction.
package message

import (
	"bytes"
	"fmt"
	"net"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/oklog/ulid/v2"
)

// Msg is an immutable view of one received SMTP message together with
// the endpoints of the transaction that carried it. It is built once by
// the transport boundary and discarded after dispatch completes.
type Msg struct {
	id     string
	server net.Addr
	peer   net.Addr
	raw    []byte
	env    *enmime.Envelope
}

// New decodes a raw RFC 5322 envelope (headers, blank line, body) into a
// Msg. server and peer are the local and remote endpoints of the SMTP
// session; either may be nil when the message is constructed outside a
// live session.
func New(server, peer net.Addr, raw []byte) (*Msg, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}

	return &Msg{
		id:     ulid.Make().String(),
		server: server,
		peer:   peer,
		raw:    raw,
		env:    env,
	}, nil
}

// ID returns the identifier assigned to this message at construction.
// It is used to correlate log entries across the dispatch fan-out.
func (m *Msg) ID() string { return m.id }

// Server returns the local endpoint that accepted the message in IP:PORT
// format, or an empty string if unknown.
func (m *Msg) Server() string { return addrString(m.server) }

// Peer returns the remote endpoint that submitted the message in IP:PORT
// format, or an empty string if unknown.
func (m *Msg) Peer() string { return addrString(m.peer) }

// PeerIP returns the IP of the remote peer without the port.
func (m *Msg) PeerIP() string {
	host, _, err := net.SplitHostPort(addrString(m.peer))
	if err != nil {
		return addrString(m.peer)
	}
	return host
}

// Raw returns the undecoded envelope bytes as received on the wire.
func (m *Msg) Raw() []byte { return m.raw }

// Header returns the decoded value of the named header, or def when the
// header is absent. Header names are case-insensitive.
func (m *Msg) Header(name, def string) string {
	if v, ok := m.lookupHeader(name); ok {
		return v
	}
	return def
}

// Field resolves a mapping field name against this message. Any header
// name is accepted; the pseudo-fields "body" and "peer-ip" resolve to the
// decoded body and the client IP. The second return value reports whether
// the field is present on this message.
func (m *Msg) Field(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "body":
		return m.Body(), true
	case "peer-ip":
		ip := m.PeerIP()
		return ip, ip != ""
	default:
		return m.lookupHeader(name)
	}
}

// ContentType returns the media type of the message body as declared by
// the Content-Type header, defaulting to text/plain when undeclared.
func (m *Msg) ContentType() string {
	ct := m.env.Root.ContentType
	if ct == "" {
		return "text/plain"
	}
	return strings.ToLower(ct)
}

// Body returns the decoded content body of the message. For messages
// declared as text/html the HTML source is returned; otherwise the text
// representation is preferred when present.
func (m *Msg) Body() string {
	if m.ContentType() == "text/html" {
		return m.env.HTML
	}
	if m.env.Text != "" {
		return m.env.Text
	}
	return m.env.HTML
}

func (m *Msg) lookupHeader(name string) (string, bool) {
	values := m.env.GetHeaderValues(name)
	if len(values) == 0 {
		return "", false
	}
	return m.env.GetHeader(name), true
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
