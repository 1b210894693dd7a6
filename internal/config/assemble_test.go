package config

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mailbridge/internal/tlsutil"
)

func baseConfig() *Config {
	return &Config{
		Connectors: []ConnectorEntry{
			{Name: "x", Module: "void"},
		},
		Mappings: []MappingEntry{
			{Pattern: "default", Connector: "x"},
		},
		Listeners: []ListenerEntry{
			{Address: "127.0.0.1", Port: 2525},
		},
	}
}

func TestAssemble(t *testing.T) {
	listeners, err := Assemble(baseConfig(), nil)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(listeners) != 1 {
		t.Fatalf("Assemble() = %d listeners, want 1", len(listeners))
	}
	if got := len(listeners[0].Mappings()); got != 1 {
		t.Errorf("listener has %d mappings, want 1", got)
	}
}

func TestAssembleSharedMappings(t *testing.T) {
	cfg := baseConfig()
	cfg.Listeners = append(cfg.Listeners, ListenerEntry{Address: "127.0.0.1", Port: 2526})

	listeners, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(listeners) != 2 {
		t.Fatalf("Assemble() = %d listeners, want 2", len(listeners))
	}
	if listeners[0].Mappings()[0] != listeners[1].Mappings()[0] {
		t.Error("listeners do not share the assembled mapping set")
	}
}

func TestBuildConnectorsErrors(t *testing.T) {
	tests := []struct {
		name    string
		entries []ConnectorEntry
		wantErr string
	}{
		{
			name:    "empty",
			entries: nil,
			wantErr: "at least one",
		},
		{
			name:    "missing name",
			entries: []ConnectorEntry{{Module: "void"}},
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			entries: []ConnectorEntry{
				{Name: "x", Module: "void"},
				{Name: "x", Module: "void"},
			},
			wantErr: "duplicate name",
		},
		{
			name:    "unknown module",
			entries: []ConnectorEntry{{Name: "x", Module: "carrier-pigeon"}},
			wantErr: "unknown module",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildConnectors(tt.entries)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("BuildConnectors() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildMappingsErrors(t *testing.T) {
	connectors, err := BuildConnectors([]ConnectorEntry{{Name: "x", Module: "void"}})
	if err != nil {
		t.Fatalf("BuildConnectors() error = %v", err)
	}

	tests := []struct {
		name    string
		entries []MappingEntry
		wantErr string
	}{
		{
			name:    "empty",
			entries: nil,
			wantErr: "at least one",
		},
		{
			name:    "missing connector",
			entries: []MappingEntry{{Pattern: "default"}},
			wantErr: "connector is required",
		},
		{
			name:    "unresolved connector",
			entries: []MappingEntry{{Pattern: "default", Connector: "y"}},
			wantErr: "unknown connector",
		},
		{
			name:    "unknown parser",
			entries: []MappingEntry{{Pattern: "default", Connector: "x", Parser: "xml"}},
			wantErr: "unknown parser",
		},
		{
			name:    "malformed pattern",
			entries: []MappingEntry{{Pattern: "([", Connector: "x"}},
			wantErr: "invalid mapping pattern",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMappings(tt.entries, connectors)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("BuildMappings() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildMappingsParserDefault(t *testing.T) {
	connectors, err := BuildConnectors([]ConnectorEntry{{Name: "x", Module: "void"}})
	if err != nil {
		t.Fatalf("BuildConnectors() error = %v", err)
	}

	mappings, err := BuildMappings([]MappingEntry{{Pattern: "default", Connector: "x"}}, connectors)
	if err != nil {
		t.Fatalf("BuildMappings() error = %v", err)
	}
	if got, want := mappings[0].ParserName(), "auto"; got != want {
		t.Errorf("ParserName() = %q, want %q", got, want)
	}
}

func TestBuildListenersErrors(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := tlsutil.WriteSelfSignedCert(certPath, keyPath); err != nil {
		t.Fatalf("WriteSelfSignedCert() error = %v", err)
	}

	tests := []struct {
		name    string
		entry   ListenerEntry
		wantErr string
	}{
		{
			name:    "smtps and starttls exclusive",
			entry:   ListenerEntry{Address: "127.0.0.1", Port: 2525, EnableSMTPS: true, EnableStartTLS: true, TLSCert: certPath, TLSKey: keyPath},
			wantErr: "mutually exclusive",
		},
		{
			name:    "require without enable",
			entry:   ListenerEntry{Address: "127.0.0.1", Port: 2525, RequireStartTLS: true},
			wantErr: "require_starttls",
		},
		{
			name:    "unpaired credentials",
			entry:   ListenerEntry{Address: "127.0.0.1", Port: 2525, Username: "relay"},
			wantErr: "set together",
		},
		{
			name:    "missing TLS material",
			entry:   ListenerEntry{Address: "127.0.0.1", Port: 2525, EnableSMTPS: true, TLSCert: filepath.Join(dir, "nope.pem"), TLSKey: keyPath},
			wantErr: "not found",
		},
		{
			name:    "unknown minimum protocol",
			entry:   ListenerEntry{Address: "127.0.0.1", Port: 2525, EnableSMTPS: true, TLSCert: certPath, TLSKey: keyPath, MinimumTLSProtocol: "ssl3"},
			wantErr: "ssl3",
		},
		{
			name:    "invalid port",
			entry:   ListenerEntry{Address: "127.0.0.1", Port: 0},
			wantErr: "port",
		},
		{
			name:    "invalid address",
			entry:   ListenerEntry{Address: "smtp.example.com", Port: 2525},
			wantErr: "address",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Listeners = []ListenerEntry{tt.entry}
			_, err := Assemble(cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Assemble() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestAssembleAndServeEndToEnd(t *testing.T) {
	listeners, err := Assemble(baseConfig(), nil)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	l := listeners[0]

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop after cancel")
		}
	}()

	conn := dialRetry(t, "127.0.0.1:2525")
	defer conn.Close()
	reader := bufio.NewReader(conn)

	exchange := func(cmd, wantPrefix string) {
		t.Helper()
		if cmd != "" {
			if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
				t.Fatalf("write error = %v", err)
			}
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read error = %v", err)
		}
		if !strings.HasPrefix(line, wantPrefix) {
			t.Fatalf("%s: response = %q, want prefix %q", cmd, line, wantPrefix)
		}
	}

	exchange("", "220 ")
	exchange("HELO client.test", "250 ")
	exchange("MAIL FROM:<a@test.com>", "250 ")
	exchange("RCPT TO:<b@test.com>", "250 ")
	exchange("DATA", "354 ")
	for _, line := range []string{"Subject: Assembly", "", "hello", "."} {
		if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
			t.Fatalf("write error = %v", err)
		}
	}
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, "250 Message accepted") {
		t.Fatalf("DATA completion = %q (err %v), want the accept response", line, err)
	}
	exchange("QUIT", "221 ")
}

func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed to dial %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestBuildListenersTLSModes(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := tlsutil.WriteSelfSignedCert(certPath, keyPath); err != nil {
		t.Fatalf("WriteSelfSignedCert() error = %v", err)
	}

	tests := []struct {
		name  string
		entry ListenerEntry
	}{
		{
			name:  "smtps",
			entry: ListenerEntry{Address: "127.0.0.1", Port: 2525, EnableSMTPS: true, TLSCert: certPath, TLSKey: keyPath},
		},
		{
			name:  "starttls",
			entry: ListenerEntry{Address: "127.0.0.1", Port: 2525, EnableStartTLS: true, TLSCert: certPath, TLSKey: keyPath},
		},
		{
			name:  "required starttls",
			entry: ListenerEntry{Address: "127.0.0.1", Port: 2525, EnableStartTLS: true, RequireStartTLS: true, TLSCert: certPath, TLSKey: keyPath, MinimumTLSProtocol: "tls1_3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Listeners = []ListenerEntry{tt.entry}
			listeners, err := Assemble(cfg, nil)
			if err != nil {
				t.Fatalf("Assemble() error = %v", err)
			}
			if len(listeners) != 1 {
				t.Fatalf("Assemble() = %d listeners, want 1", len(listeners))
			}
		})
	}
}
