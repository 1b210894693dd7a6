package tlsutil

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestCert(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := WriteSelfSignedCert(certPath, keyPath); err != nil {
		t.Fatalf("WriteSelfSignedCert() error = %v", err)
	}
	return certPath, keyPath
}

func TestServerConfig(t *testing.T) {
	certPath, keyPath := writeTestCert(t)

	cfg, err := ServerConfig(certPath, keyPath, "")
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if got, want := cfg.MinVersion, uint16(tls.VersionTLS12); got != want {
		t.Errorf("MinVersion = %#x, want %#x", got, want)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("len(Certificates) = %d, want 1", len(cfg.Certificates))
	}
}

func TestServerConfigMinProtocols(t *testing.T) {
	certPath, keyPath := writeTestCert(t)

	tests := []struct {
		name string
		want uint16
	}{
		{"tls1", tls.VersionTLS10},
		{"tls1_1", tls.VersionTLS11},
		{"tls1_2", tls.VersionTLS12},
		{"tls1_3", tls.VersionTLS13},
	}
	for _, tt := range tests {
		cfg, err := ServerConfig(certPath, keyPath, tt.name)
		if err != nil {
			t.Errorf("ServerConfig(%q) error = %v", tt.name, err)
			continue
		}
		if cfg.MinVersion != tt.want {
			t.Errorf("ServerConfig(%q).MinVersion = %#x, want %#x", tt.name, cfg.MinVersion, tt.want)
		}
	}
}

func TestServerConfigUnknownProtocol(t *testing.T) {
	certPath, keyPath := writeTestCert(t)

	_, err := ServerConfig(certPath, keyPath, "ssl3")
	if err == nil {
		t.Fatal("ServerConfig() error = nil, want unknown protocol error")
	}
	if !strings.Contains(err.Error(), "ssl3") {
		t.Errorf("error = %q, want mention of ssl3", err)
	}
}

func TestServerConfigMissingFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := ServerConfig(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "missing-key.pem"), "")
	if err == nil {
		t.Fatal("ServerConfig() error = nil, want missing file error")
	}

	if _, err := ServerConfig("", "", ""); err == nil {
		t.Fatal("ServerConfig(\"\", \"\") error = nil, want required path error")
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert() error = %v", err)
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		t.Errorf("generated material does not form a key pair: %v", err)
	}
}

func TestWriteSelfSignedCertPermissions(t *testing.T) {
	certPath, keyPath := writeTestCert(t)

	for _, path := range []string{certPath, keyPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat(%q) error = %v", path, err)
		}
		if got := info.Mode().Perm(); got != 0o600 {
			t.Errorf("%s mode = %o, want 600", path, got)
		}
	}
}

func TestMinProtocols(t *testing.T) {
	got := MinProtocols()
	want := []string{"tls1", "tls1_1", "tls1_2", "tls1_3"}
	if len(got) != len(want) {
		t.Fatalf("MinProtocols() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MinProtocols()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
