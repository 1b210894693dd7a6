// Package tlsutil builds server TLS configurations for TLS-enabled
// listeners and provides self-signed certificate generation for tests.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"sort"
	"time"
)

// minProtocols maps the configuration names of supported minimum TLS
// protocol versions.
var minProtocols = map[string]uint16{
	"tls1":   tls.VersionTLS10,
	"tls1_1": tls.VersionTLS11,
	"tls1_2": tls.VersionTLS12,
	"tls1_3": tls.VersionTLS13,
}

// DefaultMinProtocol is the minimum TLS version used when a listener
// does not configure one.
const DefaultMinProtocol = "tls1_2"

// strongCipherSuites restricts TLS 1.2 and below to AEAD suites with
// forward secrecy. TLS 1.3 suites are not configurable and are
// unaffected.
var strongCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// MinProtocols returns the sorted configuration names of the supported
// minimum TLS protocol versions.
func MinProtocols() []string {
	names := make([]string, 0, len(minProtocols))
	for name := range minProtocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerConfig loads the certificate and key at the given paths and
// builds a server TLS configuration with the named minimum protocol
// version. Both files must exist; minProtocol must be one of
// MinProtocols, or empty for the default.
func ServerConfig(certFile, keyFile, minProtocol string) (*tls.Config, error) {
	if minProtocol == "" {
		minProtocol = DefaultMinProtocol
	}
	minVersion, ok := minProtocols[minProtocol]
	if !ok {
		return nil, fmt.Errorf("unknown minimum TLS protocol %q", minProtocol)
	}

	for _, path := range []string{certFile, keyFile} {
		if path == "" {
			return nil, fmt.Errorf("TLS certificate and key paths are required")
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("TLS material not found: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		CipherSuites: strongCipherSuites,
	}, nil
}

// GenerateSelfSignedCert generates an in-memory ECDSA P-256 self-signed
// certificate valid for 1 year with CN=localhost and SANs for localhost
// and 127.0.0.1.
func GenerateSelfSignedCert() (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// WriteSelfSignedCert generates a self-signed certificate and writes
// the PEM-encoded certificate and key to the given paths. Primarily a
// test fixture helper.
func WriteSelfSignedCert(certPath, keyPath string) error {
	certPEM, keyPEM, err := GenerateSelfSignedCert()
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}
