// Package pgtls loads TLS material for outbound Postgres connections and
// for the hub's own HTTPS listener. Loading PEM files is a thin
// out-of-scope collaborator per the design: callers get back a ready
// *tls.Config, never raw bytes.
package pgtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Connector produces a *tls.Config for outbound Postgres connections,
// overriding whatever sslmode-derived config pgconn.ParseConfig built.
type Connector struct {
	config *tls.Config
}

// LoadConnector builds a Connector from an optional CA file and an
// optional client cert/key pair. Any of the three may be empty.
func LoadConnector(caFile, certFile, keyFile string, insecureSkipVerify bool) (*Connector, error) {
	if caFile == "" && certFile == "" && keyFile == "" && !insecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}

	if caFile != "" {
		pemBytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("pgtls: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("pgtls: no certificates parsed from %s", caFile)
		}
		cfg.RootCAs = pool
	}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("pgtls: load client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return &Connector{config: cfg}, nil
}

// TLSConfig returns the resolved *tls.Config, or nil if no TLS was
// configured.
func (c *Connector) TLSConfig() *tls.Config {
	if c == nil {
		return nil
	}
	return c.config
}

// LoadServerConfig loads the certificate chain and key used by the HTTP
// surface when TLS is enabled.
func LoadServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("pgtls: load server keypair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}
