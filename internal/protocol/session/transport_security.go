package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrInvalidEndpoint         = errors.New("session: invalid endpoint")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

// Endpoint schemes understood by the transports.
const (
	SchemeWS  = "ws"
	SchemeWSS = "wss"
	SchemeTCP = "tcp"
	SchemeTLS = "tls"
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ParseEndpoint validates the endpoint URL and returns it with a lowercased
// scheme.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case SchemeWS, SchemeWSS, SchemeTCP, SchemeTLS:
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return u, nil
}

// SecureScheme reports whether scheme runs over TLS.
func SecureScheme(scheme string) bool {
	return scheme == SchemeWSS || scheme == SchemeTLS
}

// ValidateClientTransport checks endpoint and TLS settings against the
// security mode. Production requires an encrypted scheme and verified peers.
// Without a CA file the system roots are used.
func (c Config) ValidateClientTransport(endpoint string) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	secure := SecureScheme(u.Scheme)

	if mode == SecurityModeProduction {
		if !secure {
			return fmt.Errorf("%w: scheme %q", ErrTLSRequired, u.Scheme)
		}
		if c.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if c.TLS.Mutual {
		if !secure {
			return ErrTLSRequired
		}
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// ClientTLSConfig builds the tls.Config used by secure transports.
func (c Config) ClientTLSConfig(serverName string) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	if strings.TrimSpace(c.TLS.ServerName) != "" {
		out.ServerName = strings.TrimSpace(c.TLS.ServerName)
	}
	if ca := strings.TrimSpace(c.TLS.CAFile); ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return nil, fmt.Errorf("session: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("session: ca file %q has no certificates", ca)
		}
		out.RootCAs = pool
	}
	if c.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("session: load client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
