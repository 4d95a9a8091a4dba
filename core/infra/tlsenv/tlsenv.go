// Package tlsenv builds client TLS settings from <PREFIX>_TLS_* variables.
package tlsenv

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// FromEnv reads <prefix>_TLS_CA, _CERT, _KEY, _INSECURE and _SERVER_NAME.
// It returns nil when none of them is set.
func FromEnv(prefix string) (*tls.Config, error) {
	name := strings.ToLower(prefix)
	caPath := env(prefix, "CA")
	certPath := env(prefix, "CERT")
	keyPath := env(prefix, "KEY")
	serverName := env(prefix, "SERVER_NAME")
	insecure := parseBool(env(prefix, "INSECURE"))

	if caPath == "" && certPath == "" && keyPath == "" && serverName == "" && !insecure {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if serverName != "" {
		cfg.ServerName = serverName
	}
	if insecure {
		cfg.InsecureSkipVerify = true
	}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("%s tls ca read: %w", name, err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("%s tls ca parse: %s", name, caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("%s tls cert/key must be set together", name)
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("%s tls keypair: %w", name, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func env(prefix, key string) string {
	return strings.TrimSpace(os.Getenv(prefix + "_TLS_" + key))
}

func parseBool(val string) bool {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
