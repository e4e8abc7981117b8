package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoCertsFound is returned when a CA file holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM file")

// ClientOptions names the files of a client TLS configuration. All fields
// are optional; CertFile and KeyFile must be set together.
type ClientOptions struct {
	// CAFile adds trusted roots on top of the system pool.
	CAFile string

	CertFile string
	KeyFile  string

	ServerName string
}

// Empty reports whether no option is set.
func (o ClientOptions) Empty() bool {
	return o == ClientOptions{}
}

// ClientConfig builds a TLS 1.2+ client configuration.
func ClientConfig(o ClientOptions) (*tls.Config, error) {
	if (o.CertFile == "") != (o.KeyFile == "") {
		return nil, errors.New("tlsroots: cert file and key file must be set together")
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: o.ServerName,
	}

	if o.CAFile != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		data, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: read ca file: %w", err)
		}
		if err := addPEM(pool, data); err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if o.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func addPEM(pool *x509.CertPool, data []byte) error {
	added := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}
