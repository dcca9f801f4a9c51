// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package tls generates and stores self-signed development certificates
// so `tollgate serve` can speak HTTPS without a reverse proxy. Production
// deployments point cert_file/key_file at real certificates instead.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	devCertFile = "dev-server.crt"
	devKeyFile  = "dev-server.key"
)

// EnsureDevCert returns the paths of a self-signed server certificate
// under dir, generating the pair on first use. The certificate covers
// localhost, 127.0.0.1, and host (when non-empty).
func EnsureDevCert(dir, host string) (certFile, keyFile string, err error) {
	certFile = filepath.Join(dir, devCertFile)
	keyFile = filepath.Join(dir, devKeyFile)

	if _, err := os.Stat(certFile); err == nil {
		if _, err := os.Stat(keyFile); err == nil {
			return certFile, keyFile, nil
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create certs directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate server key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate serial: %w", err)
	}

	dnsNames := []string{"localhost"}
	if host != "" && host != "localhost" {
		dnsNames = append(dnsNames, host)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Tollgate"},
			CommonName:   "tollgate-dev",
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to create server certificate: %w", err)
	}

	if err := savePEM(certFile, "CERTIFICATE", certBytes); err != nil {
		return "", "", fmt.Errorf("failed to save server certificate: %w", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal server key: %w", err)
	}
	if err := savePEM(keyFile, "EC PRIVATE KEY", keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to save server key: %w", err)
	}

	return certFile, keyFile, nil
}

// LoadCertificate parses the certificate stored at path.
func LoadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// savePEM writes a single PEM block to path with key-file permissions.
func savePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("failed to encode PEM: %w", err)
	}
	return f.Sync()
}
