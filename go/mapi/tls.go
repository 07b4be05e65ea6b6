/*
Copyright 2023 The Monetgo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mapi

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// wrapTLS runs the TLS handshake over an established TCP connection. The
// MAPI exchange starts only after the handshake succeeds, so credentials
// never travel before the channel is verified.
func wrapTLS(ctx context.Context, nc net.Conn, target *ConnParams) (net.Conn, error) {
	cfg := &tls.Config{
		ServerName: target.TLSServerName,
	}
	if cfg.ServerName == "" {
		cfg.ServerName = target.Host
	}
	switch {
	case target.TLSInsecureSkipVerify:
		cfg.InsecureSkipVerify = true
	case target.TLSCertHash != "":
		// Pinning replaces chain and name verification entirely.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyCertHash(target.TLSCertHash)
	}

	tc := tls.Client(nc, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("mapi: TLS handshake with %s: %w", cfg.ServerName, err)
	}
	return tc, nil
}

// verifyCertHash matches the hex SHA-256 digest of the presented leaf
// certificate against a pinned prefix. Longer pins are stricter; a full
// 64-character pin matches exactly one certificate.
func verifyCertHash(want string) func([][]byte, [][]*x509.Certificate) error {
	want = strings.TrimPrefix(strings.ToLower(want), "sha256:")
	want = strings.ReplaceAll(want, ":", "")
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("mapi: server presented no certificate")
		}
		sum := sha256.Sum256(rawCerts[0])
		got := hex.EncodeToString(sum[:])
		if !strings.HasPrefix(got, want) {
			return fmt.Errorf("mapi: server certificate digest %s does not match pinned prefix %s", got, want)
		}
		return nil
	}
}
