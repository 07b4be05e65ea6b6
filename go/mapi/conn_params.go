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
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// ConnParams contains all the parameters to use to connect to a server.
type ConnParams struct {
	Host       string
	Port       int
	UnixSocket string

	User     string
	Password string
	Database string

	// Language selects the command language of the session. LanguageSQL
	// is the default; LanguageControl over a unix socket speaks the raw
	// daemon-control dialect without block framing.
	Language string

	// ConnectTimeout bounds dialing plus the login handshake. Zero means
	// no limit.
	ConnectTimeout time.Duration
	// ReadTimeout and WriteTimeout bound individual socket operations
	// after login. On expiry the connection is broken and discarded.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ReplySize is the row window the server sends with each result
	// before the client pages with FetchMore. -1 means everything.
	ReplySize int

	// MaxRedirects bounds the login redirect chain.
	MaxRedirects int

	// HashPreference overrides the algorithm preference order used to
	// pick the login digest, strongest first. Names follow the server's
	// spelling (SHA512, SHA256, ...).
	HashPreference []string

	// ApplicationName is announced to the server after login when the
	// server supports client metadata.
	ApplicationName string

	// UseTLS wraps the TCP connection in TLS before the handshake. Unix
	// sockets never use TLS.
	UseTLS bool
	// TLSServerName overrides the name verified against the server
	// certificate. Defaults to Host.
	TLSServerName string
	// TLSCertHash, when set, replaces chain verification with pinning:
	// the hex SHA-256 digest of the server's leaf certificate must start
	// with this string. An optional "sha256:" prefix is accepted.
	TLSCertHash string
	// TLSInsecureSkipVerify disables all certificate verification. For
	// test setups only.
	TLSInsecureSkipVerify bool
}

func (cp *ConnParams) withDefaults() *ConnParams {
	out := *cp
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.User == "" {
		out.User = DefaultUser
	}
	if out.Language == "" {
		out.Language = LanguageSQL
	}
	if out.ReplySize == 0 {
		out.ReplySize = DefaultReplySize
	}
	if out.MaxRedirects == 0 {
		out.MaxRedirects = DefaultMaxRedirects
	}
	if len(out.HashPreference) == 0 {
		out.HashPreference = defaultHashPreference
	}
	return &out
}

// address returns the dial network and address. The unix socket wins when
// both are configured, mirroring how local deployments name their sockets
// after the port.
func (cp *ConnParams) address() (network, addr string, err error) {
	if cp.UnixSocket != "" {
		return "unix", cp.UnixSocket, nil
	}
	if cp.Host != "" {
		return "tcp", net.JoinHostPort(cp.Host, strconv.Itoa(cp.Port)), nil
	}
	return "", "", fmt.Errorf("mapi: no host or unix socket configured")
}

// RegisterFlags installs the connection flags on fs with the given prefix
// (e.g. prefix "db" yields --db-host). Credentials are deliberately not
// registered; they come from LoadDotFile or the caller.
func (cp *ConnParams) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	fs.StringVar(&cp.Host, prefix+"-host", cp.Host, "server host to connect to")
	fs.IntVar(&cp.Port, prefix+"-port", cp.Port, "server TCP port")
	fs.StringVar(&cp.UnixSocket, prefix+"-unix-socket", cp.UnixSocket, "unix socket path, used instead of host/port when set")
	fs.StringVar(&cp.Database, prefix+"-database", cp.Database, "database to attach to")
	fs.DurationVar(&cp.ConnectTimeout, prefix+"-connect-timeout", cp.ConnectTimeout, "timeout for dialing and login")
	fs.DurationVar(&cp.ReadTimeout, prefix+"-read-timeout", cp.ReadTimeout, "per-read socket timeout")
	fs.DurationVar(&cp.WriteTimeout, prefix+"-write-timeout", cp.WriteTimeout, "per-write socket timeout")
	fs.IntVar(&cp.ReplySize, prefix+"-reply-size", cp.ReplySize, "rows returned per result window, -1 for all")
	fs.BoolVar(&cp.UseTLS, prefix+"-use-tls", cp.UseTLS, "wrap the connection in TLS")
	fs.StringVar(&cp.TLSServerName, prefix+"-tls-server-name", cp.TLSServerName, "server name to verify against the certificate, defaults to the host")
	fs.StringVar(&cp.TLSCertHash, prefix+"-tls-cert-hash", cp.TLSCertHash, "hex SHA-256 prefix of the pinned server certificate")
}

// LoadDotFile merges credentials from a key=value file in the classic
// .monetdb format (user, password, database, language). Values already set
// on the receiver win.
func (cp *ConnParams) LoadDotFile(path string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("mapi: reading credentials file: %w", err)
	}
	if cp.User == "" {
		cp.User = vals["user"]
	}
	if cp.Password == "" {
		cp.Password = vals["password"]
	}
	if cp.Database == "" {
		cp.Database = vals["database"]
	}
	if cp.Language == "" {
		cp.Language = vals["language"]
	}
	return nil
}
