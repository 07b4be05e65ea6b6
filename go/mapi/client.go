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
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"monetgo.io/monetgo/go/log"
)

// libraryVersion is announced in client metadata.
const libraryVersion = "monetgo " + Version

// Connect dials the configured endpoint and runs the login handshake,
// following server redirects up to params.MaxRedirects. The returned Conn
// is ready for commands. Connect never retries a rejected login.
func Connect(ctx context.Context, params *ConnParams) (*Conn, error) {
	target := params.withDefaults()

	var c *Conn
	fail := func(err error) (*Conn, error) {
		if c != nil {
			c.Close()
		}
		return nil, err
	}

	for attempt := 0; attempt < target.MaxRedirects; attempt++ {
		if c == nil {
			var err error
			c, err = dialTarget(ctx, target)
			if err != nil {
				return nil, err
			}
		}

		if c.isControl {
			// Raw control sessions have no login.
			c.state = stateReady
			return c, nil
		}

		verdict, err := c.login(target)
		if err != nil {
			return fail(err)
		}
		switch verdict {
		case loginOK:
			c.state = stateReady
			if err := c.postLogin(); err != nil {
				return fail(err)
			}
			return c, nil
		case loginRetry:
			// Another round on the same socket: the daemon proxied
			// us to the real server.
		case loginRedirect:
			// login updated target; reconnect from scratch.
			c.Close()
			c = nil
		}
	}
	if c != nil {
		c.Close()
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrTooManyRedirects, target.MaxRedirects)
}

// dialTarget opens the socket and primes it the way the server expects
// before the first challenge.
func dialTarget(ctx context.Context, target *ConnParams) (*Conn, error) {
	network, addr, err := target.address()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: target.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("mapi: connecting to %s %s: %w", network, addr, err)
	}

	c := newConn(netConn, target)
	switch network {
	case "tcp":
		if tc, ok := netConn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetNoDelay(true)
		}
		if target.UseTLS {
			tlsConn, terr := wrapTLS(ctx, netConn, target)
			if terr != nil {
				return nil, terr
			}
			c = newConn(tlsConn, target)
			break
		}
		// Prime the connection with NUL bytes. A MAPI server ignores
		// them; a TLS server accidentally listening here errors out
		// instead of hanging. A negotiated TLS session needs no probe.
		if _, err := netConn.Write(make([]byte, 8)); err != nil {
			c.Close()
			return nil, fmt.Errorf("mapi: priming connection: %w", err)
		}
	default:
		if target.Language == LanguageControl {
			c.isControl = true
			break
		}
		// Tell the other side we are not passing a file descriptor.
		if _, err := netConn.Write([]byte{'0'}); err != nil {
			c.Close()
			return nil, fmt.Errorf("mapi: priming connection: %w", err)
		}
	}
	return c, nil
}

type loginVerdict int

const (
	loginOK loginVerdict = iota
	loginRetry
	loginRedirect
)

// login performs one challenge/response round. It may mutate target when
// the server redirects to another endpoint.
func (c *Conn) login(target *ConnParams) (loginVerdict, error) {
	chalMsg, err := c.readMessage()
	if err != nil {
		return 0, err
	}
	chal, err := parseChallenge(chalMsg)
	if err != nil {
		return 0, c.markBroken(err)
	}
	c.serverType = chal.serverType
	c.clientInfoOK = chal.supportsClientInfo()
	c.binaryLevel = chal.binaryLevel()

	resp, err := chal.response(target)
	if err != nil {
		return 0, err
	}
	if err := c.writeMessage([]byte(resp)); err != nil {
		return 0, err
	}

	verdictMsg, err := c.readMessage()
	if err != nil {
		return 0, err
	}
	verdict := strings.TrimSpace(string(verdictMsg))
	switch {
	case verdict == "" || verdict == promptOK:
		return loginOK, nil
	case verdict[0] == markInfo:
		log.Infof("mapi: server: %s", verdict[1:])
		return loginOK, nil
	case verdict[0] == markError:
		se := newServerErrorFromLine(verdict[1:])
		return 0, fmt.Errorf("%w: %v", ErrAccessDenied, se)
	case verdict[0] == markRedirect:
		// The server may send several redirects; only the first is
		// used.
		redirect, _, _ := strings.Cut(verdict[1:], "\n")
		return c.handleRedirect(redirect, target)
	default:
		return 0, c.markBroken(protocolErrorf(verdict, "unexpected login verdict"))
	}
}

// handleRedirect applies a redirect string to target. A merovingian
// redirect restarts the handshake on the same socket; anything else names a
// new endpoint to dial.
func (c *Conn) handleRedirect(redirect string, target *ConnParams) (loginVerdict, error) {
	if strings.HasPrefix(redirect, "mapi:merovingian:") {
		log.V(1).Infof("mapi: restarting authentication behind daemon proxy")
		return loginRetry, nil
	}
	rest, ok := strings.CutPrefix(redirect, "mapi:")
	if !ok {
		return 0, c.markBroken(protocolErrorf(redirect, "unrecognized redirect"))
	}
	u, err := url.Parse(rest)
	if err != nil || u.Scheme != "monetdb" {
		return 0, c.markBroken(protocolErrorf(redirect, "bad redirect URL"))
	}
	if u.Host == "" {
		// monetdb:///path/to/socket form.
		target.UnixSocket = u.Path
	} else {
		target.UnixSocket = ""
		target.Host = u.Hostname()
		target.Port = DefaultPort
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return 0, c.markBroken(protocolErrorf(redirect, "bad redirect port"))
			}
			target.Port = port
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			target.Database = db
		}
	}
	log.V(1).Infof("mapi: redirected to %s", redirect)
	return loginRedirect, nil
}

// postLogin applies session options and announces client metadata. Option
// failures are fatal; metadata failures are logged and ignored.
func (c *Conn) postLogin() error {
	if c.params.Language != LanguageSQL {
		return nil
	}
	if _, err := c.exec("Xreply_size " + strconv.Itoa(c.params.ReplySize)); err != nil {
		return fmt.Errorf("mapi: setting reply size: %w", err)
	}
	if c.clientInfoOK {
		if err := c.sendClientInfo(); err != nil {
			log.Warningf("mapi: client info rejected: %v", err)
		}
	}
	return nil
}

// sendClientInfo announces who is connecting. The session id lets server
// logs correlate reconnects from the same client process.
func (c *Conn) sendClientInfo() error {
	app := c.params.ApplicationName
	if app == "" {
		app = os.Args[0]
	}
	hostname, _ := os.Hostname()
	info := []string{
		"ApplicationName=" + app,
		"ClientHostname=" + hostname,
		"ClientLibrary=" + libraryVersion,
		"ClientPid=" + strconv.Itoa(os.Getpid()),
		"ClientSessionId=" + uuid.NewString(),
	}
	_, err := c.exec("Xclientinfo " + strings.Join(info, "\n"))
	return err
}

// Interrupt cancels the command currently running on this connection. The
// protocol is half-duplex, so the interrupt travels over a separate
// short-lived connection with the same credentials and redirect handling;
// the blocked connection is not touched. Safe to call from another
// goroutine while this Conn waits for its response.
func (c *Conn) Interrupt(ctx context.Context) error {
	aux, err := Connect(ctx, c.params)
	if err != nil {
		return fmt.Errorf("mapi: opening interrupt connection: %w", err)
	}
	defer aux.Close()
	if _, err := aux.exec("Xinterrupt"); err != nil {
		return err
	}
	return nil
}
