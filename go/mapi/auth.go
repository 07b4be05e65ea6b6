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
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

// defaultHashPreference is the client's digest preference, strongest first.
var defaultHashPreference = []string{"SHA512", "SHA384", "SHA256", "SHA224", "SHA1"}

// newHash returns a hash for the server's algorithm spelling, or nil for
// algorithms this client does not implement.
func newHash(name string) hash.Hash {
	switch strings.ToUpper(name) {
	case "SHA512":
		return sha512.New()
	case "SHA384":
		return sha512.New384()
	case "SHA256":
		return sha256.New()
	case "SHA224":
		return sha256.New224()
	case "SHA1":
		return sha1.New()
	case "MD5":
		return md5.New()
	}
	return nil
}

func hexDigest(h hash.Hash, parts ...string) string {
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// challenge is the parsed colon-delimited login challenge.
type challenge struct {
	salt         string
	serverType   string
	protocol     string
	hashes       []string
	endian       string
	passwordAlgo string

	// options carries per-language handshake option levels ("sql=4").
	// Present from the seventh field on; older servers omit it.
	options []string

	// extra holds any fields beyond the ones this client interprets,
	// e.g. "BINARY=1" or capability words like "CLIENTINFO".
	extra []string
}

// parseChallenge splits the challenge message. The wire form ends every
// field with a colon, including the last.
func parseChallenge(msg []byte) (*challenge, error) {
	s := strings.TrimRight(string(msg), "\n")
	fields := strings.Split(s, ":")
	if len(fields) < 7 || fields[len(fields)-1] != "" {
		return nil, protocolErrorf(s, "server sent invalid challenge")
	}
	fields = fields[:len(fields)-1]

	ch := &challenge{
		salt:         fields[0],
		serverType:   fields[1],
		protocol:     fields[2],
		hashes:       strings.Split(fields[3], ","),
		endian:       fields[4],
		passwordAlgo: fields[5],
	}
	if ch.salt == "" {
		return nil, protocolErrorf(s, "server sent empty salt")
	}
	if len(fields) >= 7 {
		ch.options = strings.Split(fields[6], ",")
	}
	if len(fields) >= 8 {
		ch.extra = fields[7:]
	}
	return ch, nil
}

// supportsClientInfo reports whether the server advertised the client
// metadata capability.
func (ch *challenge) supportsClientInfo() bool {
	for _, f := range ch.extra {
		if strings.EqualFold(f, "CLIENTINFO") {
			return true
		}
	}
	return false
}

// binaryLevel returns the binary result-set protocol level the server
// advertised, 0 when absent or unparsable.
func (ch *challenge) binaryLevel() int {
	for _, f := range ch.extra {
		v, ok := strings.CutPrefix(f, "BINARY=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// selectHash picks the first algorithm from the client preference order
// that the server offers and the client implements. Called before any
// credential material is touched so a failed negotiation never leaks a
// digest.
func selectHash(preference, offered []string) (string, error) {
	for _, want := range preference {
		for _, have := range offered {
			if strings.EqualFold(want, have) && newHash(have) != nil {
				return have, nil
			}
		}
	}
	return "", fmt.Errorf("%w: server offers %s", ErrNoCommonHash, strings.Join(offered, ","))
}

// response computes the login response line for the challenge.
func (ch *challenge) response(params *ConnParams) (string, error) {
	if ch.protocol != protocolVersion {
		return "", protocolErrorf("", "server speaks protocol %q, this client only speaks %s", ch.protocol, protocolVersion)
	}
	switch ch.endian {
	case "LIT", "BIG":
	default:
		return "", protocolErrorf("", "unknown byte order %q", ch.endian)
	}

	// Negotiate the salted digest algorithm first: a no-overlap failure
	// must be reported before credentials are transmitted, distinct from
	// a bad-password rejection.
	algo, err := selectHash(params.HashPreference, ch.hashes)
	if err != nil {
		return "", err
	}

	user := params.User
	password := params.Password
	if ch.serverType == "merovingian" {
		// The daemon proxies the real login; it accepts a fixed
		// identity for the hop.
		user = "merovingian"
		password = ""
	}

	pwHash := newHash(ch.passwordAlgo)
	if pwHash == nil {
		return "", protocolErrorf("", "server demands unsupported password hash %q", ch.passwordAlgo)
	}
	hashedPassword := hexDigest(pwHash, password)
	digest := hexDigest(newHash(algo), hashedPassword, ch.salt)

	resp := strings.Join([]string{
		"BIG",
		user,
		"{" + algo + "}" + digest,
		params.Language,
		params.Database,
	}, ":") + ":"

	if len(ch.options) > 0 {
		// Announce file transfer capability. Session options such as
		// the reply size are set with commands after login instead of
		// piggybacked here, so one path serves old and new servers.
		resp += "FILETRANS::"
	}
	return resp, nil
}
