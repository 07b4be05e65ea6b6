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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnParamsDefaults(t *testing.T) {
	p := (&ConnParams{Host: "db1"}).withDefaults()
	assert.Equal(t, DefaultPort, p.Port)
	assert.Equal(t, DefaultUser, p.User)
	assert.Equal(t, LanguageSQL, p.Language)
	assert.Equal(t, DefaultReplySize, p.ReplySize)
	assert.Equal(t, DefaultMaxRedirects, p.MaxRedirects)
	assert.Equal(t, defaultHashPreference, p.HashPreference)

	// Explicit values survive.
	p = (&ConnParams{Host: "db1", Port: 44001, ReplySize: -1, MaxRedirects: 2}).withDefaults()
	assert.Equal(t, 44001, p.Port)
	assert.Equal(t, -1, p.ReplySize)
	assert.Equal(t, 2, p.MaxRedirects)
}

func TestConnParamsAddress(t *testing.T) {
	network, addr, err := (&ConnParams{Host: "db1", Port: 50001}).address()
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "db1:50001", addr)

	// The unix socket wins over host/port.
	network, addr, err = (&ConnParams{Host: "db1", Port: 50001, UnixSocket: "/tmp/.s.monetdb.50001"}).address()
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/.s.monetdb.50001", addr)

	_, _, err = (&ConnParams{}).address()
	assert.Error(t, err)
}

func TestConnParamsRegisterFlags(t *testing.T) {
	var p ConnParams
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	p.RegisterFlags(fs, "db")

	err := fs.Parse([]string{
		"--db-host", "analytics.example.com",
		"--db-port", "44001",
		"--db-database", "warehouse",
		"--db-reply-size", "-1",
		"--db-connect-timeout", "5s",
		"--db-use-tls",
		"--db-tls-cert-hash", "a1b2c3",
	})
	require.NoError(t, err)
	assert.Equal(t, "analytics.example.com", p.Host)
	assert.Equal(t, 44001, p.Port)
	assert.Equal(t, "warehouse", p.Database)
	assert.Equal(t, -1, p.ReplySize)
	assert.Equal(t, "5s", p.ConnectTimeout.String())
	assert.True(t, p.UseTLS)
	assert.Equal(t, "a1b2c3", p.TLSCertHash)

	// Credentials never come from flags.
	assert.Nil(t, fs.Lookup("db-user"))
	assert.Nil(t, fs.Lookup("db-password"))
}

func TestConnParamsLoadDotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".monetdb")
	require.NoError(t, os.WriteFile(path, []byte("user=alice\npassword=wonderland\ndatabase=testdb\n"), 0o600))

	p := &ConnParams{Host: "db1"}
	require.NoError(t, p.LoadDotFile(path))
	assert.Equal(t, "alice", p.User)
	assert.Equal(t, "wonderland", p.Password)
	assert.Equal(t, "testdb", p.Database)

	// Values already set on the receiver win over the file.
	p = &ConnParams{Host: "db1", User: "bob", Database: "other"}
	require.NoError(t, p.LoadDotFile(path))
	assert.Equal(t, "bob", p.User)
	assert.Equal(t, "wonderland", p.Password)
	assert.Equal(t, "other", p.Database)

	assert.Error(t, (&ConnParams{}).LoadDotFile(filepath.Join(t.TempDir(), "missing")))
}
