// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, ":8888", c.Addr())
	assert.Equal(t, DefaultAgentName, c.AgentName)
	assert.True(t, c.Reconnect)
	assert.Empty(t, c.Include)
	assert.NoError(t, c.Validate())
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		options string
		want    func(*Config)
	}{
		{
			name:    "empty",
			options: "",
			want:    func(*Config) {},
		},
		{
			name:    "include accumulates",
			options: "include=Foo,include=Bar.baz",
			want: func(c *Config) {
				c.Include = []string{"Foo", "Bar.baz"}
			},
		},
		{
			name:    "space separated",
			options: "include Foo exclude Foo.hashCode",
			want: func(c *Config) {
				c.Include = []string{"Foo"}
				c.Exclude = []string{"Foo.hashCode"}
			},
		},
		{
			name:    "server settings",
			options: "port=9000,host=127.0.0.1,name=probe,reconnect=false",
			want: func(c *Config) {
				c.Port = 9000
				c.Host = "127.0.0.1"
				c.AgentName = "probe"
				c.Reconnect = false
			},
		},
		{
			name:    "queue settings",
			options: "queue=16,overflow=drop-oldest,match=glob",
			want: func(c *Config) {
				c.Queue.Capacity = 16
				c.Queue.Overflow = "drop-oldest"
				c.Match = "glob"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := Default()
			tt.want(&want)
			got, err := ParseOptions(tt.options, Default())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseOptionsErrors(t *testing.T) {
	tests := []struct {
		options string
		target  error
	}{
		{"help", ErrHelp},
		{"include=Foo,help", ErrHelp},
		{"bogus=1", ErrUnknownOption},
		{"include", ErrMissingValue},
		{"include=Foo,port", ErrMissingValue},
	}
	for _, tt := range tests {
		t.Run(tt.options, func(t *testing.T) {
			got, err := ParseOptions(tt.options, Default())
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, Default(), got, "base must be returned on error")
		})
	}

	for _, opt := range []string{"port=x", "port=70000", "queue=-1", "overflow=never", "match=regex", "reconnect=maybe"} {
		t.Run(opt, func(t *testing.T) {
			_, err := ParseOptions(opt, Default())
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mtrace.yaml")
	data := `
include: [Foo, Bar.baz]
port: 9100
agent_name: yaml-agent
idle_wait: 5ms
queue:
  capacity: 8
  overflow: block
  block_timeout: 20ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := LoadFile(path, Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo", "Bar.baz"}, c.Include)
	assert.Equal(t, 9100, c.Port)
	assert.Equal(t, "yaml-agent", c.AgentName)
	assert.Equal(t, 5*time.Millisecond, c.IdleWait)
	assert.Equal(t, Queue{Capacity: 8, Overflow: "block", BlockTimeout: 20 * time.Millisecond}, c.Queue)
	assert.True(t, c.Reconnect, "unset keys keep the base value")
	assert.NoError(t, c.Validate())

	t.Run("options override file", func(t *testing.T) {
		c, err := ParseOptions("config="+path+",port=9200,include=Qux", Default())
		require.NoError(t, err)
		assert.Equal(t, 9200, c.Port)
		assert.Equal(t, []string{"Foo", "Bar.baz", "Qux"}, c.Include)
	})

	t.Run("file patterns accumulate", func(t *testing.T) {
		lists := filepath.Join(dir, "lists.yaml")
		require.NoError(t, os.WriteFile(lists, []byte("include: [B]\nexclude: [B.skip]\n"), 0o600))

		c, err := ParseOptions("include=A,exclude=A.skip,config="+lists+",include=C", Default())
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, c.Include)
		assert.Equal(t, []string{"A.skip", "B.skip"}, c.Exclude)
	})

	t.Run("unknown key", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("colour: red\n"), 0o600))
		_, err := LoadFile(bad, Default())
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "nope.yaml"), Default())
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(empty, nil, 0o600))
		c, err := LoadFile(empty, Default())
		require.NoError(t, err)
		assert.Equal(t, Default(), c)
	})
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Match = "regex"
	assert.Error(t, c.Validate())

	c = Default()
	c.Queue.Overflow = "sometimes"
	assert.Error(t, c.Validate())

	c = Default()
	c.Port = -1
	assert.Error(t, c.Validate())
}

func TestRule(t *testing.T) {
	c := Default()
	c.Match = "glob"
	c.Include = []string{"Foo.*"}
	r, err := c.Rule()
	require.NoError(t, err)
	assert.True(t, r.Match("Foo.bar", "Foo.*"))
}
