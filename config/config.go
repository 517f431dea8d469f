// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the agent configuration from defaults, a YAML
// file and the agent option string.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/mtrace/internal/pkg/filter"
	"go.opentelemetry.io/mtrace/internal/pkg/queue"
	"go.opentelemetry.io/mtrace/internal/pkg/server"
)

const (
	// DefaultPort is the TCP port the agent listens on.
	DefaultPort = server.DefaultPort
	// DefaultAgentName is announced in the client greeting.
	DefaultAgentName = server.DefaultAgentName
	// DefaultShutdownTimeout bounds the flush performed at shutdown.
	DefaultShutdownTimeout = time.Second
)

var (
	// ErrHelp is returned when the option string asks for usage
	// information. Callers print Usage and exit successfully.
	ErrHelp = errors.New("help requested")
	// ErrUnknownOption is returned for an unrecognized option token.
	ErrUnknownOption = errors.New("unknown option")
	// ErrMissingValue is returned when an option that takes a value is
	// the last token.
	ErrMissingValue = errors.New("option requires a value")
)

// Usage describes the agent option string.
const Usage = `
The mtrace method call trace agent

The agent options are separated by commas, equal signs or spaces:

  help                 Print help information
  include=item         Only these classes/methods (may repeat)
  exclude=item         Not these classes/methods (may repeat)
  match=rule           How items match names: prefix, substring, exact, glob
  port=n               TCP port to listen on (default 8888)
  host=addr            Address to listen on (default all interfaces)
  name=agent           Name sent in the client greeting (default mtrace)
  queue=n              Event queue capacity, 0 is unbounded (default 0)
  overflow=policy      Full queue policy: drop-newest, drop-oldest, block
  reconnect=bool       Accept a new client after a disconnect (default true)
  config=file          Read settings from a YAML file

item    Qualified class and/or method names
        e.g. (include=java.lang.,exclude=java.lang.Object.hashCode)
`

// Queue configures the trace event queue.
type Queue struct {
	// Capacity is the maximum number of queued events. Zero means
	// unbounded.
	Capacity int `yaml:"capacity"`
	// Overflow names the policy applied when a bounded queue is full.
	Overflow string `yaml:"overflow"`
	// BlockTimeout bounds how long a producer waits under the block
	// policy.
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// Config is the resolved agent configuration.
type Config struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	// Match is the filter rule name.
	Match string `yaml:"match"`

	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AgentName string `yaml:"agent_name"`
	Reconnect bool   `yaml:"reconnect"`

	// IdleWait bounds how long the sender sleeps on an empty queue.
	IdleWait time.Duration `yaml:"idle_wait"`
	// UserTimeout is the TCP user timeout for client connections.
	UserTimeout time.Duration `yaml:"user_timeout"`
	// ShutdownTimeout bounds the flush at shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Queue Queue `yaml:"queue"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Match:           "prefix",
		Port:            DefaultPort,
		AgentName:       DefaultAgentName,
		Reconnect:       true,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Rule returns the filter rule named by Match, compiled for the include
// and exclude patterns.
func (c Config) Rule() (filter.Rule, error) {
	patterns := make([]string, 0, len(c.Include)+len(c.Exclude))
	patterns = append(patterns, c.Include...)
	patterns = append(patterns, c.Exclude...)
	r, ok := filter.RuleByName(c.Match, patterns...)
	if !ok {
		return nil, fmt.Errorf("unknown match rule: %q", c.Match)
	}
	return r, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("invalid queue capacity: %d", c.Queue.Capacity)
	}
	if _, err := queue.ParsePolicy(c.Queue.Overflow); err != nil {
		return err
	}
	if _, err := c.Rule(); err != nil {
		return err
	}
	return nil
}

// LoadFile reads the YAML file at path on top of base. Keys present in the
// file replace the values in base. Unknown keys are an error.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, pkgerrors.Wrap(err, "failed to read config file")
	}
	return Parse(data, base)
}

// Parse decodes YAML data on top of base.
func Parse(data []byte, base Config) (Config, error) {
	c := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return base, pkgerrors.Wrap(err, "failed to parse config")
	}
	return c, nil
}

// ParseOptions applies the agent option string to base. Tokens are
// separated by commas, equal signs or spaces. Include and exclude values
// accumulate. A config token loads the named YAML file at that point, so
// later tokens override it; its include and exclude lists are appended to
// the patterns already given.
func ParseOptions(options string, base Config) (Config, error) {
	c := base
	tokens := strings.FieldsFunc(options, func(r rune) bool {
		return r == ',' || r == '=' || r == ' '
	})
	for i := 0; i < len(tokens); i++ {
		key := tokens[i]
		if key == "help" {
			return base, ErrHelp
		}
		if !takesValue(key) {
			return base, fmt.Errorf("%w: %s", ErrUnknownOption, key)
		}
		if i+1 >= len(tokens) {
			return base, fmt.Errorf("%w: %s", ErrMissingValue, key)
		}
		i++
		if err := c.set(key, tokens[i]); err != nil {
			return base, pkgerrors.Wrapf(err, "%s option error", key)
		}
	}
	return c, nil
}

func takesValue(key string) bool {
	switch key {
	case "include", "exclude", "match", "port", "host", "name",
		"queue", "overflow", "reconnect", "config":
		return true
	}
	return false
}

func (c *Config) set(key, val string) error {
	switch key {
	case "include":
		c.Include = append(c.Include, val)
	case "exclude":
		c.Exclude = append(c.Exclude, val)
	case "match":
		if _, ok := filter.RuleByName(val); !ok {
			return fmt.Errorf("unknown match rule: %q", val)
		}
		c.Match = val
	case "port":
		p, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		if p < 0 || p > 65535 {
			return fmt.Errorf("invalid port: %d", p)
		}
		c.Port = p
	case "host":
		c.Host = val
	case "name":
		c.AgentName = val
	case "queue":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("invalid queue capacity: %d", n)
		}
		c.Queue.Capacity = n
	case "overflow":
		if _, err := queue.ParsePolicy(val); err != nil {
			return err
		}
		c.Queue.Overflow = val
	case "reconnect":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		c.Reconnect = b
	case "config":
		// Patterns accumulate across tokens, so the file's lists extend the
		// ones seen so far instead of replacing them.
		base := *c
		base.Include, base.Exclude = nil, nil
		loaded, err := LoadFile(val, base)
		if err != nil {
			return err
		}
		loaded.Include = append(append([]string(nil), c.Include...), loaded.Include...)
		loaded.Exclude = append(append([]string(nil), c.Exclude...), loaded.Exclude...)
		*c = loaded
	}
	return nil
}
