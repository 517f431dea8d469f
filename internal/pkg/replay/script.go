// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay provides a scripted host runtime. It loads classes and
// runs threads of method calls described by a YAML script, delivering the
// same notifications a real runtime would.
package replay

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultHostVersion is the host interface version reported when a script
// does not set one.
const DefaultHostVersion = "1.0"

// Script describes a replayed program.
type Script struct {
	HostVersion string   `yaml:"host_version"`
	Classes     []Class  `yaml:"classes"`
	Threads     []Thread `yaml:"threads"`
}

// Class is a class loaded by the replayed program.
type Class struct {
	Name string `yaml:"name"`
	// System classes are loaded before the runtime starts.
	System bool `yaml:"system"`
	// Anonymous classes are reported without a name, leaving it to be
	// derived from the class image.
	Anonymous bool     `yaml:"anonymous"`
	Methods   []Method `yaml:"methods"`
}

// Method is a method of a Class.
type Method struct {
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
}

// Thread runs its calls Repeat times.
type Thread struct {
	Name   string `yaml:"name"`
	Repeat int    `yaml:"repeat"`
	Calls  []Call `yaml:"calls"`
}

// Call invokes Method, a qualified "Class.method" name, and makes the
// nested Calls before returning.
type Call struct {
	Method string `yaml:"method"`
	Calls  []Call `yaml:"calls"`
}

// Load reads the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read script")
	}
	return Parse(data)
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "failed to parse script")
	}
	if s.HostVersion == "" {
		s.HostVersion = DefaultHostVersion
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) validate() error {
	classes := make(map[string]*Class, len(s.Classes))
	for i := range s.Classes {
		c := &s.Classes[i]
		if c.Name == "" {
			return fmt.Errorf("class %d: missing name", i)
		}
		if _, dup := classes[c.Name]; dup {
			return fmt.Errorf("class %s: defined twice", c.Name)
		}
		classes[c.Name] = c
	}

	var check func(calls []Call) error
	check = func(calls []Call) error {
		for _, call := range calls {
			class, method, ok := splitQualified(call.Method)
			if !ok {
				return fmt.Errorf("call %q: want Class.method", call.Method)
			}
			c, ok := classes[class]
			if !ok {
				return fmt.Errorf("call %q: unknown class", call.Method)
			}
			if c.methodIndex(method) < 0 {
				return fmt.Errorf("call %q: unknown method", call.Method)
			}
			if err := check(call.Calls); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range s.Threads {
		if t.Repeat < 0 {
			return fmt.Errorf("thread %s: negative repeat", t.Name)
		}
		if err := check(t.Calls); err != nil {
			return errors.Wrapf(err, "thread %s", t.Name)
		}
	}
	return nil
}

func (c *Class) methodIndex(name string) int {
	for i, m := range c.Methods {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// splitQualified splits at the last '.' so packaged class names work.
func splitQualified(q string) (class, method string, ok bool) {
	i := strings.LastIndexByte(q, '.')
	if i <= 0 || i == len(q)-1 {
		return "", "", false
	}
	return q[:i], q[i+1:], true
}
