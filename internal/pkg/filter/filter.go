// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter decides which classes and methods are traced.
package filter

import (
	"strings"

	"github.com/gobwas/glob"
)

// Rule reports whether name matches pattern.
type Rule interface {
	Match(name, pattern string) bool
}

// RuleFunc adapts a function to a [Rule].
type RuleFunc func(name, pattern string) bool

// Match calls f(name, pattern).
func (f RuleFunc) Match(name, pattern string) bool { return f(name, pattern) }

// QualifiedRule is implemented by rules that can match the qualified name
// "class.method" without building it.
type QualifiedRule interface {
	Rule
	MatchQualified(class, method, pattern string) bool
}

var (
	// Prefix matches names that start with the pattern.
	Prefix Rule = prefixRule{}
	// Substring matches names that contain the pattern.
	Substring Rule = substringRule{}
	// Exact matches names equal to the pattern.
	Exact Rule = exactRule{}
)

type prefixRule struct{}

func (prefixRule) Match(name, pattern string) bool { return strings.HasPrefix(name, pattern) }

func (prefixRule) MatchQualified(class, method, pattern string) bool {
	if strings.HasPrefix(class, pattern) {
		return true
	}
	rest, ok := cutClass(pattern, class)
	return ok && strings.HasPrefix(method, rest)
}

type exactRule struct{}

func (exactRule) Match(name, pattern string) bool { return name == pattern }

func (exactRule) MatchQualified(class, method, pattern string) bool {
	rest, ok := cutClass(pattern, class)
	return ok && rest == method
}

type substringRule struct{}

func (substringRule) Match(name, pattern string) bool { return strings.Contains(name, pattern) }

// MatchQualified finds pattern inside class, inside method, or spanning the
// dot that joins them.
func (substringRule) MatchQualified(class, method, pattern string) bool {
	if strings.Contains(class, pattern) || strings.Contains(method, pattern) {
		return true
	}
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '.' && strings.HasSuffix(class, pattern[:i]) && strings.HasPrefix(method, pattern[i+1:]) {
			return true
		}
	}
	return false
}

// cutClass strips "class." from the front of pattern.
func cutClass(pattern, class string) (string, bool) {
	rest, ok := strings.CutPrefix(pattern, class)
	if !ok {
		return "", false
	}
	return strings.CutPrefix(rest, ".")
}

// Glob matches names against shell-style patterns ("java/util/*",
// "Foo.{bar,baz}"). Patterns are compiled once and cached.
type Glob struct {
	compiled map[string]glob.Glob
}

// NewGlob returns a [Glob] rule with patterns precompiled. Patterns that do
// not compile fall back to exact comparison.
func NewGlob(patterns ...string) *Glob {
	g := &Glob{compiled: make(map[string]glob.Glob, len(patterns))}
	for _, p := range patterns {
		if c, err := glob.Compile(p, '.', '/'); err == nil {
			g.compiled[p] = c
		}
	}
	return g
}

// Match implements [Rule]. The cache is only written by [NewGlob], so Match
// is safe for concurrent use.
func (g *Glob) Match(name, pattern string) bool {
	if c, ok := g.compiled[pattern]; ok {
		return c.Match(name)
	}
	return name == pattern
}

// RuleByName returns the rule registered under name ("prefix", "substring",
// "exact" or "glob"). The glob rule is compiled for patterns.
func RuleByName(name string, patterns ...string) (Rule, bool) {
	switch strings.ToLower(name) {
	case "", "prefix":
		return Prefix, true
	case "substring":
		return Substring, true
	case "exact":
		return Exact, true
	case "glob":
		return NewGlob(patterns...), true
	}
	return nil, false
}

// Filter holds the include and exclude lists. It is immutable once built.
type Filter struct {
	include []string
	exclude []string
	rule    Rule
}

// New returns a Filter. A nil rule means [Prefix]. Empty patterns are
// ignored, so an include list holding only empty patterns traces everything.
func New(include, exclude []string, rule Rule) *Filter {
	if rule == nil {
		rule = Prefix
	}
	return &Filter{
		include: nonEmpty(include),
		exclude: nonEmpty(exclude),
		rule:    rule,
	}
}

func nonEmpty(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Interested reports whether the method of class should be traced. An empty
// method name checks the class alone. Exclusions take precedence.
func (f *Filter) Interested(class, method string) bool {
	if len(f.exclude) > 0 && f.covered(f.exclude, class, method) {
		return false
	}
	if len(f.include) > 0 && !f.covered(f.include, class, method) {
		return false
	}
	return true
}

// InterestedInClass is the class-load check. Besides the patterns matching
// the class itself, a qualified "Class.method" include admits Class so its
// methods can be hooked.
func (f *Filter) InterestedInClass(class string) bool {
	if len(f.exclude) > 0 && f.covered(f.exclude, class, "") {
		return false
	}
	if len(f.include) == 0 || f.covered(f.include, class, "") {
		return true
	}
	for _, p := range f.include {
		if i := strings.LastIndexByte(p, '.'); i > 0 && f.rule.Match(class, p[:i]) {
			return true
		}
	}
	return false
}

func (f *Filter) covered(patterns []string, class, method string) bool {
	qr, _ := f.rule.(QualifiedRule)
	var qualified string
	for _, p := range patterns {
		if f.rule.Match(class, p) {
			return true
		}
		if method == "" {
			continue
		}
		if f.rule.Match(method, p) {
			return true
		}
		// Only qualified patterns can match "Class.method".
		if strings.IndexByte(p, '.') < 0 {
			continue
		}
		if qr != nil {
			if qr.MatchQualified(class, method, p) {
				return true
			}
			continue
		}
		if qualified == "" {
			qualified = class + "." + method
		}
		if f.rule.Match(qualified, p) {
			return true
		}
	}
	return false
}

// IsInterested reports whether class or method matches one of patterns using
// the [Prefix] rule. Empty patterns match everything.
func IsInterested(class, method string, patterns []string) bool {
	return New(patterns, nil, Prefix).Interested(class, method)
}
