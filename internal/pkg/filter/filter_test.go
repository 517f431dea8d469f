// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInterestedEmptyPatterns(t *testing.T) {
	for _, n := range [][2]string{
		{"Foo", "bar"},
		{"java/lang/String", "<init>"},
		{"", ""},
	} {
		assert.True(t, IsInterested(n[0], n[1], nil), "%s:%s", n[0], n[1])
		assert.True(t, IsInterested(n[0], n[1], []string{}), "%s:%s", n[0], n[1])
	}
}

func TestIsInterested(t *testing.T) {
	testCases := []struct {
		name     string
		class    string
		method   string
		patterns []string
		want     bool
	}{
		{
			name:     "class matches",
			class:    "Foo",
			method:   "bar",
			patterns: []string{"Foo"},
			want:     true,
		},
		{
			name:     "no match",
			class:    "Foo",
			method:   "bar",
			patterns: []string{"Other"},
			want:     false,
		},
		{
			name:     "method matches",
			class:    "Foo",
			method:   "bar",
			patterns: []string{"Other", "bar"},
			want:     true,
		},
		{
			name:     "qualified match",
			class:    "Foo",
			method:   "bar",
			patterns: []string{"Foo.bar"},
			want:     true,
		},
		{
			name:     "qualified mismatch",
			class:    "Foo",
			method:   "baz",
			patterns: []string{"Foo.bar"},
			want:     false,
		},
		{
			name:     "package prefix",
			class:    "com/example/Service",
			method:   "run",
			patterns: []string{"com/example/"},
			want:     true,
		},
		{
			name:     "empty pattern ignored",
			class:    "Foo",
			method:   "bar",
			patterns: []string{""},
			want:     false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsInterested(tc.class, tc.method, tc.patterns))
		})
	}
}

func TestRules(t *testing.T) {
	assert.True(t, Prefix.Match("FooBar", "Foo"))
	assert.False(t, Prefix.Match("BarFoo", "Foo"))

	assert.True(t, Substring.Match("BarFooBaz", "Foo"))
	assert.False(t, Substring.Match("Bar", "Foo"))

	assert.True(t, Exact.Match("Foo", "Foo"))
	assert.False(t, Exact.Match("FooBar", "Foo"))

	g := NewGlob("java/util/*", "Foo.{bar,baz}", "[")
	assert.True(t, g.Match("java/util/List", "java/util/*"))
	assert.False(t, g.Match("java/util/concurrent/Future", "java/util/*"))
	assert.True(t, g.Match("Foo.baz", "Foo.{bar,baz}"))
	assert.False(t, g.Match("Foo.qux", "Foo.{bar,baz}"))
	// Invalid patterns degrade to exact comparison.
	assert.True(t, g.Match("[", "["))
	assert.True(t, g.Match("Foo", "Foo"))
}

func TestRuleByName(t *testing.T) {
	for _, name := range []string{"", "prefix", "substring", "exact", "glob", "GLOB"} {
		r, ok := RuleByName(name)
		assert.True(t, ok, name)
		assert.NotNil(t, r, name)
	}
	_, ok := RuleByName("regex")
	assert.False(t, ok)
}

func TestFilterExclude(t *testing.T) {
	f := New(nil, []string{"java/"}, nil)
	assert.False(t, f.Interested("java/lang/String", "length"))
	assert.True(t, f.Interested("Foo", "bar"))

	f = New([]string{"Foo"}, []string{"Foo.secret"}, nil)
	assert.True(t, f.Interested("Foo", "bar"))
	assert.False(t, f.Interested("Foo", "secret"))
}

func TestFilterInterestedInClass(t *testing.T) {
	f := New([]string{"Foo.bar"}, nil, Exact)
	assert.True(t, f.InterestedInClass("Foo"))
	assert.False(t, f.InterestedInClass("Other"))
	assert.True(t, f.Interested("Foo", "bar"))
	assert.False(t, f.Interested("Foo", "baz"))

	f = New(nil, []string{"Hidden"}, nil)
	assert.True(t, f.InterestedInClass("Foo"))
	assert.False(t, f.InterestedInClass("Hidden"))
}

func TestFilterGlob(t *testing.T) {
	patterns := []string{"com/acme/*"}
	r, ok := RuleByName("glob", patterns...)
	assert.True(t, ok)

	f := New(patterns, nil, r)
	assert.True(t, f.InterestedInClass("com/acme/Widget"))
	assert.False(t, f.InterestedInClass("com/other/Widget"))
	assert.True(t, f.Interested("com/acme/Widget", "spin"))
}

func TestMatchQualified(t *testing.T) {
	testCases := []struct {
		class, method, pattern string
	}{
		{"Foo", "bar", "Foo.bar"},
		{"Foo", "bar", "Foo.ba"},
		{"Foo", "bar", "Foo."},
		{"Foo", "bar", "Fo.bar"},
		{"Foo", "bar", "Foo.barx"},
		{"Foo", "bar", "o.b"},
		{"Foo", "bar", "oo.bar"},
		{"Foo", "bar", "x.b"},
		{"java.lang.String", "length", "java.lang.String.len"},
		{"java.lang.String", "length", "java.lang."},
		{"java.lang.String", "length", "lang.String.length"},
		{"java.lang.String", "length", "String.length"},
		{"java.lang.String", "length", "java.lang.Str.length"},
		{"a.b", "c", "a.b.c"},
		{"a", "b", "a.b.c"},
	}

	rules := map[string]Rule{"prefix": Prefix, "exact": Exact, "substring": Substring}
	for name, r := range rules {
		qr, ok := r.(QualifiedRule)
		require.True(t, ok, name)
		for _, tc := range testCases {
			want := r.Match(tc.class+"."+tc.method, tc.pattern)
			assert.Equal(t, want, qr.MatchQualified(tc.class, tc.method, tc.pattern),
				"%s: %s.%s against %q", name, tc.class, tc.method, tc.pattern)
		}
	}
}

func TestInterestedQualifiedAllocs(t *testing.T) {
	f := New([]string{"java.lang.String.len", "Foo.bar"}, []string{"Foo.secret"}, nil)
	allocs := testing.AllocsPerRun(100, func() {
		f.Interested("java.lang.String", "length")
		f.Interested("Foo", "bar")
		f.Interested("Foo", "secret")
	})
	assert.Zero(t, allocs)
}

func TestFilterEmptyPatterns(t *testing.T) {
	f := New([]string{""}, []string{""}, nil)
	assert.True(t, f.Interested("Foo", "bar"))
	assert.True(t, f.InterestedInClass("Foo"))

	f = New([]string{"", "Foo"}, nil, nil)
	assert.True(t, f.Interested("Foo", "bar"))
	assert.False(t, f.Interested("Other", "bar"))
	assert.False(t, f.InterestedInClass("Other"))
}
