// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/mtrace"
)

const imageHeader = "CLASS "

// ErrBadImage is returned for an image that does not start with a class
// header.
var ErrBadImage = errors.New("malformed class image")

// Image returns the class image the replay host loads for a class.
func Image(class string) []byte {
	return []byte(imageHeader + class + "\n")
}

// Rewriter is an [mtrace.Rewriter] for replayed classes. It appends a hook
// record to the image and remembers the class number assigned to each
// rewritten class, so the replayed threads call the hooks with it.
type Rewriter struct {
	classes map[string]*Class

	mu     sync.Mutex
	hooked map[string]int
}

var _ mtrace.Rewriter = (*Rewriter)(nil)

// NewRewriter returns a Rewriter for the classes of s.
func NewRewriter(s *Script) *Rewriter {
	r := &Rewriter{
		classes: make(map[string]*Class, len(s.Classes)),
		hooked:  make(map[string]int),
	}
	for i := range s.Classes {
		r.classes[s.Classes[i].Name] = &s.Classes[i]
	}
	return r
}

func (r *Rewriter) ClassName(image []byte) (string, error) {
	line, _, _ := bytes.Cut(image, []byte("\n"))
	name, ok := bytes.CutPrefix(line, []byte(imageHeader))
	if !ok || len(name) == 0 {
		return "", ErrBadImage
	}
	return string(name), nil
}

func (r *Rewriter) Rewrite(req mtrace.RewriteRequest) (mtrace.RewriteResult, error) {
	c, ok := r.classes[req.ClassName]
	if !ok {
		return mtrace.RewriteResult{}, fmt.Errorf("unknown class %q", req.ClassName)
	}

	methods := make([]mtrace.Method, len(c.Methods))
	for i, m := range c.Methods {
		methods[i] = mtrace.Method{Name: m.Name, Signature: m.Signature}
	}

	h := req.Hooks
	img := make([]byte, 0, len(req.Image)+64)
	img = append(img, req.Image...)
	img = fmt.Appendf(img, "HOOK %s.%s/%s%s %d\n", h.TrackerClass, h.EntryMethod, h.ExitMethod, h.Signature, req.ClassID)

	r.mu.Lock()
	r.hooked[req.ClassName] = req.ClassID
	r.mu.Unlock()

	return mtrace.RewriteResult{Image: img, Methods: methods}, nil
}

// classID returns the class number of a rewritten class.
func (r *Rewriter) classID(class string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.hooked[class]
	return id, ok
}
