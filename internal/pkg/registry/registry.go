// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the table of instrumented classes and their
// methods, indexed by the numbers the rewriter embeds in hooked code.
package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrClassOutOfRange is returned for a class number that was never
	// registered.
	ErrClassOutOfRange = errors.New("class number out of range")
	// ErrMethodOutOfRange is returned for a method number that is not part
	// of the class method table.
	ErrMethodOutOfRange = errors.New("method number out of range")
)

// Method is a method name and signature as reported by the rewriter.
type Method struct {
	Name      string
	Signature string
}

// MethodRecord describes one method of a registered class.
type MethodRecord struct {
	Name      string
	Signature string
	// EntryCount and ExitCount are reserved and not updated by the capture
	// path.
	EntryCount int
	ExitCount  int
}

// ClassRecord describes one registered class.
type ClassRecord struct {
	ID        int
	Name      string
	Methods   []MethodRecord
	CallCount int
}

// Registry is an append-only table of classes. It is not safe for
// concurrent use; callers serialize access.
type Registry struct {
	classes []ClassRecord
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// RegisterClass appends a class with no methods and returns its number.
func (r *Registry) RegisterClass(name string) int {
	id := len(r.classes)
	r.classes = append(r.classes, ClassRecord{ID: id, Name: name})
	return id
}

// AttachMethods sets the method table of class id. It is a no-op for an
// empty list.
func (r *Registry) AttachMethods(id int, methods []Method) error {
	if id < 0 || id >= len(r.classes) {
		return fmt.Errorf("%w: %d", ErrClassOutOfRange, id)
	}
	if len(methods) == 0 {
		return nil
	}

	c := &r.classes[id]
	c.CallCount = 0
	c.Methods = make([]MethodRecord, len(methods))
	for i, m := range methods {
		c.Methods[i] = MethodRecord{Name: m.Name, Signature: m.Signature}
	}
	return nil
}

// Lookup returns the class and method names for the given numbers.
func (r *Registry) Lookup(classID, methodID int) (class, method string, err error) {
	if classID < 0 || classID >= len(r.classes) {
		return "", "", fmt.Errorf("%w: %d", ErrClassOutOfRange, classID)
	}
	c := &r.classes[classID]
	if methodID < 0 || methodID >= len(c.Methods) {
		return "", "", fmt.Errorf("%w: %s method %d", ErrMethodOutOfRange, c.Name, methodID)
	}
	return c.Name, c.Methods[methodID].Name, nil
}

// Len returns the number of registered classes.
func (r *Registry) Len() int {
	return len(r.classes)
}

// Class returns a copy of the record for id.
func (r *Registry) Class(id int) (ClassRecord, bool) {
	if id < 0 || id >= len(r.classes) {
		return ClassRecord{}, false
	}
	c := r.classes[id]
	c.Methods = append([]MethodRecord(nil), c.Methods...)
	return c, true
}
