// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the trace line streamed to collectors.
package event

// Kind is the direction of a method transition.
type Kind uint8

const (
	// KindEnter is a method entry.
	KindEnter Kind = iota
	// KindExit is a method return.
	KindExit
)

// String returns the wire prefix of k.
func (k Kind) String() string {
	switch k {
	case KindEnter:
		return "enter"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is a fully formatted trace line including its "\r\n" terminator.
type Event []byte

// String returns e as a string.
func (e Event) String() string { return string(e) }

const terminator = "\r\n"

// New formats "<kind>: <class>:<method>\r\n" with a single allocation.
func New(k Kind, class, method string) Event {
	prefix := k.String()
	b := make([]byte, 0, len(prefix)+2+len(class)+1+len(method)+len(terminator))
	b = append(b, prefix...)
	b = append(b, ": "...)
	b = append(b, class...)
	b = append(b, ':')
	b = append(b, method...)
	b = append(b, terminator...)
	return b
}

// Enter returns the entry event of class.method.
func Enter(class, method string) Event { return New(KindEnter, class, method) }

// Exit returns the exit event of class.method.
func Exit(class, method string) Event { return New(KindExit, class, method) }
