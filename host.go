// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mtrace

import "fmt"

// ThreadID identifies a thread of the monitored runtime.
type ThreadID uint64

// Capabilities are the host features the agent requires.
type Capabilities struct {
	// CanGenerateAllClassHookEvents asks the host to report every class
	// load, including classes loaded before the agent was attached.
	CanGenerateAllClassHookEvents bool
}

// EventKind is a host notification the agent can enable.
type EventKind int

const (
	EventVMStart EventKind = iota
	EventVMInit
	EventVMDeath
	EventThreadStart
	EventThreadEnd
	EventClassFileLoadHook
)

func (k EventKind) String() string {
	switch k {
	case EventVMStart:
		return "VMStart"
	case EventVMInit:
		return "VMInit"
	case EventVMDeath:
		return "VMDeath"
	case EventThreadStart:
		return "ThreadStart"
	case EventThreadEnd:
		return "ThreadEnd"
	case EventClassFileLoadHook:
		return "ClassFileLoadHook"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Host is the instrumentation interface of the monitored runtime.
type Host interface {
	// Version returns the host interface version.
	Version() string
	AddCapabilities(Capabilities) error
	// SetEventNotificationMode enables or disables delivery of kind.
	SetEventNotificationMode(enable bool, kind EventKind) error
	// SetEventCallbacks registers the receiver of host notifications.
	SetEventCallbacks(Callbacks) error
	ThreadName(ThreadID) (string, error)
	// SetEngaged turns the injected entry/exit hooks on or off.
	SetEngaged(bool) error
}

// Callbacks are the notifications a Host delivers. They may be invoked
// from any host thread. Agent implements Callbacks.
type Callbacks interface {
	VMStart()
	VMInit(ThreadID)
	VMDeath()
	ThreadStart(ThreadID)
	ThreadEnd(ThreadID)
	// ClassFileLoad is called with the class name, which may be empty,
	// and its image. It returns a replacement image, or nil to load the
	// class unmodified.
	ClassFileLoad(name string, image []byte) []byte
	MethodEntry(classID, methodID int)
	MethodExit(classID, methodID int)
}
