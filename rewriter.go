// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mtrace

// Hooks name the tracker the rewriter calls into from instrumented code.
type Hooks struct {
	// TrackerClass is the class holding the hook methods.
	TrackerClass string
	EntryMethod  string
	ExitMethod   string
	// Signature is the descriptor of both hooks. They take the class and
	// method numbers.
	Signature string
	// EngagedField is the static field gating the hooks.
	EngagedField string
}

// DefaultHooks are the hook names used unless overridden.
var DefaultHooks = Hooks{
	TrackerClass: "bridge",
	EntryMethod:  "method_entry",
	ExitMethod:   "method_exit",
	Signature:    "(II)V",
	EngagedField: "engaged",
}

// Method is a method name and signature reported by a Rewriter. Its index
// in RewriteResult.Methods is the method number passed to the hooks.
type Method struct {
	Name      string
	Signature string
}

// RewriteRequest asks a Rewriter to insert entry and exit hooks into a
// class image.
type RewriteRequest struct {
	ClassID   int
	ClassName string
	Image     []byte
	// SystemClass is set for classes loaded before the runtime started.
	SystemClass bool
	Hooks       Hooks
}

// RewriteResult is the outcome of a rewrite.
type RewriteResult struct {
	// Image is the rewritten class, or empty to keep the original.
	Image []byte
	// Methods lists the class methods in hook numbering order.
	Methods []Method
	// Release frees Image. It is called once the agent has copied it.
	Release func()
}

// Rewriter inserts entry and exit hooks into class images.
type Rewriter interface {
	// ClassName derives the class name from an image.
	ClassName(image []byte) (string, error)
	Rewrite(RewriteRequest) (RewriteResult, error)
}
