// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mtrace

// Version is the current release version of the mtrace agent.
func Version() string {
	return "v0.1.0"
}

// HostInterfaceConstraint is the range of host interface versions the agent
// can attach to.
const HostInterfaceConstraint = ">= 1.0, < 2.0"
