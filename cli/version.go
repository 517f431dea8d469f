// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/spf13/cobra"

	"go.opentelemetry.io/mtrace"
)

const unknown = "unknown"

var getRevision = sync.OnceValue(func() string {
	rev := unknown

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return rev
	}

	var modified bool
	for _, v := range buildInfo.Settings {
		switch v.Key {
		case "vcs.revision":
			rev = v.Value
		case "vcs.modified":
			modified = v.Value == "true"
		}
	}
	if modified {
		rev += "-dirty"
	}
	return rev
})

type version struct {
	Release  string
	Revision string
	Go       goInfo
}

func newVersion() version {
	return version{
		Release:  mtrace.Version(),
		Revision: getRevision(),
		Go:       newGoInfo(),
	}
}

func (v version) String() string {
	return fmt.Sprintf("mtrace %s (revision %s, %s %s/%s)", v.Release, v.Revision, v.Go.Version, v.Go.OS, v.Go.Arch)
}

type goInfo struct {
	Version string
	OS      string
	Arch    string
}

func newGoInfo() goInfo {
	return goInfo{
		Version: runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), newVersion())
		},
	}
}
