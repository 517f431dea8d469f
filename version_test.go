// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mtrace

import (
	"os"
	"testing"

	goversion "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestVersionSemver(t *testing.T) {
	_, err := goversion.NewSemver(Version())
	assert.NoError(t, err, "version is not semver: %s", Version())
}

func TestVersionMatchesYaml(t *testing.T) {
	versionYaml, err := os.ReadFile("versions.yaml")
	require.NoError(t, err, "Couldn't read versions.yaml file")

	var versionInfo struct {
		ModuleSets map[string]struct {
			Version string `yaml:"version"`
		} `yaml:"module-sets"`
	}
	require.NoError(t, yaml.Unmarshal(versionYaml, &versionInfo), "Couldn't parse version.yaml")

	assert.Equal(t, versionInfo.ModuleSets["mtrace"].Version, Version(), "Build version should match versions.yaml.")
}

func TestHostInterfaceConstraint(t *testing.T) {
	c, err := goversion.NewConstraint(HostInterfaceConstraint)
	require.NoError(t, err)
	for v, want := range map[string]bool{"1.0": true, "1.4.2": true, "0.9": false, "2.0": false} {
		assert.Equal(t, want, c.Check(goversion.Must(goversion.NewVersion(v))), v)
	}
}
