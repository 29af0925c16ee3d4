// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build's version string.
package version

import "runtime/debug"

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/agentvault/agentvault/lib/version.Version=v1.2.3".
var Version = "dev"

// String returns the version, falling back to VCS metadata from the
// build info for untagged builds.
func String() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	revision := ""
	dirty := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return Version
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		return Version + "-" + revision + "-dirty"
	}
	return Version + "-" + revision
}
