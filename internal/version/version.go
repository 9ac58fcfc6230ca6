/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

// Version is set at build time via ldflags:
//
//	-X github.com/conference-hall/scheduler/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

// Commit is the VCS revision, set at build time like Version.
var Commit = ""

// String formats the version for display.
func String() string {
	if Commit == "" {
		return Version
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return Version + " (" + short + ")"
}
