// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package version

// Set via ldflags at build time.
var (
	Version   = "0.0.0-dev"
	GitCommit = ""
	BuildDate = ""
)
