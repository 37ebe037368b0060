// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loganal canonicalizes and groups similar log messages: a
// batch of per-file warnings (an unparseable binary, a lift failure
// at some address) instead of per-test-run failures.
package loganal

// Failure is one classifiable event from a CLI run against a batch of
// input files.
type Failure struct {
	// File is the input path that produced the message.
	File string
	// Where names the stage that produced it (e.g. "open", "lift").
	Where   string
	Message string
}
