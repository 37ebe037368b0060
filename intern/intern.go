// Package intern provides a process-wide interner for file-path
// strings, handing out 8-bit handles (§5: "its handles are 8-bit
// indices with max = 255").
package intern

import (
	"fmt"
	"sync"
)

// ID is an interned file-name handle. Handles are assigned densely
// from 0 in first-Intern order, so the zero value is the handle of the
// first string interned; callers should treat IDs as opaque.
type ID uint8

// MaxFiles is the largest number of distinct file names a Table will
// accept before ID overflows byte range.
const MaxFiles = 256

// Table is a bidirectional string<->ID interner. The zero Table is
// usable. Table is safe for concurrent use; access is serialized
// through a single mutex, matching §5's "mutually exclusive
// (serialized critical section)" requirement.
type Table struct {
	mu    sync.Mutex
	byStr map[string]ID
	byID  []string
}

// global is the process-wide interner used by the default API
// (§5: "a process-wide string interner is the only global"). Tests
// and multi-Database callers that need isolation should construct
// their own *Table instead of using the package-level functions.
var global Table

// Intern returns s's handle, assigning a fresh one on first sight.
// It panics if more than MaxFiles distinct strings are interned
// (§7: "Interner overflow (>255 distinct files): fatal precondition
// violation").
func (t *Table) Intern(s string) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byStr == nil {
		t.byStr = make(map[string]ID)
	}
	if id, ok := t.byStr[s]; ok {
		return id
	}
	if len(t.byID) >= MaxFiles {
		panic(fmt.Sprintf("intern: too many distinct file names (max %d)", MaxFiles))
	}
	id := ID(len(t.byID))
	t.byID = append(t.byID, s)
	t.byStr[s] = id
	return id
}

// String returns the string for a previously interned handle.
func (t *Table) String(id ID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.byID) {
		return fmt.Sprintf("<bad-intern-id:%d>", id)
	}
	return t.byID[id]
}

// Intern interns s in the process-wide table.
func Intern(s string) ID { return global.Intern(s) }

// String resolves id in the process-wide table.
func String(id ID) string { return global.String(id) }

// Global returns the process-wide table itself, so a single Database
// can hand callers a *Table reference (§5 "a process-wide string
// interner is the only global") rather than owning an isolated table
// whose IDs would disagree with Loc.String's use of the package-level
// functions above.
func Global() *Table { return &global }
