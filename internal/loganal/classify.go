// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loganal

import (
	"regexp"
	"strings"
)

var (
	// numberWords matches any word that contains a digit, with or
	// without letters, so a hex address or a size in an error message
	// canonicalizes the same way across different inputs.
	numberWords = regexp.MustCompile(`\pL*[0-9][\pL0-9]*`)
)

func (f *Failure) canonicalMessage() string {
	for _, c := range f.Message {
		if '0' <= c && c <= '9' {
			goto rewrite
		}
	}
	return f.Message

rewrite:
	return numberWords.ReplaceAllString(f.Message, "…")
}

func (f *Failure) canonicalFields() []string {
	var fields []string
	msg := f.Message
	for len(msg) > 0 {
		next := numberWords.FindStringIndex(msg)
		if next == nil {
			fields = append(fields, msg)
			break
		}
		if next[0] > 0 {
			fields = append(fields, msg[:next[0]])
		}
		fields = append(fields, msg[next[0]:next[1]])
		msg = msg[next[1]:]
	}
	return fields
}

// Classify groups a set of failures into canonicalized classes,
// keyed on stage and a number-collapsed message. The returned map's
// values are the indexes of the input failures in that class. Each
// input failure lands in exactly one class.
func Classify(fs []*Failure) map[Failure][]int {
	canon := map[Failure][]int{}
	for i, f := range fs {
		key := Failure{
			Where:   f.Where,
			Message: f.canonicalMessage(),
		}
		canon[key] = append(canon[key], i)
	}

	// Re-expand fields that every failure in a class actually shares,
	// so e.g. an address that happens to be identical across a class
	// still shows up verbatim instead of as "…".
	out := make(map[Failure][]int, len(canon))
	for key, class := range canon {
		if len(class) == 1 {
			key.File = fs[class[0]].File
			out[key] = class
			continue
		}

		if key.Message != fs[class[0]].Message {
			fields := fs[class[0]].canonicalFields()
			for _, fi := range class[1:] {
				nfields := fs[fi].canonicalFields()
				for i, field := range fields {
					if i < len(nfields) && field != nfields[i] {
						fields[i] = "…"
					}
				}
			}
			key.Message = strings.Join(fields, "")
		}

		file := fs[class[0]].File
		for _, fi := range class[1:] {
			if fs[fi].File != file {
				file = ""
			}
		}
		key.File = file

		out[key] = class
	}

	return out
}
