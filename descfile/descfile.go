// Copyright 2024 The Gantry Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package descfile parses gantry target-description files.
//
// A description file is a flat sequence of settings, one per line:
//
//	KEY = value
//	KEY += more        # appended to KEY's value from this file
//	KEY -= value       # recognized; currently assigns like "="
//
// Keys are runs of letters, digits, underscores and slashes.  Values run to
// the end of the line; a '#' at the start of a line or after whitespace
// begins a comment.  Blank lines are ignored.  The parser only records
// assignments; combining values across files is the scope chain's job.
package descfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/scanner"
)

var errTooManyErrors = errors.New("too many errors")

const maxErrors = 10

type ParseError struct {
	Err error
	Pos scanner.Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Err)
}

// An Op is the operator of a single assignment line.
type Op string

const (
	// OpAssign sets the key's value for this file.
	OpAssign Op = "="

	// OpAppend appends to the value the key already has in this file,
	// joined with a single space.  With no earlier assignment in the same
	// file it behaves like OpAssign; combining with values from enclosing
	// files is left to scope lookup.
	OpAppend Op = "+="

	// OpSubtract is recognized for compatibility with existing description
	// files.  It currently assigns like OpAssign.
	OpSubtract Op = "-="
)

// An Assignment is one KEY <op> value line.
type Assignment struct {
	Key   string
	Value string
	Op    Op
	Pos   scanner.Position
}

// A File is the parsed form of one description file.
type File struct {
	Name        string
	Assignments []*Assignment
}

type parser struct {
	file   *File
	errors []error
}

// Parse reads a description file from r.  It returns the parsed file along
// with any errors encountered; the file holds every assignment that parsed
// cleanly even when errs is non-empty.
func Parse(filename string, r io.Reader) (file *File, errs []error) {
	p := &parser{
		file: &File{Name: filename},
	}

	defer func() {
		if r := recover(); r != nil {
			if r == errTooManyErrors {
				file = p.file
				errs = p.errors
				return
			}
			panic(r)
		}
	}()

	in := bufio.NewScanner(r)
	line := 0
	for in.Scan() {
		line++
		p.parseLine(filename, line, in.Text())
	}
	if err := in.Err(); err != nil {
		p.error(position(filename, line, 1), err)
	}

	return p.file, p.errors
}

func (p *parser) parseLine(filename string, line int, text string) {
	stripped := stripComment(text)
	indent := len(stripped) - len(strings.TrimLeft(stripped, " \t"))
	s := strings.TrimSpace(stripped)
	if s == "" {
		return
	}

	pos := position(filename, line, indent+1)

	i := 0
	for i < len(s) && isKeyByte(s[i]) {
		i++
	}
	if i == 0 {
		p.errorf(pos, "expected setting key, found %q", s)
		return
	}
	key := s[:i]

	rest := strings.TrimLeft(s[i:], " \t")
	var op Op
	switch {
	case strings.HasPrefix(rest, string(OpAppend)):
		op = OpAppend
		rest = rest[len(OpAppend):]
	case strings.HasPrefix(rest, string(OpSubtract)):
		op = OpSubtract
		rest = rest[len(OpSubtract):]
	case strings.HasPrefix(rest, string(OpAssign)):
		op = OpAssign
		rest = rest[len(OpAssign):]
	default:
		p.errorf(pos, "expected \"=\", \"+=\" or \"-=\" after key %q", key)
		return
	}

	p.file.Assignments = append(p.file.Assignments, &Assignment{
		Key:   key,
		Value: strings.TrimSpace(rest),
		Op:    op,
		Pos:   pos,
	})
}

func (p *parser) error(pos scanner.Position, err error) {
	p.errors = append(p.errors, &ParseError{
		Err: err,
		Pos: pos,
	})
	if len(p.errors) >= maxErrors {
		panic(errTooManyErrors)
	}
}

func (p *parser) errorf(pos scanner.Position, format string, args ...interface{}) {
	p.error(pos, fmt.Errorf(format, args...))
}

// Values folds the file's assignments into a final value per key, applying
// the within-file append semantics of "+=".  The returned position map
// locates the assignment that last touched each key, for error reporting.
func (f *File) Values() (map[string]string, map[string]scanner.Position) {
	vals := make(map[string]string)
	positions := make(map[string]scanner.Position)
	for _, a := range f.Assignments {
		if a.Op == OpAppend {
			if old, ok := vals[a.Key]; ok && old != "" {
				vals[a.Key] = old + " " + a.Value
			} else {
				vals[a.Key] = a.Value
			}
		} else {
			vals[a.Key] = a.Value
		}
		positions[a.Key] = a.Pos
	}
	return vals, positions
}

// stripComment cuts text at the first '#' that starts the line or follows
// whitespace.  A '#' embedded in a value (say, a flag) survives.
func stripComment(text string) string {
	for i := 0; i < len(text); i++ {
		if text[i] == '#' && (i == 0 || text[i-1] == ' ' || text[i-1] == '\t') {
			return text[:i]
		}
	}
	return text
}

func isKeyByte(b byte) bool {
	return b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' ||
		b == '_' || b == '/'
}

func position(filename string, line, col int) scanner.Position {
	return scanner.Position{
		Filename: filename,
		Line:     line,
		Column:   col,
	}
}
