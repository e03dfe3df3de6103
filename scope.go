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

package gantry

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// A Scope is one link in a chain of configuration settings.  Every
// description file read produces a scope whose parent is the scope of the
// file that included it, and every target holds the scope of its declaring
// file, so a lookup on a target sees its own settings first and the settings
// of each enclosing file behind them.
//
// Values are either a plain string (as parsed from a description file) or an
// already-tokenized []string (as installed by Derive).  A scope never
// mutates its ancestors; Derive is the only way to extend a chain.
type Scope struct {
	parent *Scope
	dir    string
	vars   map[string]interface{}
}

// NewScope returns a chain root with the given settings.  dir is the
// directory against which relative paths in the scope's values resolve.
func NewScope(dir string, vars map[string]interface{}) *Scope {
	if vars == nil {
		vars = make(map[string]interface{})
	}
	return &Scope{
		dir:  dir,
		vars: vars,
	}
}

// Derive returns a new leaf scope chaining to s with the given overrides.
// An empty dir inherits the receiver's resolution directory.  The receiver
// is not modified.
func (s *Scope) Derive(overrides map[string]interface{}, dir string) *Scope {
	if dir == "" {
		dir = s.dir
	}
	vars := make(map[string]interface{}, len(overrides))
	for k, v := range overrides {
		vars[k] = v
	}
	return &Scope{
		parent: s,
		dir:    dir,
		vars:   vars,
	}
}

// Dir returns the directory against which this scope's relative paths
// resolve.
func (s *Scope) Dir() string {
	return s.dir
}

// walkDefined calls f for each scope in the chain that defines key, leaf
// first.  f returns false to stop the walk.
func (s *Scope) walkDefined(key string, f func(sc *Scope, value interface{}) bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[key]; ok {
			if !f(sc, v) {
				return
			}
		}
	}
}

// Accumulate concatenates the values of key from every scope in the chain
// that defines it, leaf first, joined with single spaces.  Scopes that don't
// define the key contribute nothing.  Used for flag-style settings where a
// target's own additions belong next to the inherited ones.
func (s *Scope) Accumulate(key string) string {
	var parts []string
	s.walkDefined(key, func(sc *Scope, v interface{}) bool {
		if str := valueString(v); str != "" {
			parts = append(parts, str)
		}
		return true
	})
	return strings.Join(parts, " ")
}

// AccumulateList flattens the values of key from every defining scope, leaf
// first, into a token list.  A []string value contributes its elements
// verbatim; a string value is split into words honoring shell quoting, so a
// quoted token may contain spaces.
func (s *Scope) AccumulateList(key string) ([]string, error) {
	var tokens []string
	var err error
	s.walkDefined(key, func(sc *Scope, v interface{}) bool {
		var toks []string
		toks, err = valueTokens(v)
		if err != nil {
			err = fmt.Errorf("%s: %s", key, err)
			return false
		}
		tokens = append(tokens, toks...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Get returns the value of key from the nearest scope that defines it.  A
// definition shadows everything behind it, even when its value is empty.
func (s *Scope) Get(key string) (string, bool) {
	var result string
	found := false
	s.walkDefined(key, func(sc *Scope, v interface{}) bool {
		result = valueString(v)
		found = true
		return false
	})
	return result, found
}

// GetPath is Get for settings that hold a single path: a relative result is
// resolved against the directory of the scope that defines it, not the
// directory of the target asking.
func (s *Scope) GetPath(key string) (string, bool) {
	var result string
	found := false
	s.walkDefined(key, func(sc *Scope, v interface{}) bool {
		result = valueString(v)
		if result != "" && !filepath.IsAbs(result) {
			result = filepath.Join(sc.dir, result)
		}
		found = true
		return false
	})
	return result, found
}

// KeysWithPrefix returns the sorted set of keys defined anywhere in the
// chain that start with prefix.
func (s *Scope) KeysWithPrefix(prefix string) []string {
	seen := make(map[string]bool)
	for sc := s; sc != nil; sc = sc.parent {
		for k := range sc.vars {
			if strings.HasPrefix(k, prefix) {
				seen[k] = true
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	default:
		panic(fmt.Errorf("unexpected scope value type %T", v))
	}
}

func valueTokens(v interface{}) ([]string, error) {
	switch v := v.(type) {
	case string:
		return shlex.Split(v)
	case []string:
		return append([]string(nil), v...), nil
	default:
		panic(fmt.Errorf("unexpected scope value type %T", v))
	}
}
