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
	"sort"
	"strings"
)

// A Deps value indicates the dependency file format that the executor should
// expect a rule's command to write.
type Deps int

const (
	DepsNone Deps = iota
	DepsGCC
	DepsMSVC
)

func (d Deps) String() string {
	switch d {
	case DepsNone:
		return "none"
	case DepsGCC:
		return "gcc"
	case DepsMSVC:
		return "msvc"
	default:
		panic(fmt.Sprintf("unknown deps value: %d", d))
	}
}

// A RuleDef describes one rule statement of the output manifest.  Commands
// reference the toolchain variables of toolVariables and the per-action
// variables bound through BuildAction.Args.
type RuleDef struct {
	Name        string
	Comment     string
	Command     string
	Depfile     string
	Deps        Deps
	Description string
	Generator   bool
	Restat      bool
}

func (r *RuleDef) WriteTo(nw *ninjaWriter) error {
	if r.Comment != "" {
		err := nw.Comment(r.Comment)
		if err != nil {
			return err
		}
	}

	err := nw.Rule(r.Name)
	if err != nil {
		return err
	}

	variables := map[string]string{
		"command": r.Command,
	}
	if r.Depfile != "" {
		variables["depfile"] = r.Depfile
	}
	if r.Deps != DepsNone {
		variables["deps"] = r.Deps.String()
	}
	if r.Description != "" {
		variables["description"] = r.Description
	}
	if r.Generator {
		variables["generator"] = "true"
	}
	if r.Restat {
		variables["restat"] = "true"
	}

	return writeVariables(nw, variables)
}

// A BuildAction describes one build statement of the output manifest.  Each
// field except Args corresponds to a part of the statement; Args holds
// variable/value pairs set within the statement's scope.
type BuildAction struct {
	Comment         string
	Rule            string
	Outputs         []string
	ImplicitOutputs []string
	Inputs          []string
	Implicits       []string
	OrderOnly       []string
	Args            map[string]string
}

func (b *BuildAction) WriteTo(nw *ninjaWriter) error {
	err := nw.Build(b.Comment, b.Rule,
		escapeList(b.Outputs, outputEscaper),
		escapeList(b.ImplicitOutputs, outputEscaper),
		escapeList(b.Inputs, inputEscaper),
		escapeList(b.Implicits, inputEscaper),
		escapeList(b.OrderOnly, inputEscaper))
	if err != nil {
		return err
	}

	err = writeVariables(nw, b.Args)
	if err != nil {
		return err
	}

	return nw.BlankLine()
}

// Paths are escaped for the positions they occupy in a build statement.
// '$' passes through unescaped in both positions: values may reference
// manifest variables whose expansion is deliberately left to the executor.
var (
	inputEscaper = strings.NewReplacer(
		"\n", "$\n",
		" ", "$ ")
	outputEscaper = strings.NewReplacer(
		"\n", "$\n",
		" ", "$ ",
		":", "$:")
)

func escapeList(list []string, escaper *strings.Replacer) []string {
	if len(list) == 0 {
		return nil
	}
	result := make([]string, len(list))
	for i, s := range list {
		result[i] = escaper.Replace(s)
	}
	return result
}

func writeVariables(nw *ninjaWriter, variables map[string]string) error {
	var keys []string
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		err := nw.ScopedAssign(name, variables[name])
		if err != nil {
			return err
		}
	}
	return nil
}

// toolVariables are the default toolchain program bindings, written ahead of
// any rule that references them.  Driver definitions (-D) are written after
// these, so a definition with the same name overrides the default for every
// statement in the manifest.
var toolVariables = []struct{ name, value string }{
	{"cc", "clang"},
	{"cxx", "clang++"},
	{"ld", "clang++"},
	{"yacc", "bison"},
	{"codesign", "codesign"},
	{"identity", "-"},
	{"ibtool", "ibtool"},
	{"actool", "actool"},
	{"momc", "momc"},
	{"pngcrush", "pngcrush"},
	{"markdown", "markdown"},
	{"open", "open"},
}

// coreRules are the rules assembly itself emits actions for.  Rules owned
// by a transform plugin live next to the plugin and reach the manifest
// through the plugin's Setup; either way only rules an action references
// are written out.
var coreRules = []*RuleDef{
	{
		Name:        "link",
		Command:     "$ld -o $out $in $flags",
		Description: "LINK $out",
	},
	{
		Name:        "copy",
		Command:     "rm -rf $out && cp -PR $in $out",
		Description: "COPY $out",
	},
	{
		Name:        "sign",
		Command:     "$codesign --force --sign $identity $flags $in && touch $out",
		Description: "SIGN $in",
	},
	{
		Name: "signbundle",
		// codesign writes the signature manifest (the rule's output) into
		// the bundle itself.
		Command:     "$codesign --force --sign $identity $flags $bundle",
		Description: "SIGN $bundle",
	},
	{
		Name:        "runtest",
		Command:     "$in && touch $out",
		Description: "TEST $in",
	},
	{
		// The declared output is never written, so the test reruns on
		// every invocation.
		Name:        "retest",
		Command:     "$in",
		Description: "TEST $in",
	},
	{
		Name:        "run",
		Command:     "$in",
		Description: "RUN $in",
	},
	{
		Name:        "relaunch",
		Command:     "$open $bundle",
		Description: "RELAUNCH $bundle",
	},
}
