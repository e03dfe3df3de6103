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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/scanner"

	"github.com/google/shlex"

	"github.com/gantry-build/gantry/descfile"
	"github.com/gantry-build/gantry/pathtools"
)

// refSigil marks a list entry as a target reference rather than a file.
const refSigil = "@"

// ErrGraphNotResolved is returned when assembly is requested before the
// target graph has been validated and ordered.
var ErrGraphNotResolved = errors.New("target graph has not been resolved")

// An Error describes a problem detected in a target description.
type Error struct {
	Err error            // the error that occurred
	Pos scanner.Position // the relevant position in the description file
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Err)
}

// A Context holds the state of one generation run: the targets declared by
// the description files, the transform plugins, and the rules and build
// actions accumulated for the output manifest.  A Context is good for
// exactly one run; per-run state (plugin setup, glob caches, assembly)
// starts fresh with each new Context.
//
// The expected call sequence is DefineVariable / RegisterPlugin as needed,
// then LoadTargets, ResolveGraph, AssembleAll, and finally WriteBuildFile.
type Context struct {
	buildDir string

	plugins   *pluginRegistry
	setupDone map[string]bool

	defines     map[string]string
	defineOrder []string

	targets     map[string]*Target
	targetOrder []*Target

	roots    []*Target
	rootSet  map[string]bool
	resolved bool

	rules     map[string]*RuleDef
	ruleOrder []*RuleDef
	usedRules map[string]bool

	actions []*BuildAction

	aggregates     map[string][]string
	aggregateOrder []string
	defaults       []string

	globCache map[string][]string
	globDirs  map[string]bool

	loadedFiles []string
	loadedSet   map[string]bool

	regenRule   *RuleDef
	regenAction *BuildAction
}

// NewContext returns a Context that places intermediate and final build
// outputs under buildDir.  The core rules and the builtin plugins are
// already registered.
func NewContext(buildDir string) *Context {
	c := &Context{
		buildDir:   filepath.Clean(buildDir),
		plugins:    newPluginRegistry(),
		setupDone:  make(map[string]bool),
		defines:    make(map[string]string),
		targets:    make(map[string]*Target),
		rootSet:    make(map[string]bool),
		rules:      make(map[string]*RuleDef),
		usedRules:  make(map[string]bool),
		aggregates: make(map[string][]string),
		globCache:  make(map[string][]string),
		globDirs:   make(map[string]bool),
		loadedSet:  make(map[string]bool),
	}

	for _, rule := range coreRules {
		c.AddRule(rule)
	}
	registerBuiltinPlugins(c)

	return c
}

// RegisterPlugin adds a transform plugin.  It panics if the plugin's name
// or one of its suffixes is already taken, since that is always a
// programming error.
func (c *Context) RegisterPlugin(p Plugin) {
	c.plugins.register(p)
}

// AddRule makes a rule definition available to build actions.  Adding the
// same definition again is a no-op; adding a different definition under an
// existing name panics, as rule names are global to the manifest.  Only
// rules referenced by at least one action are written out.
func (c *Context) AddRule(r *RuleDef) {
	if prev, ok := c.rules[r.Name]; ok {
		if prev != r {
			panic(fmt.Errorf("rule %q defined twice", r.Name))
		}
		return
	}
	c.rules[r.Name] = r
	c.ruleOrder = append(c.ruleOrder, r)
}

// addAction appends one build statement to the manifest.
func (c *Context) addAction(a *BuildAction) {
	if len(a.Outputs) == 0 {
		panic(fmt.Errorf("build action using rule %q has no outputs", a.Rule))
	}
	if _, ok := c.rules[a.Rule]; !ok {
		panic(fmt.Errorf("build action references undefined rule %q", a.Rule))
	}
	c.usedRules[a.Rule] = true
	c.actions = append(c.actions, a)
}

// addAggregate extends the named phony aggregate, creating it on first use.
func (c *Context) addAggregate(name string, outputs []string) {
	if _, ok := c.aggregates[name]; !ok {
		c.aggregateOrder = append(c.aggregateOrder, name)
	}
	c.aggregates[name] = append(c.aggregates[name], outputs...)
}

// addDefault appends targets to the manifest's default list.
func (c *Context) addDefault(targets ...string) {
	c.defaults = append(c.defaults, targets...)
}

// Ninja variable names, which driver definitions become.
var validDefineName = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// DefineVariable installs a driver-level definition.  The definition is
// visible to every description file as if assigned in a scope enclosing the
// root file, and is also written into the manifest as a global variable
// after the toolchain defaults, overriding one of the same name.
func (c *Context) DefineVariable(name, value string) error {
	if !validDefineName.MatchString(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	if _, ok := c.defines[name]; !ok {
		c.defineOrder = append(c.defineOrder, name)
	}
	c.defines[name] = value
	return nil
}

// SetRegenCommand arranges for the manifest to rebuild itself: a generator
// rule reruns command whenever output is older than the inputs listed in
// the companion depfile.
func (c *Context) SetRegenCommand(command, output string) {
	c.regenRule = &RuleDef{
		Name:        "generate",
		Command:     command,
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Generator:   true,
		Description: "REGEN $out",
	}
	c.regenAction = &BuildAction{
		Rule:    c.regenRule.Name,
		Outputs: []string{output},
	}
}

// LoadTargets reads the description file tree rooted at rootFile.  Each
// file listed in a TARGETS setting is loaded with its scope chained under
// the scope of the file that listed it, and each file carrying TARGET_NAME
// declares a target.  Description problems are collected rather than
// stopping at the first.
func (c *Context) LoadTargets(rootFile string) []error {
	defines := make(map[string]interface{}, len(c.defines))
	for k, v := range c.defines {
		defines[k] = v
	}
	global := NewScope(".", defines)
	return c.loadFile(rootFile, global, scanner.Position{Filename: rootFile})
}

func (c *Context) loadFile(path string, parent *Scope, pos scanner.Position) []error {
	path = filepath.Clean(path)
	if c.loadedSet[path] {
		return []error{&Error{
			Err: fmt.Errorf("%s loaded twice", path),
			Pos: pos,
		}}
	}
	c.loadedSet[path] = true
	c.loadedFiles = append(c.loadedFiles, path)

	f, err := os.Open(path)
	if err != nil {
		return []error{&Error{Err: err, Pos: pos}}
	}
	defer f.Close()

	file, errs := descfile.Parse(path, f)
	if len(errs) > 0 {
		return errs
	}

	values, positions := file.Values()
	vars := make(map[string]interface{}, len(values))
	for k, v := range values {
		vars[k] = v
	}
	dir := filepath.Dir(path)
	scope := parent.Derive(vars, dir)

	if name, ok := values["TARGET_NAME"]; ok {
		namePos := positions["TARGET_NAME"]
		switch {
		case name == "":
			errs = append(errs, &Error{
				Err: fmt.Errorf("TARGET_NAME is empty"),
				Pos: namePos,
			})
		case c.targets[name] != nil:
			errs = append(errs, &Error{
				Err: fmt.Errorf("duplicate target name %q, first declared at %s",
					name, c.targets[name].pos),
				Pos: namePos,
			})
		default:
			t := &Target{
				ctx:    c,
				name:   name,
				scope:  scope,
				dir:    dir,
				file:   path,
				pos:    namePos,
				keyPos: positions,
			}
			c.targets[name] = t
			c.targetOrder = append(c.targetOrder, t)
		}
	}

	// TARGETS names further files, never targets, and only this file's
	// own assignments count; an inherited value would reload the
	// includer's list.
	if list, ok := values["TARGETS"]; ok {
		listPos := positions["TARGETS"]
		tokens, err := shlex.Split(list)
		if err != nil {
			errs = append(errs, &Error{
				Err: fmt.Errorf("TARGETS: %s", err),
				Pos: listPos,
			})
			return errs
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, refSigil) {
				errs = append(errs, &Error{
					Err: fmt.Errorf("TARGETS cannot reference targets: %q", tok),
					Pos: listPos,
				})
				return errs
			}
		}

		files, dirs, err := pathtools.GlobPatternList(tokens, dir)
		if err != nil {
			errs = append(errs, &Error{
				Err: fmt.Errorf("TARGETS: %s", err),
				Pos: listPos,
			})
			return errs
		}
		for _, d := range dirs {
			c.recordGlobDir(d)
		}

		for _, sub := range files {
			errs = append(errs, c.loadFile(sub, scope, listPos)...)
		}
	}

	return errs
}

// globList reads a list setting whose entries may be files, glob patterns,
// or target references.  Tokens are gathered leaf first from every scope in
// the chain that defines key; reference tokens are returned separately, the
// rest are expanded against the defining scope's directory.  Non-wild
// tokens pass through without a filesystem check.
func (c *Context) globList(scope *Scope, key string) (files, refs []string, err error) {
	var walkErr error
	scope.walkDefined(key, func(sc *Scope, v interface{}) bool {
		tokens, err := valueTokens(v)
		if err != nil {
			walkErr = fmt.Errorf("%s: %s", key, err)
			return false
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, refSigil) {
				refs = append(refs, strings.TrimPrefix(tok, refSigil))
				continue
			}
			pattern := tok
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(sc.Dir(), pattern)
			}
			if !pathtools.IsWild(pattern) {
				files = append(files, pattern)
				continue
			}
			matches, err := c.glob(pattern)
			if err != nil {
				walkErr = fmt.Errorf("%s: %s: %s", key, tok, err)
				return false
			}
			files = append(files, matches...)
		}
		return true
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}
	return files, refs, nil
}

// isRoot reports whether t survived graph resolution as a root.
func (c *Context) isRoot(t *Target) bool {
	return c.rootSet[t.name]
}

// AllTargets returns the output path to rule name table of the graph built
// so far, aggregates included under the builtin phony rule.  It matches
// what the downstream executor reports for the written manifest, which is
// what the stale-output diff runs on.
func (c *Context) AllTargets() map[string]string {
	all := make(map[string]string)
	for _, a := range c.actions {
		for _, out := range a.Outputs {
			all[out] = a.Rule
		}
		for _, out := range a.ImplicitOutputs {
			all[out] = a.Rule
		}
	}
	if c.regenAction != nil {
		for _, out := range c.regenAction.Outputs {
			all[out] = c.regenAction.Rule
		}
	}
	for name := range c.aggregates {
		all[name] = "phony"
	}
	return all
}

// RegenerationInputs lists everything the run consumed: every description
// file read and every directory searched by glob expansion.  The driver
// writes them to the companion depfile so the executor reruns the generator
// when any of them change.
func (c *Context) RegenerationInputs() []string {
	inputs := append([]string(nil), c.loadedFiles...)
	return append(inputs, c.globbedDirs()...)
}

// WriteBuildFile writes the manifest for the accumulated build actions
// to w.
func (c *Context) WriteBuildFile(w io.StringWriter) error {
	nw := newNinjaWriter(w)

	if err := c.writeHeader(nw); err != nil {
		return err
	}
	if err := c.writeRequiredVersion(nw); err != nil {
		return err
	}
	if err := c.writeBuildDir(nw); err != nil {
		return err
	}
	if err := c.writeGlobalVariables(nw); err != nil {
		return err
	}
	if err := c.writeRules(nw); err != nil {
		return err
	}
	if err := c.writeActions(nw); err != nil {
		return err
	}
	if err := c.writeAggregates(nw); err != nil {
		return err
	}
	if err := c.writeRegeneration(nw); err != nil {
		return err
	}
	return c.writeDefaults(nw)
}

var fileHeader = `******************************************************************************
***            This file is generated and should not be edited             ***
******************************************************************************`

func (c *Context) writeHeader(nw *ninjaWriter) error {
	header := fileHeader
	if len(c.loadedFiles) > 0 {
		header += "\n\nGenerated from " + c.loadedFiles[0]
	}
	if err := nw.Comment(header); err != nil {
		return err
	}
	return nw.BlankLine()
}

// Implicit outputs entered the manifest format at 1.7.
const requiredNinjaVersion = "1.7.0"

func (c *Context) writeRequiredVersion(nw *ninjaWriter) error {
	if err := nw.Assign("ninja_required_version", requiredNinjaVersion); err != nil {
		return err
	}
	return nw.BlankLine()
}

func (c *Context) writeBuildDir(nw *ninjaWriter) error {
	if err := nw.Assign("builddir", c.buildDir); err != nil {
		return err
	}
	return nw.BlankLine()
}

func (c *Context) writeGlobalVariables(nw *ninjaWriter) error {
	for _, tool := range toolVariables {
		if err := nw.Assign(tool.name, tool.value); err != nil {
			return err
		}
	}
	for _, name := range c.defineOrder {
		if err := nw.Assign(name, c.defines[name]); err != nil {
			return err
		}
	}
	return nw.BlankLine()
}

func (c *Context) writeRules(nw *ninjaWriter) error {
	rules := c.ruleOrder
	if c.regenRule != nil {
		rules = append(append([]*RuleDef(nil), rules...), c.regenRule)
		c.usedRules[c.regenRule.Name] = true
	}
	for _, rule := range rules {
		if !c.usedRules[rule.Name] {
			continue
		}
		if err := rule.WriteTo(nw); err != nil {
			return err
		}
		if err := nw.BlankLine(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) writeActions(nw *ninjaWriter) error {
	for _, a := range c.actions {
		if err := a.WriteTo(nw); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) writeAggregates(nw *ninjaWriter) error {
	for _, name := range c.aggregateOrder {
		phony := &BuildAction{
			Rule:    "phony",
			Outputs: []string{name},
			Inputs:  c.aggregates[name],
		}
		if err := phony.WriteTo(nw); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) writeRegeneration(nw *ninjaWriter) error {
	if c.regenAction == nil {
		return nil
	}
	return c.regenAction.WriteTo(nw)
}

func (c *Context) writeDefaults(nw *ninjaWriter) error {
	if len(c.defaults) == 0 {
		return nil
	}
	return nw.Default(escapeList(c.defaults, outputEscaper)...)
}
