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
	"os"
	"path/filepath"
	"strings"
)

// AssembleAll assembles every root target in embedding order and fills the
// manifest's default list with the root aggregates.  ResolveGraph must have
// succeeded first.
func (c *Context) AssembleAll() error {
	if !c.resolved {
		return ErrGraphNotResolved
	}
	for _, root := range c.roots {
		if err := root.assemble(); err != nil {
			return err
		}
		c.addDefault(root.name)
	}
	return nil
}

// assemble emits the build actions that produce this target: compiles,
// link, staging, signing, and the test executables.  A target assembles at
// most once; asking again is fatal.
func (t *Target) assemble() error {
	if t.state != targetUnbuilt {
		return &Error{
			Err: fmt.Errorf("target %q already assembled", t.name),
			Pos: t.pos,
		}
	}
	t.state = targetAssembling

	bundle, err := t.isBundle()
	if err != nil {
		return err
	}
	objects, err := t.allObjects()
	if err != nil {
		return err
	}
	link, err := t.linkFlags()
	if err != nil {
		return err
	}

	if bundle {
		err = t.assembleBundle(objects, link)
	} else {
		err = t.assembleBinary(objects, link)
	}
	if err != nil {
		return err
	}

	if err := t.assembleTests(); err != nil {
		return err
	}

	t.state = targetAssembled
	return nil
}

// allObjects is the full link input set: the target's own objects followed
// by those of each closure member, in closure order.
func (t *Target) allObjects() ([]string, error) {
	objects, err := t.ownObjects()
	if err != nil {
		return nil, err
	}
	deps, err := t.closureTargets()
	if err != nil {
		return nil, err
	}
	all := append([]string(nil), objects...)
	for _, dep := range deps {
		depObjects, err := dep.ownObjects()
		if err != nil {
			return nil, err
		}
		all = append(all, depObjects...)
	}
	return all, nil
}

// signFlags assembles the code-signing flags for this target set and the
// files the signing step additionally depends on.
func (t *Target) signFlags() (string, []string) {
	flags := t.scope.Accumulate("CODESIGN_FLAGS")
	var implicits []string
	if ent, ok := t.scope.GetPath("CS_ENTITLEMENTS"); ok && ent != "" {
		flags = strings.TrimSpace(flags + " --entitlements " + quoteFlag(ent))
		implicits = append(implicits, ent)
	}
	return flags, implicits
}

func (t *Target) assembleBinary(objects []string, link *linkSpec) error {
	out := filepath.Join(t.ctx.buildDir, "bin", t.name)

	var args map[string]string
	if len(link.flags) > 0 {
		args = map[string]string{"flags": strings.Join(link.flags, " ")}
	}
	t.ctx.addAction(&BuildAction{
		Comment: fmt.Sprintf("target %s (%s)", t.name, t.file),
		Rule:    "link",
		Outputs: []string{out},
		Inputs:  append(append([]string(nil), objects...), link.archives...),
		Args:    args,
	})

	stamp := filepath.Join(t.ctx.buildDir, "bin", "."+t.name+".signed")
	signFlags, signDeps := t.signFlags()
	var signArgs map[string]string
	if signFlags != "" {
		signArgs = map[string]string{"flags": signFlags}
	}
	t.ctx.addAction(&BuildAction{
		Rule:      "sign",
		Outputs:   []string{stamp},
		Inputs:    []string{out},
		Implicits: signDeps,
		Args:      signArgs,
	})

	// The run action's output is never written, so asking for it always
	// executes the product again.
	ran := filepath.Join(t.ctx.buildDir, "run", t.name+".ran")
	t.ctx.addAction(&BuildAction{
		Rule:      "run",
		Outputs:   []string{ran},
		Inputs:    []string{out},
		Implicits: []string{stamp},
	})

	t.ctx.addAggregate(t.name, []string{stamp})
	t.ctx.addAggregate("run-"+t.name, []string{ran})
	return nil
}

func (t *Target) assembleBundle(objects []string, link *linkSpec) error {
	contents := t.contentsDir()

	deps, err := t.closureTargets()
	if err != nil {
		return err
	}
	var entries []ResourceEntry
	for _, member := range append([]*Target{t}, deps...) {
		memberEntries, err := member.resources()
		if err != nil {
			return err
		}
		entries = append(entries, memberEntries...)
	}

	// The same destination may be contributed more than once when closure
	// members share a resource; the first contribution (the root's own)
	// wins.
	var staged []string
	seenDst := make(map[string]bool)
	for _, e := range entries {
		if seenDst[e.Dst] {
			continue
		}
		seenDst[e.Dst] = true

		out := filepath.Join(contents, e.Dst)
		t.ctx.addAction(&BuildAction{
			Rule:      "copy",
			Outputs:   []string{out},
			Inputs:    []string{e.Src},
			Implicits: e.Deps,
		})
		staged = append(staged, out)
	}

	exec := filepath.Join(contents, "MacOS", t.name)
	var args map[string]string
	if len(link.flags) > 0 {
		args = map[string]string{"flags": strings.Join(link.flags, " ")}
	}
	t.ctx.addAction(&BuildAction{
		Comment: fmt.Sprintf("target %s (%s)", t.name, t.file),
		Rule:    "link",
		Outputs: []string{exec},
		Inputs:  append(append([]string(nil), objects...), link.archives...),
		Args:    args,
	})

	signature := t.signaturePath()
	signFlags, signDeps := t.signFlags()
	signArgs := map[string]string{"bundle": t.bundleDir()}
	if signFlags != "" {
		signArgs["flags"] = signFlags
	}
	t.ctx.addAction(&BuildAction{
		Rule:      "signbundle",
		Outputs:   []string{signature},
		Inputs:    append([]string{exec}, staged...),
		Implicits: signDeps,
		Args:      signArgs,
	})

	t.ctx.addAggregate(t.name, []string{signature})

	if t.bundleExtension() == "app" {
		relaunched := filepath.Join(t.ctx.buildDir, "run", t.name+".relaunched")
		t.ctx.addAction(&BuildAction{
			Rule:      "relaunch",
			Outputs:   []string{relaunched},
			Implicits: []string{signature},
			Args:      map[string]string{"bundle": t.bundleDir()},
		})
		t.ctx.addAggregate("relaunch-"+t.name, []string{relaunched})
	}
	return nil
}

// The two test conventions are independent: a target may carry either or
// both, and each links its own executable around its own generated driver.
var testKinds = []struct {
	key    string
	suffix string
	entry  string
}{
	{"TESTS", "tests", "gantry_test_main"},
	{"TEST_SOURCES", "xtests", "gantry_suite_main"},
}

func (t *Target) assembleTests() error {
	for _, kind := range testKinds {
		if err := t.assembleTestKind(kind.key, kind.suffix, kind.entry); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) assembleTestKind(key, suffix, entry string) error {
	files, refs, err := t.ctx.globList(t.scope, key)
	if err != nil {
		return &Error{
			Err: fmt.Errorf("target %q: %s", t.name, err),
			Pos: t.keyPosition(key),
		}
	}
	if len(refs) > 0 {
		return &Error{
			Err: fmt.Errorf("target %q: %s cannot reference targets", t.name, key),
			Pos: t.keyPosition(key),
		}
	}
	if len(files) == 0 {
		return nil
	}

	driver, err := t.writeTestDriver(suffix, entry)
	if err != nil {
		return &Error{
			Err: fmt.Errorf("target %q: test driver: %s", t.name, err),
			Pos: t.keyPosition(key),
		}
	}

	seed, err := t.pipelineScope()
	if err != nil {
		return err
	}
	testObjects, err := t.compileAll(append(files, driver), seed, key)
	if err != nil {
		return err
	}

	objects, err := t.allObjects()
	if err != nil {
		return err
	}
	link, err := t.linkFlags()
	if err != nil {
		return err
	}

	bin := filepath.Join(t.ctx.buildDir, "bin", t.name+"-"+suffix)
	var args map[string]string
	if len(link.flags) > 0 {
		args = map[string]string{"flags": strings.Join(link.flags, " ")}
	}
	inputs := append(append([]string(nil), testObjects...), objects...)
	t.ctx.addAction(&BuildAction{
		Rule:    "link",
		Outputs: []string{bin},
		Inputs:  append(inputs, link.archives...),
		Args:    args,
	})

	passed := filepath.Join(t.ctx.buildDir, "test", t.name+"."+suffix+".passed")
	t.ctx.addAction(&BuildAction{
		Rule:    "runtest",
		Outputs: []string{passed},
		Inputs:  []string{bin},
	})

	// Same executable, but the declared output is never written, so this
	// variant ignores the cached pass.
	rerun := filepath.Join(t.ctx.buildDir, "test", t.name+"."+suffix+".rerun")
	t.ctx.addAction(&BuildAction{
		Rule:    "retest",
		Outputs: []string{rerun},
		Inputs:  []string{bin},
	})

	t.ctx.addAggregate("test-"+t.name, []string{passed})
	t.ctx.addAggregate("retest-"+t.name, []string{rerun})
	return nil
}

const testDriverSource = `/* Generated test driver; do not edit. */

extern int %s(int argc, char **argv);

int main(int argc, char **argv) {
	return %s(argc, argv);
}
`

// writeTestDriver materializes the C entry point for one test executable
// under the generation directory.  Like include staging this happens at
// generation time; the file is an ordinary compile input afterwards.
func (t *Target) writeTestDriver(suffix, entry string) (string, error) {
	dir := filepath.Join(t.genDir(), suffix)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "main.c")
	source := fmt.Sprintf(testDriverSource, entry, entry)
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		return "", err
	}
	return path, nil
}
