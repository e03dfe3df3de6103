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
	"sort"
	"strings"
	"text/scanner"

	"github.com/gantry-build/gantry/pathtools"
)

type assembleState int

const (
	targetUnbuilt assembleState = iota
	targetAssembling
	targetAssembled
)

// A ResourceEntry is one staged file of a bundle: the built source, its
// destination relative to the bundle's Contents directory, and any extra
// files the staging copy must wait for.
type ResourceEntry struct {
	Src  string
	Dst  string
	Deps []string
}

// linkSpec is the result of partitioning a target set's link settings:
// static archives become link inputs, everything else flag words.
type linkSpec struct {
	archives []string
	flags    []string
}

// A Target is one declared buildable unit.  Most of its interesting state
// is computed lazily and cached: the computations walk the scope chain and
// the filesystem, and several of them feed each other (objects need the
// include staging of the link closure, resources need the pipeline), so
// each is evaluated at most once per run no matter which consumer asks
// first.
type Target struct {
	ctx    *Context
	name   string
	scope  *Scope
	dir    string
	file   string
	pos    scanner.Position
	keyPos map[string]scanner.Position

	state assembleState

	closure     []string
	closureDone bool

	objects     []string
	objectsDone bool

	prelude     []string
	preludeDone bool

	staging     string
	stagingDone bool

	manifest         []ResourceEntry
	manifestDone     bool
	manifestBuilding bool

	link     *linkSpec
	linkDone bool
}

// keyPosition locates a setting for error reporting: the assignment in the
// target's own file when there is one, the TARGET_NAME line otherwise.
func (t *Target) keyPosition(key string) scanner.Position {
	if pos, ok := t.keyPos[key]; ok {
		return pos
	}
	return t.pos
}

// nameList reads a setting whose entries are all target names, with the
// reference sigil accepted but not required.
func (t *Target) nameList(key string) ([]string, error) {
	tokens, err := t.scope.AccumulateList(key)
	if err != nil {
		return nil, &Error{
			Err: fmt.Errorf("target %q: %s", t.name, err),
			Pos: t.keyPosition(key),
		}
	}
	names := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		names = append(names, strings.TrimPrefix(tok, refSigil))
	}
	return names, nil
}

// linkClosure returns the names of every target reachable through LINK,
// excluding t itself, sorted.  Cached once.
func (t *Target) linkClosure() ([]string, error) {
	if t.closureDone {
		return t.closure, nil
	}

	visited := map[string]bool{t.name: true}
	queue := []*Target{t}
	var closure []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		names, err := cur.nameList("LINK")
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if visited[name] {
				continue
			}
			visited[name] = true

			dep, ok := t.ctx.targets[name]
			if !ok {
				return nil, &Error{
					Err: fmt.Errorf("target %q: LINK references undefined target %q", cur.name, name),
					Pos: cur.keyPosition("LINK"),
				}
			}
			closure = append(closure, name)
			queue = append(queue, dep)
		}
	}

	sort.Strings(closure)
	t.closure = closure
	t.closureDone = true
	return t.closure, nil
}

// closureTargets resolves the link closure to targets, t excluded.
func (t *Target) closureTargets() ([]*Target, error) {
	names, err := t.linkClosure()
	if err != nil {
		return nil, err
	}
	targets := make([]*Target, len(names))
	for i, name := range names {
		targets[i] = t.ctx.targets[name]
	}
	return targets, nil
}

// includeRoots collects the include staging roots contributed by the link
// closure and by IMPORT, explicit imports first.  Targets exporting nothing
// contribute nothing.
func (t *Target) includeRoots() ([]string, error) {
	imports, err := t.nameList("IMPORT")
	if err != nil {
		return nil, err
	}
	closure, err := t.linkClosure()
	if err != nil {
		return nil, err
	}

	var roots []string
	for _, name := range append(imports, closure...) {
		dep, ok := t.ctx.targets[name]
		if !ok {
			return nil, &Error{
				Err: fmt.Errorf("target %q: IMPORT references undefined target %q", t.name, name),
				Pos: t.keyPosition("IMPORT"),
			}
		}
		root, err := dep.includeStaging()
		if err != nil {
			return nil, err
		}
		if root != "" {
			roots = append(roots, root)
		}
	}
	return dedup(roots), nil
}

// includeStaging materializes, once, include/<name>/ under the build
// directory with a copy of every EXPORT header, and returns the shared
// include root so dependents compile with -I<root> and write
// #include <name/header.h>.  Targets with no exports return "".
//
// Staging happens at generation time rather than through a build action:
// dependent compiles list the staged headers in their depfiles, and those
// must exist by the time the executor first stats them.
func (t *Target) includeStaging() (string, error) {
	if t.stagingDone {
		return t.staging, nil
	}

	files, refs, err := t.ctx.globList(t.scope, "EXPORT")
	if err != nil {
		return "", &Error{
			Err: fmt.Errorf("target %q: %s", t.name, err),
			Pos: t.keyPosition("EXPORT"),
		}
	}
	if len(refs) > 0 {
		return "", &Error{
			Err: fmt.Errorf("target %q: EXPORT cannot reference targets", t.name),
			Pos: t.keyPosition("EXPORT"),
		}
	}

	if len(files) > 0 {
		root := filepath.Join(t.ctx.buildDir, "include")
		dir := filepath.Join(root, t.name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return "", &Error{
					Err: fmt.Errorf("target %q: exported header: %s", t.name, err),
					Pos: t.keyPosition("EXPORT"),
				}
			}
			dst := filepath.Join(dir, filepath.Base(f))
			if err := os.WriteFile(dst, data, 0644); err != nil {
				return "", err
			}
		}
		t.staging = root
	}

	t.stagingDone = true
	return t.staging, nil
}

// objDir and genDir are the per-target roots for compiled objects and
// generated files.
func (t *Target) objDir() string {
	return filepath.Join(t.ctx.buildDir, "obj", t.name)
}

func (t *Target) genDir() string {
	return filepath.Join(t.ctx.buildDir, "gen", t.name)
}

// pipelineScope derives the scope that seeds this target's assets through
// the transform pipeline: product directories, include roots, and the
// precompiled prelude.
func (t *Target) pipelineScope() (*Scope, error) {
	includes, err := t.includeRoots()
	if err != nil {
		return nil, err
	}
	prelude, err := t.preludeProducts()
	if err != nil {
		return nil, err
	}

	return t.scope.Derive(map[string]interface{}{
		objDirKey:   t.objDir(),
		genDirKey:   t.genDir(),
		includesKey: includes,
		preludeKey:  prelude,
	}, ""), nil
}

// preludeProducts pushes the PRELUDE headers through the pipeline and
// returns the precompiled products.  Cached once; the products are implicit
// deps of every compile this target runs.
func (t *Target) preludeProducts() ([]string, error) {
	if t.preludeDone {
		return t.prelude, nil
	}

	files, refs, err := t.ctx.globList(t.scope, "PRELUDE")
	if err != nil {
		return nil, &Error{
			Err: fmt.Errorf("target %q: %s", t.name, err),
			Pos: t.keyPosition("PRELUDE"),
		}
	}
	if len(refs) > 0 {
		return nil, &Error{
			Err: fmt.Errorf("target %q: PRELUDE cannot reference targets", t.name),
			Pos: t.keyPosition("PRELUDE"),
		}
	}

	var products []string
	if len(files) > 0 {
		includes, err := t.includeRoots()
		if err != nil {
			return nil, err
		}
		seed := t.scope.Derive(map[string]interface{}{
			objDirKey:   t.objDir(),
			genDirKey:   t.genDir(),
			includesKey: includes,
		}, "")

		for _, f := range files {
			terminals, err := t.ctx.transform(Asset{Path: f, Scope: seed})
			if err != nil {
				return nil, err
			}
			for _, term := range terminals {
				if !strings.HasSuffix(term.Path, ".gch") {
					return nil, &Error{
						Err: fmt.Errorf("target %q: prelude %q yields %q, which is not a precompiled header",
							t.name, f, term.Path),
						Pos: t.keyPosition("PRELUDE"),
					}
				}
				products = append(products, term.Path)
			}
		}
	}

	t.prelude = products
	t.preludeDone = true
	return t.prelude, nil
}

// ownObjects pushes the target's SOURCES through the pipeline and returns
// the object files produced, in source order.  A source whose chain ends in
// anything but an object is a configuration error.  Cached once.
func (t *Target) ownObjects() ([]string, error) {
	if t.objectsDone {
		return t.objects, nil
	}

	files, refs, err := t.ctx.globList(t.scope, "SOURCES")
	if err != nil {
		return nil, &Error{
			Err: fmt.Errorf("target %q: %s", t.name, err),
			Pos: t.keyPosition("SOURCES"),
		}
	}
	if len(refs) > 0 {
		return nil, &Error{
			Err: fmt.Errorf("target %q: SOURCES cannot reference targets", t.name),
			Pos: t.keyPosition("SOURCES"),
		}
	}

	seed, err := t.pipelineScope()
	if err != nil {
		return nil, err
	}

	objects, err := t.compileAll(files, seed, "SOURCES")
	if err != nil {
		return nil, err
	}

	t.objects = objects
	t.objectsDone = true
	return t.objects, nil
}

// compileAll transforms each file and requires every terminal to be an
// object file, attributing failures to the setting named by key.
func (t *Target) compileAll(files []string, seed *Scope, key string) ([]string, error) {
	var objects []string
	for _, f := range files {
		terminals, err := t.ctx.transform(Asset{Path: f, Scope: seed})
		if err != nil {
			return nil, err
		}
		for _, term := range terminals {
			if !strings.HasSuffix(term.Path, ".o") {
				return nil, &Error{
					Err: fmt.Errorf("target %q: %s entry %q yields %q, which no plugin turns into an object",
						t.name, key, f, term.Path),
					Pos: t.keyPosition(key),
				}
			}
			objects = append(objects, term.Path)
		}
	}
	return objects, nil
}

// isBundle reports whether this target set assembles into a bundle: any
// resource-category setting anywhere in the scopes of t or its link closure
// makes it one, even an empty one.
func (t *Target) isBundle() (bool, error) {
	if len(t.scope.KeysWithPrefix(resourceKeyPrefix)) > 0 {
		return true, nil
	}
	closure, err := t.closureTargets()
	if err != nil {
		return false, err
	}
	for _, dep := range closure {
		if len(dep.scope.KeysWithPrefix(resourceKeyPrefix)) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// bundleExtension returns the bundle directory extension, "app" unless the
// nearest BUNDLE_EXTENSION says otherwise.
func (t *Target) bundleExtension() string {
	if ext, ok := t.scope.Get("BUNDLE_EXTENSION"); ok && ext != "" {
		return strings.TrimPrefix(ext, ".")
	}
	return "app"
}

func (t *Target) bundleDir() string {
	return filepath.Join(t.ctx.buildDir, t.name+"."+t.bundleExtension())
}

func (t *Target) contentsDir() string {
	return filepath.Join(t.bundleDir(), "Contents")
}

// signaturePath is the signature manifest codesign writes over a completed
// bundle.  Its presence marks the bundle complete, so embedding targets
// depend on it.
func (t *Target) signaturePath() string {
	return filepath.Join(t.contentsDir(), "_CodeSignature", "CodeResources")
}

const (
	resourceKeyPrefix = "CP_"

	// manifestCategory is the resource category staged at the bundle's
	// Contents root rather than a subdirectory, for Info.plist and its
	// peers.
	manifestCategory = "Manifest"
)

// resources returns the target's resource manifest: one entry per staged
// file, ordered by category key, pipeline products before imports within a
// category.  Cached once.
//
// A directory listed under a category is recursed (each descendant file
// transformed individually, destinations keeping the directory's name as
// their folder) unless a plugin claims the directory's suffix, in which
// case the whole directory transforms as a unit.
//
// A reference imports every entry of the referenced target's manifest under
// this category's destination.  When the referenced target is an assembled
// bundle the imported sources are its staged files and the import waits for
// its signature manifest; otherwise the entries are re-staged from the same
// built products.
func (t *Target) resources() ([]ResourceEntry, error) {
	if t.manifestDone {
		return t.manifest, nil
	}
	if t.manifestBuilding {
		// Graph resolution rejects embedding cycles; re-entry means the
		// manifest was asked for without it.
		return nil, &Error{
			Err: fmt.Errorf("encountered embedding cycle at %q", t.name),
			Pos: t.pos,
		}
	}
	t.manifestBuilding = true
	defer func() { t.manifestBuilding = false }()

	var entries []ResourceEntry
	for _, key := range t.scope.KeysWithPrefix(resourceKeyPrefix) {
		category := strings.TrimPrefix(key, resourceKeyPrefix)
		dest := category
		if category == manifestCategory {
			dest = ""
		}

		files, refs, err := t.ctx.globList(t.scope, key)
		if err != nil {
			return nil, &Error{
				Err: fmt.Errorf("target %q: %s", t.name, err),
				Pos: t.keyPosition(key),
			}
		}

		seed, err := t.pipelineScope()
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			fileEntries, err := t.resourceFile(f, dest, seed)
			if err != nil {
				return nil, err
			}
			entries = append(entries, fileEntries...)
		}

		for _, name := range refs {
			dep, ok := t.ctx.targets[name]
			if !ok {
				return nil, &Error{
					Err: fmt.Errorf("target %q: %s references undefined target %q", t.name, key, name),
					Pos: t.keyPosition(key),
				}
			}
			imported, err := t.importResources(dep, dest)
			if err != nil {
				return nil, err
			}
			entries = append(entries, imported...)
		}
	}

	t.manifest = entries
	t.manifestDone = true
	return t.manifest, nil
}

func (t *Target) resourceFile(f, dest string, seed *Scope) ([]ResourceEntry, error) {
	info, err := os.Stat(f)
	if err == nil && info.IsDir() && t.ctx.plugins.match(f, nil) == nil {
		return t.resourceDir(f, dest, seed)
	}

	terminals, err := t.ctx.transform(Asset{Path: f, Scope: seed})
	if err != nil {
		return nil, err
	}
	entries := make([]ResourceEntry, 0, len(terminals))
	for _, term := range terminals {
		entries = append(entries, ResourceEntry{
			Src: term.Path,
			Dst: filepath.Join(dest, filepath.Base(term.Path)),
		})
	}
	return entries, nil
}

func (t *Target) resourceDir(dir, dest string, seed *Scope) ([]ResourceEntry, error) {
	children, searched, err := pathtools.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, d := range searched {
		t.ctx.recordGlobDir(d)
	}

	top := filepath.Base(dir)
	var entries []ResourceEntry
	for _, child := range children {
		rel, err := filepath.Rel(dir, child)
		if err != nil {
			return nil, err
		}
		terminals, err := t.ctx.transform(Asset{Path: child, Scope: seed})
		if err != nil {
			return nil, err
		}
		for _, term := range terminals {
			entries = append(entries, ResourceEntry{
				Src: term.Path,
				Dst: filepath.Join(dest, top, filepath.Dir(rel), filepath.Base(term.Path)),
			})
		}
	}
	return entries, nil
}

func (t *Target) importResources(dep *Target, dest string) ([]ResourceEntry, error) {
	depEntries, err := dep.resources()
	if err != nil {
		return nil, err
	}

	bundle, err := dep.isBundle()
	if err != nil {
		return nil, err
	}
	assembled := bundle && t.ctx.isRoot(dep)

	entries := make([]ResourceEntry, 0, len(depEntries))
	for _, e := range depEntries {
		imported := ResourceEntry{
			Src:  e.Src,
			Dst:  filepath.Join(dest, e.Dst),
			Deps: e.Deps,
		}
		if assembled {
			imported.Src = filepath.Join(dep.contentsDir(), e.Dst)
			imported.Deps = []string{dep.signaturePath()}
		}
		entries = append(entries, imported)
	}
	return entries, nil
}

// linkFlags partitions the link settings of t and its closure into archive
// inputs and flag words.  A LIBS token naming a path (containing a
// separator or ending in .a) is an archive, resolved against the directory
// of the scope that defines it; other LIBS tokens become -l flags.
// FRAMEWORKS contribute -framework pairs, LN_FLAGS pass through.  Flags are
// deduplicated preserving first occurrence, and any flag deferring variable
// expansion to the executor is quoted.  Cached once.
func (t *Target) linkFlags() (*linkSpec, error) {
	if t.linkDone {
		return t.link, nil
	}

	spec := &linkSpec{}
	seenArchive := make(map[string]bool)
	seenFlag := make(map[string]bool)
	seenFramework := make(map[string]bool)

	addFlag := func(flag string) {
		if !seenFlag[flag] {
			seenFlag[flag] = true
			spec.flags = append(spec.flags, flag)
		}
	}

	if v, ok := t.scope.Get("PLATFORM_MIN_VERSION"); ok && v != "" {
		addFlag("-mmacosx-version-min=" + v)
	}

	closure, err := t.closureTargets()
	if err != nil {
		return nil, err
	}

	for _, member := range append([]*Target{t}, closure...) {
		var tokErr error
		member.scope.walkDefined("LIBS", func(sc *Scope, v interface{}) bool {
			toks, err := valueTokens(v)
			if err != nil {
				tokErr = err
				return false
			}
			for _, tok := range toks {
				if isArchiveToken(tok) {
					path := tok
					if !filepath.IsAbs(path) {
						path = filepath.Join(sc.Dir(), path)
					}
					if !seenArchive[path] {
						seenArchive[path] = true
						spec.archives = append(spec.archives, path)
					}
				} else {
					addFlag("-l" + tok)
				}
			}
			return true
		})
		if tokErr != nil {
			return nil, &Error{
				Err: fmt.Errorf("target %q: LIBS: %s", member.name, tokErr),
				Pos: member.keyPosition("LIBS"),
			}
		}

		frameworks, err := member.scope.AccumulateList("FRAMEWORKS")
		if err != nil {
			return nil, &Error{
				Err: fmt.Errorf("target %q: %s", member.name, err),
				Pos: member.keyPosition("FRAMEWORKS"),
			}
		}
		for _, fw := range frameworks {
			if !seenFramework[fw] {
				seenFramework[fw] = true
				spec.flags = append(spec.flags, "-framework", quoteFlag(fw))
			}
		}

		raw, err := member.scope.AccumulateList("LN_FLAGS")
		if err != nil {
			return nil, &Error{
				Err: fmt.Errorf("target %q: %s", member.name, err),
				Pos: member.keyPosition("LN_FLAGS"),
			}
		}
		for _, flag := range raw {
			addFlag(quoteFlag(flag))
		}
	}

	t.link = spec
	t.linkDone = true
	return t.link, nil
}

func isArchiveToken(tok string) bool {
	return strings.HasSuffix(tok, ".a") || strings.ContainsRune(tok, filepath.Separator)
}
