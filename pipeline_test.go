// Copyright 2025 The Gantry Authors. All rights reserved.
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
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakePlugin counts its invocations and derives assets through a supplied
// function, so pipeline routing can be tested without real build actions.
type fakePlugin struct {
	name     string
	mappings []Mapping
	derive   func(a Asset) []Asset

	setups     int
	transforms int
}

func (p *fakePlugin) Name() string        { return p.name }
func (p *fakePlugin) Mappings() []Mapping { return p.mappings }

func (p *fakePlugin) Setup(ctx *Context) error {
	p.setups++
	return nil
}

func (p *fakePlugin) Transform(ctx *Context, a Asset) ([]Asset, error) {
	p.transforms++
	if p.derive == nil {
		return nil, nil
	}
	return p.derive(a), nil
}

// testPipelineContext returns a context with an empty plugin registry, so
// tests control the full suffix table.
func testPipelineContext() *Context {
	return &Context{
		buildDir:  "out",
		plugins:   newPluginRegistry(),
		setupDone: make(map[string]bool),
	}
}

func TestPipelineLongestSuffixWins(t *testing.T) {
	compile := &fakePlugin{
		name:     "compile",
		mappings: []Mapping{{InSuffix: ".c", OutSuffix: ".o"}},
	}
	precomp := &fakePlugin{
		name:     "precomp",
		mappings: []Mapping{{InSuffix: ".tab.c", OutSuffix: ".c"}},
	}

	ctx := testPipelineContext()
	ctx.plugins.register(compile)
	ctx.plugins.register(precomp)

	if got := ctx.plugins.match("parser.tab.c", nil); got != precomp {
		t.Errorf("match(parser.tab.c) picked %q, want precomp", got.Name())
	}
	if got := ctx.plugins.match("main.c", nil); got != compile {
		t.Errorf("match(main.c) picked %q, want compile", got.Name())
	}
	if got := ctx.plugins.match("README.md", nil); got != nil {
		t.Errorf("match(README.md) picked %q, want none", got.Name())
	}

	// Excluding the long-suffix plugin lets the shorter candidate take
	// over.
	excluded := map[string]bool{"precomp": true}
	if got := ctx.plugins.match("parser.tab.c", excluded); got != compile {
		t.Errorf("match with exclusion picked %v, want compile", got)
	}
}

func TestPipelineFilterRunsOncePerChain(t *testing.T) {
	scope := NewScope("icons", nil)
	optimize := &fakePlugin{
		name:     "optimize",
		mappings: []Mapping{{InSuffix: ".png", OutSuffix: ".png"}},
		derive: func(a Asset) []Asset {
			return []Asset{{Path: "out/gen/" + filepath.Base(a.Path), Scope: a.Scope}}
		},
	}

	ctx := testPipelineContext()
	ctx.plugins.register(optimize)

	terminals, err := ctx.transform(Asset{Path: "icons/app.png", Scope: scope})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// The product matches the plugin's own suffix; the chain exclusion
	// keeps it from reapplying.
	if len(terminals) != 1 || terminals[0].Path != "out/gen/app.png" {
		t.Errorf("terminals = %v, want the optimized copy", terminals)
	}
	if optimize.transforms != 1 {
		t.Errorf("optimize ran %d times, want 1", optimize.transforms)
	}
}

func TestPipelineProductionOrder(t *testing.T) {
	scope := NewScope("src", nil)
	gen := &fakePlugin{
		name:     "gen",
		mappings: []Mapping{{InSuffix: ".src", OutSuffix: ".c"}},
		derive: func(a Asset) []Asset {
			return []Asset{
				{Path: "out/gen/one.c", Scope: a.Scope},
				{Path: "out/gen/two.txt", Scope: a.Scope},
			}
		},
	}
	compile := &fakePlugin{
		name:     "compile",
		mappings: []Mapping{{InSuffix: ".c", OutSuffix: ".o"}},
		derive: func(a Asset) []Asset {
			return []Asset{{Path: "out/obj/one.o", Scope: a.Scope}}
		},
	}

	ctx := testPipelineContext()
	ctx.plugins.register(gen)
	ctx.plugins.register(compile)

	terminals, err := ctx.transform(Asset{Path: "src/m.src", Scope: scope})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var paths []string
	for _, a := range terminals {
		paths = append(paths, a.Path)
	}
	want := []string{"out/gen/two.txt", "out/obj/one.o"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("terminal order mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineSetupOnce(t *testing.T) {
	scope := NewScope("src", nil)
	compile := &fakePlugin{
		name:     "compile",
		mappings: []Mapping{{InSuffix: ".c", OutSuffix: ".o"}},
	}

	ctx := testPipelineContext()
	ctx.plugins.register(compile)

	for _, path := range []string{"src/a.c", "src/b.c"} {
		if _, err := ctx.transform(Asset{Path: path, Scope: scope}); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	if compile.setups != 1 {
		t.Errorf("Setup ran %d times, want 1", compile.setups)
	}
	if compile.transforms != 2 {
		t.Errorf("Transform ran %d times, want 2", compile.transforms)
	}
}

func TestPipelinePassThrough(t *testing.T) {
	scope := NewScope("res", nil)
	ctx := testPipelineContext()

	terminals, err := ctx.transform(Asset{Path: "res/data.json", Scope: scope})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(terminals) != 1 || terminals[0].Path != "res/data.json" {
		t.Errorf("terminals = %v, want the asset unchanged", terminals)
	}
}

func TestRegistryRejectsConflicts(t *testing.T) {
	expectPanic := func(name string, f func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		f()
	}

	r := newPluginRegistry()
	r.register(&fakePlugin{name: "p", mappings: []Mapping{{InSuffix: ".c", OutSuffix: ".o"}}})

	expectPanic("duplicate name", func() {
		r.register(&fakePlugin{name: "p"})
	})
	expectPanic("duplicate suffix", func() {
		r.register(&fakePlugin{name: "q", mappings: []Mapping{{InSuffix: ".x", OutSuffix: ".y", Aliases: []string{".c"}}}})
	})
}

func TestMatchMapping(t *testing.T) {
	mappings := []Mapping{
		{InSuffix: ".cpp", OutSuffix: ".o", Aliases: []string{".cc", ".cxx"}},
		{InSuffix: ".tab.cpp", OutSuffix: ".o"},
	}

	m, suffix, ok := matchMapping(mappings, "widget.cc")
	if !ok || suffix != ".cc" || m.InSuffix != ".cpp" {
		t.Errorf("matchMapping(widget.cc) = %v, %q, %v", m, suffix, ok)
	}

	m, suffix, ok = matchMapping(mappings, "parser.tab.cpp")
	if !ok || suffix != ".tab.cpp" || m.InSuffix != ".tab.cpp" {
		t.Errorf("matchMapping(parser.tab.cpp) = %v, %q, %v", m, suffix, ok)
	}

	if _, _, ok := matchMapping(mappings, "main.c"); ok {
		t.Errorf("matchMapping(main.c) should not match")
	}
}

func TestStemFor(t *testing.T) {
	ctx := testPipelineContext()

	testCases := []struct {
		scopeDir string
		path     string
		want     string
	}{
		// Inside the scope directory.
		{"src/lib", "src/lib/widgets/a.c", "widgets/a.c"},
		// Outside the scope but inside the build directory.
		{"src/lib", "out/gen/demo/main.c", "gen/demo/main.c"},
		// Outside both.
		{"src/lib", "/usr/share/f.c", "f.c"},
	}

	for _, testCase := range testCases {
		asset := Asset{Path: testCase.path, Scope: NewScope(testCase.scopeDir, nil)}
		if got := ctx.stemFor(asset); got != testCase.want {
			t.Errorf("stemFor(%q in %q) = %q, want %q",
				testCase.path, testCase.scopeDir, got, testCase.want)
		}
	}
}
