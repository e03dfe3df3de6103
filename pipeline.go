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
	"fmt"
	"path/filepath"
	"strings"
)

// An Asset is one file flowing through the transform pipeline: a path plus
// the scope supplying its configuration.  Assets are immutable; a plugin
// returns fresh assets for its products, optionally with a derived scope.
type Asset struct {
	Path  string
	Scope *Scope
}

// A Mapping advertises one input suffix a plugin consumes and the suffix of
// the product it yields.  Aliases are further input suffixes sharing the
// same product (".cc" and ".cxx" alongside ".cpp").  A mapping whose product
// suffix equals its input suffix marks a filtering plugin; such plugins run
// at most once per asset chain.
type Mapping struct {
	InSuffix  string
	OutSuffix string
	Aliases   []string
}

// A Plugin turns one asset into derived assets, emitting the build actions
// that produce them.  Name must be unique within a Context: it keys both the
// once-per-run Setup and the per-chain exclusion that keeps a filtering
// plugin from reapplying to its own product.
type Plugin interface {
	Name() string
	Mappings() []Mapping
	Setup(ctx *Context) error
	Transform(ctx *Context, asset Asset) ([]Asset, error)
}

type suffixMapping struct {
	suffix string
	plugin Plugin
}

type pluginRegistry struct {
	plugins  []Plugin
	byName   map[string]Plugin
	suffixes []suffixMapping
	owner    map[string]Plugin
}

func newPluginRegistry() *pluginRegistry {
	return &pluginRegistry{
		byName: make(map[string]Plugin),
		owner:  make(map[string]Plugin),
	}
}

func (r *pluginRegistry) register(p Plugin) {
	name := p.Name()
	if r.byName[name] != nil {
		panic(fmt.Errorf("plugin %q registered twice", name))
	}
	r.byName[name] = p
	r.plugins = append(r.plugins, p)

	for _, m := range p.Mappings() {
		for _, suffix := range append([]string{m.InSuffix}, m.Aliases...) {
			if prev := r.owner[suffix]; prev != nil {
				panic(fmt.Errorf("suffix %q claimed by both %q and %q",
					suffix, prev.Name(), name))
			}
			r.owner[suffix] = p
			r.suffixes = append(r.suffixes, suffixMapping{suffix, p})
		}
	}
}

// match selects the plugin for path: the longest matching registered suffix
// wins, skipping plugins in excluded so a shorter-suffix candidate can take
// over.  Ties go to the earlier registration.  nil means path is terminal.
func (r *pluginRegistry) match(path string, excluded map[string]bool) Plugin {
	var best Plugin
	bestLen := 0
	for _, m := range r.suffixes {
		if len(m.suffix) <= bestLen || !strings.HasSuffix(path, m.suffix) {
			continue
		}
		if excluded[m.plugin.Name()] {
			continue
		}
		best = m.plugin
		bestLen = len(m.suffix)
	}
	return best
}

// transform pushes asset through the plugin pipeline until only terminal
// assets remain, returning them in production order.  An exclusion set
// shared by the whole chain records every plugin already applied, so a
// plugin whose product matches its own suffix cannot loop.
func (c *Context) transform(asset Asset) ([]Asset, error) {
	var terminals []Asset
	queue := []Asset{asset}
	excluded := make(map[string]bool)

	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]

		plugin := c.plugins.match(a.Path, excluded)
		if plugin == nil {
			terminals = append(terminals, a)
			continue
		}

		if err := c.setupPlugin(plugin); err != nil {
			return nil, err
		}
		excluded[plugin.Name()] = true

		derived, err := plugin.Transform(c, a)
		if err != nil {
			return nil, err
		}
		queue = append(queue, derived...)
	}

	return terminals, nil
}

// setupPlugin runs a plugin's Setup the first time the plugin transforms
// anything in this context.  Tracking per context rather than globally keeps
// repeated generator runs in one process independent.
func (c *Context) setupPlugin(p Plugin) error {
	if c.setupDone[p.Name()] {
		return nil
	}
	c.setupDone[p.Name()] = true
	return p.Setup(c)
}

// matchMapping returns the mapping and the concrete suffix (canonical or
// alias) under which path matched, preferring the longest suffix.
func matchMapping(mappings []Mapping, path string) (Mapping, string, bool) {
	var bestMapping Mapping
	bestSuffix := ""
	found := false
	for _, m := range mappings {
		for _, suffix := range append([]string{m.InSuffix}, m.Aliases...) {
			if strings.HasSuffix(path, suffix) && len(suffix) > len(bestSuffix) {
				bestMapping = m
				bestSuffix = suffix
				found = true
			}
		}
	}
	return bestMapping, bestSuffix, found
}

// stemFor returns a stable relative stem for an asset's products: the path
// relative to the asset scope's directory when inside it, else relative to
// the build directory, else the base name.
func (c *Context) stemFor(a Asset) string {
	if rel, err := filepath.Rel(a.Scope.Dir(), a.Path); err == nil && !isParentPath(rel) {
		return rel
	}
	if rel, err := filepath.Rel(c.buildDir, a.Path); err == nil && !isParentPath(rel) {
		return rel
	}
	return filepath.Base(a.Path)
}

func isParentPath(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
