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
	"strings"
)

// ResolveGraph validates every inter-target reference, rejects cycles in
// the LINK and embedding relations, determines the root targets, and orders
// the roots so that an embedded bundle assembles before any bundle embedding
// it.  It must run after LoadTargets and before AssembleAll.
func (c *Context) ResolveGraph() []error {
	if errs := c.checkReferences(); len(errs) > 0 {
		return errs
	}
	if errs := c.checkLinkCycles(); len(errs) > 0 {
		return errs
	}
	if errs := c.checkEmbedCycles(); len(errs) > 0 {
		return errs
	}
	if errs := c.orderRoots(); len(errs) > 0 {
		return errs
	}
	c.resolved = true
	return nil
}

// Settings whose entries all name targets.
var nameListKeys = []string{"LINK", "IMPORT"}

// checkReferences verifies that every LINK, IMPORT, and resource-category
// reference names a declared target, reporting the declaring file, the key,
// and the offending name for each that does not.
func (c *Context) checkReferences() []error {
	var errs []error
	for _, t := range c.targetOrder {
		for _, key := range nameListKeys {
			names, err := t.nameList(key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, name := range names {
				if c.targets[name] == nil {
					errs = append(errs, &Error{
						Err: fmt.Errorf("target %q: %s references undefined target %q",
							t.name, key, name),
						Pos: t.keyPosition(key),
					})
				}
			}
		}

		for _, key := range t.scope.KeysWithPrefix(resourceKeyPrefix) {
			_, refs, err := c.globList(t.scope, key)
			if err != nil {
				errs = append(errs, &Error{
					Err: fmt.Errorf("target %q: %s", t.name, err),
					Pos: t.keyPosition(key),
				})
				continue
			}
			for _, name := range refs {
				if c.targets[name] == nil {
					errs = append(errs, &Error{
						Err: fmt.Errorf("target %q: %s references undefined target %q",
							t.name, key, name),
						Pos: t.keyPosition(key),
					})
				}
			}
		}
	}
	return errs
}

// checkLinkCycles walks the LINK relation depth first and reports every
// cycle it encounters as an error chain spelling out the full loop.
func (c *Context) checkLinkCycles() (errs []error) {
	visited := make(map[*Target]bool)  // targets that were already checked
	checking := make(map[*Target]bool) // targets actively being checked

	cycleError := func(cycle []*Target) {
		// The cycle list is in reverse order because each 'check' call
		// appends its own target to the list.
		errs = append(errs, &Error{
			Err: fmt.Errorf("encountered dependency cycle:"),
			Pos: cycle[len(cycle)-1].pos,
		})
		cur := cycle[0]
		for i := len(cycle) - 1; i >= 0; i-- {
			next := cycle[i]
			errs = append(errs, &Error{
				Err: fmt.Errorf("    %q links %q", cur.name, next.name),
				Pos: cur.keyPosition("LINK"),
			})
			cur = next
		}
	}

	var check func(t *Target) []*Target
	check = func(t *Target) []*Target {
		visited[t] = true
		checking[t] = true
		defer delete(checking, t)

		names, err := t.nameList("LINK")
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		for _, name := range names {
			dep := c.targets[name]
			if dep == nil {
				// Already reported by reference validation.
				continue
			}
			if checking[dep] {
				return []*Target{dep, t}
			}
			if !visited[dep] {
				if cycle := check(dep); cycle != nil {
					if cycle[0] == t {
						// This target is the start of the cycle, so it
						// owns the error.  Everything in the cycle is
						// now visited, so it won't be found twice.
						cycleError(cycle)
					} else {
						return append(cycle, t)
					}
				}
			}
		}
		return nil
	}

	for _, t := range c.targetOrder {
		if !visited[t] {
			if cycle := check(t); cycle != nil {
				if cycle[len(cycle)-1] != t {
					panic("inconceivable!")
				}
				cycleError(cycle)
			}
		}
	}
	return errs
}

// checkEmbedCycles walks the embedding relation depth first and reports
// every cycle as an error chain spelling out the full loop.  Every
// resource-category reference of every target is an edge here, self
// references included: a manifest imports the manifests it references, so
// a loop anywhere in the relation has no valid assembly, root or not.
func (c *Context) checkEmbedCycles() (errs []error) {
	type embedEdge struct {
		dep *Target
		key string
	}
	edges := make(map[*Target][]embedEdge)
	for _, t := range c.targetOrder {
		seen := make(map[*Target]bool)
		for _, key := range t.scope.KeysWithPrefix(resourceKeyPrefix) {
			_, refs, err := c.globList(t.scope, key)
			if err != nil {
				// Already reported by reference validation.
				continue
			}
			for _, name := range refs {
				dep := c.targets[name]
				if dep == nil || seen[dep] {
					continue
				}
				seen[dep] = true
				edges[t] = append(edges[t], embedEdge{dep, key})
			}
		}
	}

	edgeKey := func(from, to *Target) string {
		for _, e := range edges[from] {
			if e.dep == to {
				return e.key
			}
		}
		return ""
	}

	visited := make(map[*Target]bool)  // targets that were already checked
	checking := make(map[*Target]bool) // targets actively being checked

	cycleError := func(cycle []*Target) {
		// The cycle list is in reverse order, as in the LINK walk.
		errs = append(errs, &Error{
			Err: fmt.Errorf("encountered embedding cycle:"),
			Pos: cycle[len(cycle)-1].pos,
		})
		cur := cycle[0]
		for i := len(cycle) - 1; i >= 0; i-- {
			next := cycle[i]
			errs = append(errs, &Error{
				Err: fmt.Errorf("    %q embeds %q", cur.name, next.name),
				Pos: cur.keyPosition(edgeKey(cur, next)),
			})
			cur = next
		}
	}

	var check func(t *Target) []*Target
	check = func(t *Target) []*Target {
		visited[t] = true
		checking[t] = true
		defer delete(checking, t)

		for _, e := range edges[t] {
			if e.dep == t {
				cycleError([]*Target{t})
				continue
			}
			if checking[e.dep] {
				return []*Target{e.dep, t}
			}
			if !visited[e.dep] {
				if cycle := check(e.dep); cycle != nil {
					if cycle[0] == t {
						cycleError(cycle)
					} else {
						return append(cycle, t)
					}
				}
			}
		}
		return nil
	}

	for _, t := range c.targetOrder {
		if !visited[t] {
			if cycle := check(t); cycle != nil {
				if cycle[len(cycle)-1] != t {
					panic("inconceivable!")
				}
				cycleError(cycle)
			}
		}
	}
	return errs
}

// orderRoots picks the roots (targets no LINK list names) and orders them
// by repeatedly taking a root whose embedded roots have all been placed.
// Embedding is derived from resource-category references anywhere in a
// root's target set; references to non-root targets impose no order, since
// their entries are re-staged rather than lifted from an assembled tree.
// Lifting can tie two roots into a cycle even when no target references
// another in a loop, so ordering keeps its own cycle check.
func (c *Context) orderRoots() []error {
	linked := make(map[string]bool)
	for _, t := range c.targetOrder {
		names, err := t.nameList("LINK")
		if err != nil {
			return []error{err}
		}
		for _, name := range names {
			linked[name] = true
		}
	}

	var roots []*Target
	for _, t := range c.targetOrder {
		if !linked[t.name] {
			roots = append(roots, t)
			c.rootSet[t.name] = true
		}
	}

	embedders := make(map[*Target][]*Target) // embedded root -> roots embedding it
	indegree := make(map[*Target]int)        // embedder -> unplaced embedded roots

	for _, root := range roots {
		deps, err := root.closureTargets()
		if err != nil {
			return []error{err}
		}
		seen := make(map[*Target]bool)
		for _, member := range append([]*Target{root}, deps...) {
			for _, key := range member.scope.KeysWithPrefix(resourceKeyPrefix) {
				_, refs, err := c.globList(member.scope, key)
				if err != nil {
					return []error{&Error{
						Err: fmt.Errorf("target %q: %s", member.name, err),
						Pos: member.keyPosition(key),
					}}
				}
				for _, name := range refs {
					dep := c.targets[name]
					if dep == nil || dep == root || !c.rootSet[name] || seen[dep] {
						continue
					}
					seen[dep] = true
					embedders[dep] = append(embedders[dep], root)
					indegree[root]++
				}
			}
		}
	}

	ordered := make([]*Target, 0, len(roots))
	placed := make(map[*Target]bool)
	for len(ordered) < len(roots) {
		progress := false
		for _, root := range roots {
			if placed[root] || indegree[root] > 0 {
				continue
			}
			placed[root] = true
			ordered = append(ordered, root)
			for _, embedder := range embedders[root] {
				indegree[embedder]--
			}
			progress = true
		}
		if !progress {
			var remaining []string
			var first *Target
			for _, root := range roots {
				if !placed[root] {
					if first == nil {
						first = root
					}
					remaining = append(remaining, fmt.Sprintf("%q", root.name))
				}
			}
			return []error{&Error{
				Err: fmt.Errorf("encountered embedding cycle among %s",
					strings.Join(remaining, ", ")),
				Pos: first.pos,
			}}
		}
	}

	c.roots = ordered
	return nil
}
