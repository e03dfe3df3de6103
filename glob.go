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
	"sort"

	"github.com/gantry-build/gantry/pathtools"
)

// glob expands pattern, caching the result and recording every directory
// the expansion searched.  The recorded directories end up in the
// regeneration depfile, so adding or removing a file there reruns the
// generator.
func (c *Context) glob(pattern string) ([]string, error) {
	if matches, ok := c.globCache[pattern]; ok {
		return matches, nil
	}

	matches, dirs, err := pathtools.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	c.globCache[pattern] = matches
	for _, dir := range dirs {
		c.recordGlobDir(dir)
	}
	return matches, nil
}

// recordGlobDir marks a directory whose listing influenced this run.
func (c *Context) recordGlobDir(dir string) {
	c.globDirs[dir] = true
}

// globbedDirs returns the recorded directories, sorted.
func (c *Context) globbedDirs() []string {
	dirs := make([]string, 0, len(c.globDirs))
	for dir := range c.globDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}
