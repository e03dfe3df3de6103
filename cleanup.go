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
	"bufio"
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// PreviousOutputs queries the manifest left by the previous run for the
// output paths subject to stale cleanup.  The query shells out to the
// executor's targets tool, which knows the manifest syntax authoritatively;
// a missing manifest or a failed query returns ok false and disables
// cleanup for this run.
func (c *Context) PreviousOutputs(manifest string) (outputs []string, ok bool) {
	if _, err := os.Stat(manifest); err != nil {
		return nil, false
	}

	out, err := exec.Command("ninja", "-f", manifest, "-t", "targets", "all").Output()
	if err != nil {
		slog.Warn("skipping stale-output cleanup, previous manifest query failed",
			"manifest", manifest, "err", err)
		return nil, false
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		// One "path: rule" line per output.
		line := scanner.Text()
		idx := strings.LastIndex(line, ": ")
		if idx < 0 {
			continue
		}
		path, rule := line[:idx], line[idx+len(": "):]
		if c.cleanable(path, rule) {
			outputs = append(outputs, path)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("skipping stale-output cleanup, previous manifest query failed",
			"manifest", manifest, "err", err)
		return nil, false
	}
	return outputs, true
}

// cleanable reports whether an output participates in stale cleanup: real
// files under the build directory.  Phony aggregates have no file, and
// static archives are kept since builds outside this manifest may still
// link them.
func (c *Context) cleanable(path, rule string) bool {
	if rule == "phony" || rule == "archive" {
		return false
	}
	if strings.HasSuffix(path, ".a") {
		return false
	}
	rel, err := filepath.Rel(c.buildDir, path)
	if err != nil {
		return false
	}
	return rel != "." && !isParentPath(rel)
}

// Cleanup removes previous outputs the new graph no longer declares,
// pruning any directories the removals empty.  Failures are logged and
// never fail the run.
func (c *Context) Cleanup(previous []string) {
	current := make(map[string]bool)
	for path, rule := range c.AllTargets() {
		if c.cleanable(path, rule) {
			current[filepath.Clean(path)] = true
		}
	}

	for _, path := range previous {
		path = filepath.Clean(path)
		if current[path] {
			continue
		}
		if err := c.removeStale(path); err != nil {
			slog.Warn("could not remove stale output", "path", path, "err", err)
		}
	}
}

// removeStale deletes one stale output, then walks up deleting any
// directories the removal emptied, stopping at the build directory.
func (c *Context) removeStale(path string) error {
	err := os.Remove(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		pathErr := err.(*os.PathError)
		switch pathErr.Err {
		case syscall.ENOTEMPTY, syscall.EEXIST, syscall.ENOTDIR:
			// The stale path is a nonempty directory now; somebody
			// else's files live there, so leave it be.
			return nil
		}
		return err
	}
	slog.Info("removed stale output", "path", path)

	stop := filepath.Clean(c.buildDir)
	for dir := filepath.Dir(path); dir != stop && dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		err := os.Remove(dir)
		if err != nil {
			pathErr := err.(*os.PathError)
			switch pathErr.Err {
			case syscall.ENOTEMPTY, syscall.EEXIST:
				// Reached a directory that still has files, done.
				return nil
			}
			return err
		}
	}
	return nil
}
