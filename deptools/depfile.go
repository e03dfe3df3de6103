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

package deptools

import (
	"fmt"
	"os"
	"strings"
)

// WriteDepFile creates a new gcc-style depfile and populates it with content
// indicating that target depends on deps.  Duplicate deps collapse to a
// single entry and paths containing spaces are escaped, since the downstream
// executor splits the list on unescaped whitespace.
func WriteDepFile(filename, target string, deps []string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	seen := make(map[string]bool, len(deps))
	escaped := make([]string, 0, len(deps))
	for _, dep := range deps {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		escaped = append(escaped, strings.ReplaceAll(dep, " ", "\\ "))
	}

	_, err = fmt.Fprintf(f, "%s: \\\n %s\n", target,
		strings.Join(escaped, " \\\n "))
	if err != nil {
		return err
	}

	return nil
}
