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

package pathtools

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Glob returns the list of files that match the given pattern along with the
// list of directories that were searched to construct the file list.  The
// searched directories feed the generator's dependency file, so adding a
// file that a pattern would match triggers regeneration.
func Glob(pattern string) (matches, dirs []string, err error) {
	if !IsWild(pattern) {
		// Without wilds the pattern names at most one file.  filepath.Glob
		// is used instead of a stat so missing files behave consistently
		// with the wild case.
		matches, err = filepath.Glob(filepath.Clean(pattern))
		return matches, dirs, err
	}

	dir, file := saneSplit(pattern)
	dirMatches, dirs, err := Glob(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range dirMatches {
		if info, _ := os.Stat(m); info != nil && info.IsDir() {
			dirs = append(dirs, m)
			newMatches, err := filepath.Glob(filepath.Join(m, file))
			if err != nil {
				return nil, nil, err
			}
			matches = append(matches, newMatches...)
		}
	}

	return matches, dirs, nil
}

// GlobPatternList expands each pattern relative to prefix.  Wild patterns
// contribute their matches and the directories searched; non-wild patterns
// pass through joined to the prefix without touching the filesystem, so a
// reference to a file that does not exist yet survives expansion.
func GlobPatternList(patterns []string, prefix string) (globbedList []string, depDirs []string, err error) {
	var (
		matches []string
		deps    []string
	)

	globbedList = make([]string, 0)
	depDirs = make([]string, 0)

	for _, pattern := range patterns {
		if IsWild(pattern) {
			matches, deps, err = Glob(filepath.Join(prefix, pattern))
			if err != nil {
				return nil, nil, err
			}
			globbedList = append(globbedList, matches...)
			depDirs = append(depDirs, deps...)
		} else {
			globbedList = append(globbedList, filepath.Join(prefix, pattern))
		}
	}
	return globbedList, depDirs, nil
}

// ListFiles returns every non-hidden file under dir in lexical walk order,
// along with dir and every non-hidden subdirectory visited.  Hidden entries
// are those whose name starts with a dot.
func ListFiles(dir string) (files, dirs []string, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := path != dir && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		}
		if !hidden {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return files, dirs, nil
}

// Faster version of dir, file := filepath.Dir(path), filepath.File(path)
// Similar to filepath.Split, but returns "." if dir is empty and trims
// trailing slash if dir is not "/"
func saneSplit(path string) (dir, file string) {
	dir, file = filepath.Split(path)
	switch dir {
	case "":
		dir = "."
	case "/":
		// Nothing
	default:
		dir = dir[:len(dir)-1]
	}
	return dir, file
}

// IsWild reports whether pattern contains any glob metacharacters.
func IsWild(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}
