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
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// chdir makes dir the working directory for the rest of the test and
// restores the previous one when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

// writeTree creates the given files (empty) under root, making parent
// directories as needed.
func writeTree(t *testing.T, root string, files []string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

var globTestCases = []struct {
	pattern string
	matches []string
	dirs    []string
}{
	{
		pattern: "src/*.c",
		matches: []string{"src/main.c", "src/util.c"},
		dirs:    []string{"src"},
	},
	{
		pattern: "src/*",
		matches: []string{"src/main.c", "src/parser.y", "src/util.c", "src/util.h"},
		dirs:    []string{"src"},
	},
	{
		pattern: "*/*.c",
		matches: []string{"src/main.c", "src/util.c"},
		dirs:    []string{".", "res", "src"},
	},

	// no-wild tests
	{
		pattern: "src/main.c",
		matches: []string{"src/main.c"},
		dirs:    nil,
	},
	{
		pattern: "src/missing.c",
		matches: nil,
		dirs:    nil,
	},
}

func TestGlob(t *testing.T) {
	tmp := t.TempDir()
	writeTree(t, tmp, []string{
		"src/main.c",
		"src/util.c",
		"src/util.h",
		"src/parser.y",
		"res/icon.png",
	})
	chdir(t, tmp)

	for _, testCase := range globTestCases {
		matches, dirs, err := Glob(testCase.pattern)
		if err != nil {
			t.Errorf(" pattern: %q", testCase.pattern)
			t.Errorf("   error: %s", err.Error())
			continue
		}

		if !reflect.DeepEqual(matches, testCase.matches) {
			t.Errorf("incorrect matches list:")
			t.Errorf(" pattern: %q", testCase.pattern)
			t.Errorf("     got: %#v", matches)
			t.Errorf("expected: %#v", testCase.matches)
		}
		if !reflect.DeepEqual(dirs, testCase.dirs) {
			t.Errorf("incorrect dirs list:")
			t.Errorf(" pattern: %q", testCase.pattern)
			t.Errorf("     got: %#v", dirs)
			t.Errorf("expected: %#v", testCase.dirs)
		}
	}
}

func TestGlobPatternList(t *testing.T) {
	tmp := t.TempDir()
	writeTree(t, tmp, []string{
		"src/main.c",
		"src/util.c",
	})
	chdir(t, tmp)

	globbed, dirs, err := GlobPatternList([]string{"*.c", "generated.c"}, "src")
	if err != nil {
		t.Fatal(err)
	}

	// The non-wild pattern passes through without an existence check.
	expected := []string{"src/main.c", "src/util.c", "src/generated.c"}
	if !reflect.DeepEqual(globbed, expected) {
		t.Errorf("     got: %#v", globbed)
		t.Errorf("expected: %#v", expected)
	}
	if !reflect.DeepEqual(dirs, []string{"src"}) {
		t.Errorf("expected searched dirs [src], got %#v", dirs)
	}
}

func TestListFiles(t *testing.T) {
	tmp := t.TempDir()
	writeTree(t, tmp, []string{
		"res/icon.png",
		"res/strings/en.txt",
		"res/strings/fr.txt",
		"res/.DS_Store",
		"res/.cache/stale",
	})
	chdir(t, tmp)

	files, dirs, err := ListFiles("res")
	if err != nil {
		t.Fatal(err)
	}

	expectedFiles := []string{
		filepath.Join("res", "icon.png"),
		filepath.Join("res", "strings", "en.txt"),
		filepath.Join("res", "strings", "fr.txt"),
	}
	if !reflect.DeepEqual(files, expectedFiles) {
		t.Errorf("     got: %#v", files)
		t.Errorf("expected: %#v", expectedFiles)
	}

	expectedDirs := []string{"res", filepath.Join("res", "strings")}
	if !reflect.DeepEqual(dirs, expectedDirs) {
		t.Errorf("     got: %#v", dirs)
		t.Errorf("expected: %#v", expectedDirs)
	}
}
