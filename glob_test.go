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
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestGlobCache(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"src/a.c": "",
		"src/b.c": "",
	})

	matches, err := ctx.glob("src/*.c")
	require.NoError(t, err)
	require.Equal(t, []string{"src/a.c", "src/b.c"}, matches)

	// A pattern is expanded once per run; later filesystem changes are
	// invisible until the generator reruns.
	require.NoError(t, os.Remove("src/b.c"))
	again, err := ctx.glob("src/*.c")
	require.NoError(t, err)
	require.Equal(t, matches, again)

	require.Equal(t, []string{"src"}, ctx.globbedDirs())
}

func TestGlobList(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry":    "EXTRAS = shared/*.c\nTARGETS = app/app.gantry\n",
		"app/app.gantry": "TARGET_NAME = app\nEXTRAS = local/*.c @helper\n",
		"app/local/l1.c": "",
		"app/local/l2.c": "",
		"shared/s.c":     "",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	files, refs, err := ctx.globList(ctx.targets["app"].scope, "EXTRAS")
	require.NoError(t, err)

	// Tokens gather leaf first, each expanded against the directory of
	// the file that wrote them; references come back separately, sigil
	// stripped.
	want := []string{"app/local/l1.c", "app/local/l2.c", "shared/s.c"}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"helper"}, refs)

	require.Equal(t, []string{"app/local", "shared"}, ctx.globbedDirs())
}

func TestGlobListNonWildPassthrough(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry":    "TARGETS = app/app.gantry\n",
		"app/app.gantry": "TARGET_NAME = app\nEXTRAS = missing.c /opt/vendor/v.c\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	// Without wildcards nothing touches the filesystem: a file that a
	// rule generates later survives expansion, and an absolute path is
	// taken as is.
	files, refs, err := ctx.globList(ctx.targets["app"].scope, "EXTRAS")
	require.NoError(t, err)
	require.Equal(t, []string{"app/missing.c", "/opt/vendor/v.c"}, files)
	require.Empty(t, refs)
	require.Empty(t, ctx.globbedDirs())
}

func TestGlobListBadQuoting(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGET_NAME = app\nEXTRAS = \"unclosed\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	_, _, err := ctx.globList(ctx.targets["app"].scope, "EXTRAS")
	require.Error(t, err)
	require.Contains(t, err.Error(), "EXTRAS")
}
