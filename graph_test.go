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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestResolveGraphUndefinedReferences(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = app.gantry\n",
		"app.gantry": strings.Join([]string{
			"TARGET_NAME = app",
			"SOURCES = main.c",
			"LINK = gone",
			"CP_Resources = @ghost",
		}, "\n") + "\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	errs := ctx.ResolveGraph()
	require.Len(t, errs, 2)
	require.Contains(t, errs[0].Error(), `target "app": LINK references undefined target "gone"`)
	require.Contains(t, errs[0].Error(), "app.gantry:3",
		"the error should point at the LINK line")
	require.Contains(t, errs[1].Error(), `target "app": CP_Resources references undefined target "ghost"`)
	require.Contains(t, errs[1].Error(), "app.gantry:4")
}

func TestResolveGraphLinkCycle(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = a.gantry b.gantry\n",
		"a.gantry":    "TARGET_NAME = A\nSOURCES = a.c\nLINK = B\n",
		"b.gantry":    "TARGET_NAME = B\nSOURCES = b.c\nLINK = A\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	errs := ctx.ResolveGraph()
	require.Len(t, errs, 3)
	require.Contains(t, errs[0].Error(), "encountered dependency cycle:")
	require.Contains(t, errs[1].Error(), `"A" links "B"`)
	require.Contains(t, errs[2].Error(), `"B" links "A"`)
}

func TestResolveGraphRoots(t *testing.T) {
	// The reference sigil is accepted on LINK entries but not required.
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = a.gantry b.gantry c.gantry d.gantry\n",
		"a.gantry":    "TARGET_NAME = A\nSOURCES = a.c\nLINK = @B\n",
		"b.gantry":    "TARGET_NAME = B\nSOURCES = b.c\nLINK = C\n",
		"c.gantry":    "TARGET_NAME = C\nSOURCES = c.c\n",
		"d.gantry":    "TARGET_NAME = D\nSOURCES = d.c\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}
	if errs := ctx.ResolveGraph(); len(errs) > 0 {
		t.Fatalf("ResolveGraph: %v", errs)
	}
	require.True(t, ctx.resolved)

	// A target named in any LINK list is not a root, however it is reached.
	var roots []string
	for _, root := range ctx.roots {
		roots = append(roots, root.name)
	}
	if diff := cmp.Diff([]string{"A", "D"}, roots); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
	require.False(t, ctx.isRoot(ctx.targets["B"]))
	require.False(t, ctx.isRoot(ctx.targets["C"]))
}

func TestResolveGraphEmbeddingOrder(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry":  "TARGETS = outer.gantry mid.gantry inner.gantry\n",
		"outer.gantry": "TARGET_NAME = outer\nSOURCES = o.c\nCP_Resources = @mid\n",
		"mid.gantry":   "TARGET_NAME = mid\nSOURCES = m.c\nCP_Resources = @inner\n",
		"inner.gantry": "TARGET_NAME = inner\nSOURCES = i.c\nCP_Resources = logo.txt\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}
	if errs := ctx.ResolveGraph(); len(errs) > 0 {
		t.Fatalf("ResolveGraph: %v", errs)
	}

	// An embedded bundle must be assembled, signature and all, before any
	// bundle that lifts its staged tree.
	var order []string
	for _, root := range ctx.roots {
		order = append(order, root.name)
	}
	if diff := cmp.Diff([]string{"inner", "mid", "outer"}, order); diff != "" {
		t.Errorf("assembly order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveGraphEmbeddingCycle(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = a.gantry b.gantry\n",
		"a.gantry":    "TARGET_NAME = A\nSOURCES = a.c\nCP_Resources = @B\n",
		"b.gantry":    "TARGET_NAME = B\nSOURCES = b.c\nCP_Resources = @A\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	errs := ctx.ResolveGraph()
	require.Len(t, errs, 3)
	require.Contains(t, errs[0].Error(), "encountered embedding cycle:")
	require.Contains(t, errs[1].Error(), `"A" embeds "B"`)
	require.Contains(t, errs[1].Error(), "a.gantry:3",
		"the error should point at the resource line")
	require.Contains(t, errs[2].Error(), `"B" embeds "A"`)
}

func TestResolveGraphSelfEmbedding(t *testing.T) {
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = app.gantry\n",
		"app.gantry":  "TARGET_NAME = app\nSOURCES = main.c\nCP_Resources = @app\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	errs := ctx.ResolveGraph()
	require.Len(t, errs, 2)
	require.Contains(t, errs[0].Error(), "encountered embedding cycle:")
	require.Contains(t, errs[1].Error(), `"app" embeds "app"`)
	require.Contains(t, errs[1].Error(), "app.gantry:3")
}

func TestResolveGraphEmbeddingCycleNonRoots(t *testing.T) {
	// X and Y are link dependencies, not roots; their manifests still
	// import each other, so the loop is just as fatal.
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = app.gantry x.gantry y.gantry\n",
		"app.gantry":  "TARGET_NAME = app\nSOURCES = main.c\nLINK = X Y\n",
		"x.gantry":    "TARGET_NAME = X\nSOURCES = x.c\nCP_Resources = @Y\n",
		"y.gantry":    "TARGET_NAME = Y\nSOURCES = y.c\nCP_Resources = @X\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	errs := ctx.ResolveGraph()
	require.Len(t, errs, 3)
	require.Contains(t, errs[0].Error(), "encountered embedding cycle:")
	require.Contains(t, errs[1].Error(), `"X" embeds "Y"`)
	require.Contains(t, errs[2].Error(), `"Y" embeds "X"`)
}

func TestResolveGraphLiftedEmbeddingCycle(t *testing.T) {
	// No target references another in a loop: each root's bundle lifts
	// the other's assembled tree through a reference one of its libraries
	// makes.  The cycle only exists in the relation lifted to the roots,
	// so root ordering is what reports it.
	ctx := setupProject(t, map[string]string{
		"root.gantry": "TARGETS = a.gantry x.gantry b.gantry y.gantry\n",
		"a.gantry":    "TARGET_NAME = A\nSOURCES = a.c\nLINK = X\n",
		"x.gantry":    "TARGET_NAME = X\nSOURCES = x.c\nCP_Resources = @B\n",
		"b.gantry":    "TARGET_NAME = B\nSOURCES = b.c\nLINK = Y\n",
		"y.gantry":    "TARGET_NAME = Y\nSOURCES = y.c\nCP_Resources = @A\n",
	})
	if errs := ctx.LoadTargets("root.gantry"); len(errs) > 0 {
		t.Fatalf("LoadTargets: %v", errs)
	}

	errs := ctx.ResolveGraph()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), `encountered embedding cycle among "A", "B"`)
}
