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

package main

import (
	"bytes"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/gantry-build/gantry"
	"github.com/gantry-build/gantry/deptools"
)

var cli struct {
	Output   string            `short:"o" default:"build.ninja" placeholder:"FILE" help:"Path of the manifest to write."`
	BuildDir string            `short:"b" default:"." placeholder:"DIR" help:"Directory that receives intermediate and final build outputs."`
	Define   map[string]string `short:"D" placeholder:"NAME=VALUE" help:"Define a variable, visible to every description file and written into the manifest."`
	Root     string            `arg:"" help:"Root target-description file."`
}

// The entry point for the gantry generator.
//
// Reads the description tree, assembles the build graph, and writes the
// manifest plus its companion depfile.  Any configuration error exits
// non-zero with a diagnostic.
func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	kong.Parse(&cli,
		kong.Name("gantry"),
		kong.Description("Generates a ninja manifest from target-description files."),
		kong.UsageOnError(),
	)

	ctx := gantry.NewContext(cli.BuildDir)

	names := make([]string, 0, len(cli.Define))
	for name := range cli.Define {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.DefineVariable(name, cli.Define[name]); err != nil {
			fatalErrors([]error{err})
		}
	}

	if errs := ctx.LoadTargets(cli.Root); len(errs) > 0 {
		fatalErrors(errs)
	}
	if errs := ctx.ResolveGraph(); len(errs) > 0 {
		fatalErrors(errs)
	}
	if err := ctx.AssembleAll(); err != nil {
		fatalErrors([]error{err})
	}

	ctx.SetRegenCommand(strings.Join(os.Args, " "), cli.Output)

	// The previous manifest has to be queried before it is overwritten.
	previous, havePrevious := ctx.PreviousOutputs(cli.Output)

	buf := bytes.NewBuffer(nil)
	if err := ctx.WriteBuildFile(buf); err != nil {
		fatalErrors([]error{err})
	}

	const outFilePermissions = 0666
	if err := os.WriteFile(cli.Output, buf.Bytes(), outFilePermissions); err != nil {
		fatalErrors([]error{err})
	}
	if err := deptools.WriteDepFile(cli.Output+".d", cli.Output, ctx.RegenerationInputs()); err != nil {
		fatalErrors([]error{err})
	}

	if havePrevious {
		ctx.Cleanup(previous)
	}
}

func fatalErrors(errs []error) {
	for _, err := range errs {
		switch e := err.(type) {
		case *gantry.Error:
			slog.Error(e.Err.Error(), "pos", e.Pos)
		default:
			slog.Error(err.Error())
		}
	}
	os.Exit(1)
}
