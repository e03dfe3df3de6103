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

// Gantry is a meta-build system that reads target-description files and
// produces a Ninja (https://ninja-build.org) manifest describing the commands
// that need to be run and their dependencies.  A description file is a flat
// list of KEY = value settings; a file that sets TARGET_NAME declares a
// buildable target, and a file that sets TARGETS pulls further description
// files in underneath its own settings, so configuration flows from shared
// files down to the targets they include.  For example, a small project might
// look like:
//
//	# proj.gantry
//	FLAGS = -Wall
//	TARGETS = lib/lib.gantry app/app.gantry
//
//	# lib/lib.gantry
//	TARGET_NAME = util
//	SOURCES = *.c
//	EXPORT = util.h
//
//	# app/app.gantry
//	TARGET_NAME = app
//	SOURCES = main.c
//	LINK = util
//	CP_Resources = icon.png
//
// Each source file is pushed through a suffix-keyed pipeline of transform
// plugins until only terminal artifacts remain, so a .y file becomes a .c
// file becomes a .o file without any of the steps being special-cased.
// Targets that nobody links against are roots: a root either links into a
// plain signed executable, or, when any resource category (CP_*) is in play,
// assembles into a signed bundle tree with its resources staged inside.
// Roots embedding other roots as resources are ordered so the embedded
// bundle's manifest is complete before the embedder consumes it.
//
// The generator regenerates its own manifest: alongside the output it writes
// a dependency file naming every description file read and every directory
// globbed, and before overwriting a previous manifest it asks the build
// executor which outputs that manifest declared, deleting the ones the new
// graph no longer produces.
package gantry
