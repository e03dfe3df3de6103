// Copyright 2025 The Gantry Authors. All rights reserved.
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
	"path/filepath"
	"strings"

	"github.com/gantry-build/gantry/pathtools"
)

// Keys seeded into the derived scope an asset carries through the pipeline.
// Plugins read them to place products and assemble command lines; they are
// not meant to appear in description files.
const (
	objDirKey   = "_OBJ_DIR"
	genDirKey   = "_GEN_DIR"
	includesKey = "_INCLUDES"
	preludeKey  = "_PRELUDE"
)

func registerBuiltinPlugins(c *Context) {
	c.RegisterPlugin(&compilePlugin{
		name: "cc", rule: ruleCC, flagsKey: "C_FLAGS",
		mappings: []Mapping{{InSuffix: ".c", OutSuffix: ".o"}},
	})
	c.RegisterPlugin(&compilePlugin{
		name: "cxx", rule: ruleCXX, flagsKey: "CXX_FLAGS",
		mappings: []Mapping{{InSuffix: ".cpp", OutSuffix: ".o", Aliases: []string{".cc", ".cxx"}}},
	})
	c.RegisterPlugin(&compilePlugin{
		name: "objc", rule: ruleObjC, flagsKey: "OBJC_FLAGS",
		mappings: []Mapping{{InSuffix: ".m", OutSuffix: ".o"}},
	})
	c.RegisterPlugin(&compilePlugin{
		name: "objcxx", rule: ruleObjCXX, flagsKey: "OBJCXX_FLAGS",
		mappings: []Mapping{{InSuffix: ".mm", OutSuffix: ".o"}},
	})
	c.RegisterPlugin(&compilePlugin{
		name: "as", rule: ruleAS, flagsKey: "AS_FLAGS",
		mappings: []Mapping{{InSuffix: ".s", OutSuffix: ".o", Aliases: []string{".S"}}},
	})
	c.RegisterPlugin(&yaccPlugin{})
	c.RegisterPlugin(&pchPlugin{})
	c.RegisterPlugin(&resourcePlugin{
		name: "ibtool", rule: ruleIbtool,
		mapping: Mapping{InSuffix: ".xib", OutSuffix: ".nib"},
		outName: func(stem string) string { return stem + ".nib" },
	})
	c.RegisterPlugin(&resourcePlugin{
		name: "actool", rule: ruleActool,
		mapping: Mapping{InSuffix: ".xcassets", OutSuffix: ".car"},
		// actool names its own product inside the directory it is given.
		outName: func(stem string) string { return filepath.Join(stem, "Assets.car") },
		args: func(out string) map[string]string {
			return map[string]string{"outdir": filepath.Dir(out)}
		},
	})
	c.RegisterPlugin(&resourcePlugin{
		name: "momc", rule: ruleMomc,
		mapping: Mapping{InSuffix: ".xcdatamodeld", OutSuffix: ".momd"},
		outName: func(stem string) string { return stem + ".momd" },
	})
	c.RegisterPlugin(&resourcePlugin{
		name: "pngopt", rule: rulePngopt,
		mapping: Mapping{InSuffix: ".png", OutSuffix: ".png"},
		// Same suffix in and out, so the product is namespaced under the
		// plugin name to keep it apart from its own input.
		outName: func(stem string) string { return filepath.Join("pngopt", stem+".png") },
	})
	c.RegisterPlugin(&docgenPlugin{})
}

var (
	ruleCC = &RuleDef{
		Name:        "cc",
		Command:     "$cc -MMD -MF $out.d $flags -c $in -o $out",
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Description: "CC $out",
	}
	ruleCXX = &RuleDef{
		Name:        "cxx",
		Command:     "$cxx -MMD -MF $out.d $flags -c $in -o $out",
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Description: "CXX $out",
	}
	ruleObjC = &RuleDef{
		Name:        "objc",
		Command:     "$cc -MMD -MF $out.d $flags -c $in -o $out",
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Description: "OBJC $out",
	}
	ruleObjCXX = &RuleDef{
		Name:        "objcxx",
		Command:     "$cxx -MMD -MF $out.d $flags -c $in -o $out",
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Description: "OBJCXX $out",
	}
	ruleAS = &RuleDef{
		Name:        "as",
		Command:     "$cc -MMD -MF $out.d $flags -c $in -o $out",
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Description: "AS $out",
	}
	ruleYacc = &RuleDef{
		Name:        "yacc",
		Command:     "$yacc -d $flags -o $out $in",
		Description: "YACC $out",
	}
	rulePCH = &RuleDef{
		Name:        "pch",
		Command:     "$cc -MMD -MF $out.d $flags -c $in -o $out",
		Depfile:     "$out.d",
		Deps:        DepsGCC,
		Description: "PCH $out",
	}
	ruleIbtool = &RuleDef{
		Name:        "ibtool",
		Command:     "$ibtool --errors --warnings --output-format human-readable-text --compile $out $in",
		Description: "IBTOOL $out",
	}
	ruleActool = &RuleDef{
		Name:        "actool",
		Command:     "$actool --output-format human-readable-text --compile $outdir $in > /dev/null",
		Description: "ACTOOL $out",
	}
	ruleMomc = &RuleDef{
		Name:        "momc",
		Command:     "$momc $in $out",
		Description: "MOMC $out",
	}
	rulePngopt = &RuleDef{
		Name:        "pngopt",
		Command:     "$pngcrush -q $in $out",
		Description: "PNGOPT $out",
	}
	ruleDocgen = &RuleDef{
		Name:        "docgen",
		Command:     "$markdown $docflags -o $out $in",
		Description: "DOCGEN $out",
	}
)

// compilePlugin turns a source file of one language into an object file.
// There is one instance per language so each carries its own rule, flag
// setting and exclusion identity.
type compilePlugin struct {
	name     string
	rule     *RuleDef
	flagsKey string
	mappings []Mapping
}

func (p *compilePlugin) Name() string        { return p.name }
func (p *compilePlugin) Mappings() []Mapping { return p.mappings }

func (p *compilePlugin) Setup(ctx *Context) error {
	ctx.AddRule(p.rule)
	return nil
}

func (p *compilePlugin) Transform(ctx *Context, a Asset) ([]Asset, error) {
	m, suffix, _ := matchMapping(p.mappings, a.Path)
	objDir, _ := a.Scope.Get(objDirKey)
	out := filepath.Join(objDir, pathtools.ReplaceSuffix(ctx.stemFor(a), suffix, m.OutSuffix))

	flags, err := compileFlags(a.Scope, p.flagsKey)
	if err != nil {
		return nil, err
	}
	prelude, err := a.Scope.AccumulateList(preludeKey)
	if err != nil {
		return nil, err
	}

	action := &BuildAction{
		Rule:      p.rule.Name,
		Outputs:   []string{out},
		Inputs:    []string{a.Path},
		Implicits: prelude,
	}
	if flags != "" {
		action.Args = map[string]string{"flags": flags}
	}
	ctx.addAction(action)

	return []Asset{{Path: out, Scope: a.Scope}}, nil
}

// compileFlags builds the flags binding for a compile action: the minimum
// platform version, accumulated FLAGS plus the per-language variant, one -I
// per include root, and the precompiled prelude.
func compileFlags(scope *Scope, langKey string) (string, error) {
	var parts []string

	if v, ok := scope.Get("PLATFORM_MIN_VERSION"); ok && v != "" {
		parts = append(parts, "-mmacosx-version-min="+v)
	}
	if flags := scope.Accumulate("FLAGS"); flags != "" {
		parts = append(parts, flags)
	}
	if flags := scope.Accumulate(langKey); flags != "" {
		parts = append(parts, flags)
	}

	includes, err := scope.AccumulateList(includesKey)
	if err != nil {
		return "", err
	}
	for _, dir := range dedup(includes) {
		parts = append(parts, quoteFlag("-I"+dir))
	}

	prelude, err := scope.AccumulateList(preludeKey)
	if err != nil {
		return "", err
	}
	for _, pch := range prelude {
		parts = append(parts, "-include-pch", quoteFlag(pch))
	}

	return strings.Join(parts, " "), nil
}

// yaccPlugin turns a grammar into a generated parser source plus its header.
// The derived asset carries a scope whose include path gains the generation
// directory, since the generated source includes the generated header.
type yaccPlugin struct{}

func (p *yaccPlugin) Name() string { return "yacc" }

func (p *yaccPlugin) Mappings() []Mapping {
	return []Mapping{{InSuffix: ".y", OutSuffix: ".c"}}
}

func (p *yaccPlugin) Setup(ctx *Context) error {
	ctx.AddRule(ruleYacc)
	return nil
}

func (p *yaccPlugin) Transform(ctx *Context, a Asset) ([]Asset, error) {
	stem := ctx.stemFor(a)
	genDir, _ := a.Scope.Get(genDirKey)
	outSource := filepath.Join(genDir, pathtools.ReplaceSuffix(stem, ".y", ".tab.c"))
	outHeader := filepath.Join(genDir, pathtools.ReplaceSuffix(stem, ".y", ".tab.h"))

	ctx.addAction(&BuildAction{
		Rule:            ruleYacc.Name,
		Outputs:         []string{outSource},
		ImplicitOutputs: []string{outHeader},
		Inputs:          []string{a.Path},
	})

	scope := a.Scope.Derive(map[string]interface{}{
		includesKey: []string{genDir},
	}, "")

	return []Asset{{Path: outSource, Scope: scope}}, nil
}

// pchPlugin precompiles a prelude header.  Products keep their full name
// plus .gch so clang associates them with the original header.
type pchPlugin struct{}

func (p *pchPlugin) Name() string { return "pch" }

func (p *pchPlugin) Mappings() []Mapping {
	return []Mapping{{InSuffix: ".h", OutSuffix: ".gch"}}
}

func (p *pchPlugin) Setup(ctx *Context) error {
	ctx.AddRule(rulePCH)
	return nil
}

func (p *pchPlugin) Transform(ctx *Context, a Asset) ([]Asset, error) {
	objDir, _ := a.Scope.Get(objDirKey)
	out := filepath.Join(objDir, ctx.stemFor(a)+".gch")

	lang, ok := a.Scope.Get("PCH_LANG")
	if !ok || lang == "" {
		lang = "c++-header"
	}
	flags, err := compileFlags(a.Scope, "PCH_FLAGS")
	if err != nil {
		return nil, err
	}
	flags = strings.TrimSpace("-x " + lang + " " + flags)

	ctx.addAction(&BuildAction{
		Rule:    rulePCH.Name,
		Outputs: []string{out},
		Inputs:  []string{a.Path},
		Args:    map[string]string{"flags": flags},
	})

	return []Asset{{Path: out, Scope: a.Scope}}, nil
}

// resourcePlugin runs one opaque resource-compiler tool over an asset and
// yields a single product under the generation directory.
type resourcePlugin struct {
	name    string
	rule    *RuleDef
	mapping Mapping
	outName func(stem string) string
	args    func(out string) map[string]string
}

func (p *resourcePlugin) Name() string        { return p.name }
func (p *resourcePlugin) Mappings() []Mapping { return []Mapping{p.mapping} }

func (p *resourcePlugin) Setup(ctx *Context) error {
	ctx.AddRule(p.rule)
	return nil
}

func (p *resourcePlugin) Transform(ctx *Context, a Asset) ([]Asset, error) {
	_, suffix, _ := matchMapping([]Mapping{p.mapping}, a.Path)
	stem := strings.TrimSuffix(ctx.stemFor(a), suffix)
	genDir, _ := a.Scope.Get(genDirKey)
	out := filepath.Join(genDir, p.outName(stem))

	action := &BuildAction{
		Rule:    p.rule.Name,
		Outputs: []string{out},
		Inputs:  []string{a.Path},
	}
	if p.args != nil {
		action.Args = p.args(out)
	}
	ctx.addAction(action)

	return []Asset{{Path: out, Scope: a.Scope}}, nil
}

// docgenPlugin renders markdown documentation, wrapping it with the
// configured header and footer fragments when present.
type docgenPlugin struct{}

func (p *docgenPlugin) Name() string { return "docgen" }

func (p *docgenPlugin) Mappings() []Mapping {
	return []Mapping{{InSuffix: ".md", OutSuffix: ".html"}}
}

func (p *docgenPlugin) Setup(ctx *Context) error {
	ctx.AddRule(ruleDocgen)
	return nil
}

func (p *docgenPlugin) Transform(ctx *Context, a Asset) ([]Asset, error) {
	genDir, _ := a.Scope.Get(genDirKey)
	out := filepath.Join(genDir, pathtools.ReplaceSuffix(ctx.stemFor(a), ".md", ".html"))

	var docflags []string
	var implicits []string
	if header, ok := a.Scope.GetPath("DOC_HEADER"); ok && header != "" {
		docflags = append(docflags, "--header", quoteFlag(header))
		implicits = append(implicits, header)
	}
	if footer, ok := a.Scope.GetPath("DOC_FOOTER"); ok && footer != "" {
		docflags = append(docflags, "--footer", quoteFlag(footer))
		implicits = append(implicits, footer)
	}

	action := &BuildAction{
		Rule:      ruleDocgen.Name,
		Outputs:   []string{out},
		Inputs:    []string{a.Path},
		Implicits: implicits,
	}
	if len(docflags) > 0 {
		action.Args = map[string]string{"docflags": strings.Join(docflags, " ")}
	}
	ctx.addAction(action)

	return []Asset{{Path: out, Scope: a.Scope}}, nil
}

// quoteFlag makes one shell word out of a flag token, quoting tokens that
// carry spaces or a variable reference whose expansion belongs to the
// executor.
func quoteFlag(s string) string {
	if s == "" {
		return s
	}
	if strings.ContainsAny(s, " \t$") && !strings.HasPrefix(s, "'") {
		return "'" + s + "'"
	}
	return s
}

func dedup(list []string) []string {
	seen := make(map[string]bool, len(list))
	result := make([]string, 0, len(list))
	for _, s := range list {
		if seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	return result
}
