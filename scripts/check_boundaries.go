package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const moduleRoot = "ordercore"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule lists what a service layer may import besides the standard
// library. Prefixes starting with "/" are relative to the owning service.
type layerRule struct {
	allowed []string
}

var layerRules = map[string]layerRule{
	"domain": {allowed: []string{
		"/domain",
		"github.com/shopspring/decimal",
	}},
	"ports": {allowed: []string{
		"/domain",
		moduleRoot + "/contracts",
		"github.com/shopspring/decimal",
	}},
	"application": {allowed: []string{
		"/application",
		"/domain",
		"/ports",
		moduleRoot + "/contracts",
		"github.com/shopspring/decimal",
		"golang.org/x/sync",
	}},
	"transport": {allowed: []string{
		"/domain",
		"/transport",
	}},
}

// Drivers and SDKs stay behind adapters so the core can run on the memory
// store alone.
var infrastructureImports = []string{
	"gorm.io",
	"github.com/jackc/pgx",
	"github.com/rabbitmq/amqp091-go",
	"github.com/redis/go-redis",
	"github.com/go-redsync/redsync",
	"github.com/segmentio/kafka-go",
	"github.com/sony/gobreaker",
	"github.com/prometheus/client_golang",
	"github.com/google/uuid",
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Import < violations[j].Import
	})

	fmt.Printf("%d boundary violations found:\n", len(violations))
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, relErr := filepath.Rel(filepath.Dir(root), path)
		if relErr != nil {
			return nil
		}
		location, ok := locate(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		violations = append(violations, checkFile(path, location)...)
		return nil
	})

	return violations
}

// fileLocation places a file inside contexts/<context>/<service>/<layer>/<package>.
type fileLocation struct {
	path    string
	service string
	layer   string
	pkg     string
}

func locate(normalized string) (fileLocation, bool) {
	parts := strings.Split(normalized, "/")
	if len(parts) < 4 || parts[0] != "contexts" {
		return fileLocation{}, false
	}
	loc := fileLocation{
		path:    normalized,
		service: fmt.Sprintf("%s/contexts/%s/%s", moduleRoot, parts[1], parts[2]),
		layer:   parts[3],
	}
	if len(parts) == 4 {
		// module.go and doc.go at the service root compose the layers.
		loc.layer = ""
	} else if len(parts) > 5 {
		loc.pkg = parts[4]
	}
	return loc, true
}

func checkFile(path string, loc fileLocation) []violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: loc.path, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		line := fset.Position(imp.Pos()).Line
		for _, rule := range checkImport(loc, importPath) {
			violations = append(violations, violation{File: loc.path, Line: line, Import: importPath, Rule: rule})
		}
	}
	return violations
}

func checkImport(loc fileLocation, importPath string) []string {
	var broken []string

	if hasPrefix(importPath, moduleRoot+"/contexts") && !hasPrefix(importPath, loc.service) {
		broken = append(broken, "cross-service imports are forbidden")
	}
	if loc.layer == "" {
		return broken
	}

	if loc.layer != "adapters" && isAllowed(importPath, infrastructureImports) {
		broken = append(broken, loc.layer+" must not import infrastructure drivers")
	}
	if loc.layer == "adapters" && loc.pkg != "" {
		own := loc.service + "/adapters/" + loc.pkg
		if hasPrefix(importPath, loc.service+"/adapters") && !hasPrefix(importPath, own) {
			broken = append(broken, "adapters must not import sibling adapters")
		}
		if hasPrefix(importPath, loc.service+"/application/workers") {
			broken = append(broken, "adapters must not drive workers")
		}
	}

	rule, ok := layerRules[loc.layer]
	if !ok {
		return broken
	}
	if hasPrefix(importPath, moduleRoot+"/internal") {
		broken = append(broken, loc.layer+" must not import runtime infrastructure")
	}
	if !isStdlib(importPath) && !isAllowed(importPath, rule.resolve(loc.service)) {
		broken = append(broken, loc.layer+" import is outside explicit allowlist")
	}
	return broken
}

func (r layerRule) resolve(service string) []string {
	resolved := make([]string, 0, len(r.allowed))
	for _, prefix := range r.allowed {
		if strings.HasPrefix(prefix, "/") {
			prefix = service + prefix
		}
		resolved = append(resolved, prefix)
	}
	return resolved
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, allowedPrefixes []string) bool {
	for _, p := range allowedPrefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, moduleRoot) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
