package security

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

// checkGoSource walks the syntax tree of Go source and flags denylisted
// imports and dynamic code loading. When the source does not parse, it falls
// back to substring detection of the same symbols, matching the lower
// precision applied to languages without a structural parser.
func checkGoSource(source string) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "code.go", source, 0)
	if err != nil {
		return checkGoSourceFallback(source)
	}

	var found []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if goBlacklistedImports[path] {
			found = append(found, fmt.Sprintf("dangerous package import detected: %s", path))
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
			if pkg, ok := sel.X.(*ast.Ident); ok {
				// plugin.Open is the closest Go has to dynamic code
				// evaluation; exec.Command spawns arbitrary processes.
				if pkg.Name == "plugin" && sel.Sel.Name == "Open" {
					found = append(found, "dynamic code loading detected: plugin.Open")
				}
				if pkg.Name == "exec" && strings.HasPrefix(sel.Sel.Name, "Command") {
					found = append(found, "dangerous call detected: exec."+sel.Sel.Name)
				}
			}
		}
		return true
	})

	return found
}

func checkGoSourceFallback(source string) []string {
	var found []string
	for path := range goBlacklistedImports {
		if strings.Contains(source, strconv.Quote(path)) {
			found = append(found, fmt.Sprintf("dangerous package import detected: %s", path))
		}
	}
	return found
}

// suspectsUnboundedRecursion reports whether a function appears to call
// itself without any reachable conditional or loop construct. It is a coarse
// syntactic approximation: it misses recursion guarded by always-true
// conditions and false-positives on termination via other constructs, so the
// finding is surfaced as a warning rather than a violation.
func suspectsUnboundedRecursion(source, language string) bool {
	switch strings.ToLower(language) {
	case "go":
		return goUnboundedRecursion(source)
	case "python":
		return pythonUnboundedRecursion(source)
	default:
		return false
	}
}

func goUnboundedRecursion(source string) bool {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "code.go", source, 0)
	if err != nil {
		return false
	}

	suspect := false
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		selfCall := false
		hasBranch := false
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.CallExpr:
				if ident, ok := node.Fun.(*ast.Ident); ok && ident.Name == fn.Name.Name {
					selfCall = true
				}
			case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.SelectStmt:
				hasBranch = true
			}
			return true
		})
		if selfCall && !hasBranch {
			suspect = true
		}
	}
	return suspect
}

var pythonDefRe = regexp.MustCompile(`(?m)^(\s*)def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// pythonUnboundedRecursion applies the same heuristic to Python source by
// scanning each def's indented body for a self-call without if/while/for.
func pythonUnboundedRecursion(source string) bool {
	lines := strings.Split(source, "\n")
	matches := pythonDefRe.FindAllStringSubmatchIndex(source, -1)
	for _, m := range matches {
		indent := source[m[2]:m[3]]
		name := source[m[4]:m[5]]

		defLine := strings.Count(source[:m[0]], "\n")
		selfCall := false
		hasBranch := false
		for i := defLine + 1; i < len(lines); i++ {
			line := lines[i]
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			// Body ends at the first line back at or above def's indentation.
			if !strings.HasPrefix(line, indent+" ") && !strings.HasPrefix(line, indent+"\t") {
				break
			}
			if strings.Contains(trimmed, name+"(") {
				selfCall = true
			}
			if strings.HasPrefix(trimmed, "if ") || strings.HasPrefix(trimmed, "while ") ||
				strings.HasPrefix(trimmed, "for ") || strings.HasPrefix(trimmed, "elif ") {
				hasBranch = true
			}
		}
		if selfCall && !hasBranch {
			return true
		}
	}
	return false
}
