package frontier

import (
	"fmt"
	"go/ast"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
)

// LoadBinaryInfo loads pkgPath with golang.org/x/tools/go/packages and
// derives a BinaryInfo from its function declarations: every named
// function and method gets a contiguous PC range sized by its
// (approximate) statement count. This stands in for the instrumented
// binary's real PC table when the target is a Go package rather than
// an opaque external binary, letting the frontier/function-filter
// machinery run against Go targets without needing a separate
// disassembly step.
func LoadBinaryInfo(pkgPath string) (BinaryInfo, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedSyntax | packages.NeedTypes,
		Env:  os.Environ(),
	}
	pkgs, err := packages.Load(cfg, pkgPath)
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("frontier: loading %s: %w", pkgPath, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return BinaryInfo{}, fmt.Errorf("frontier: %s has type errors", pkgPath)
	}

	var funcs []FuncInfo
	var nextPC uint64
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, file := range p.Syntax {
			ast.Inspect(file, func(n ast.Node) bool {
				fd, ok := n.(*ast.FuncDecl)
				if !ok || fd.Body == nil {
					return true
				}
				size := countStmts(fd.Body)
				if size == 0 {
					size = 1
				}
				name := fd.Name.Name
				if fd.Recv != nil && len(fd.Recv.List) > 0 {
					name = p.PkgPath + "." + recvTypeName(fd.Recv) + "." + name
				} else {
					name = p.PkgPath + "." + name
				}
				funcs = append(funcs, FuncInfo{Name: name, PCBegin: nextPC, PCEnd: nextPC + uint64(size)})
				nextPC += uint64(size)
				return true
			})
		}
	})
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Name < funcs[j].Name })
	return BinaryInfo{NumPCs: int(nextPC), Funcs: funcs}, nil
}

func recvTypeName(recv *ast.FieldList) string {
	expr := recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if id, ok := expr.(*ast.Ident); ok {
		return id.Name
	}
	return "?"
}

// countStmts counts the statements directly and transitively nested
// in body, a rough proxy for the number of instrumentable edges.
func countStmts(body *ast.BlockStmt) int {
	n := 0
	ast.Inspect(body, func(node ast.Node) bool {
		if _, ok := node.(ast.Stmt); ok {
			n++
		}
		return true
	})
	return n
}
