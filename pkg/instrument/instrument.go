package instrument

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// Instrumenter handles the instrumentation of Go source code
type Instrumenter struct {
	config          *Config
	fset            *token.FileSet
	pkgName         string
	funcName        string // enclosing function declaration, "" at package level
	funcLits        int    // function literals seen in funcName so far
	instrumented    bool   // tracks if any instrumentation was added to current file
	anyInstrumented bool   // tracks if any file had instrumentation
}

// NewInstrumenter creates a new Instrumenter with the given config
func NewInstrumenter(config *Config) *Instrumenter {
	if config == nil {
		config = DefaultConfig()
	}

	// Generate runtime alias if not provided
	if config.RuntimeAlias == "" {
		config.RuntimeAlias = generateRuntimeAlias(config.BaseRuntimeAddress)
	}

	return &Instrumenter{
		config: config,
	}
}

// generateRuntimeAlias creates a deterministic mangled alias from the import path
// This ensures no conflicts with user imports
func generateRuntimeAlias(importPath string) string {
	hash := sha256.Sum256([]byte(importPath))
	// Take first 8 bytes and hex encode for a 16-char suffix
	return "__preempt_" + hex.EncodeToString(hash[:8])
}

// WasInstrumented returns true if any instrumentation was added during the last operation
func (instr *Instrumenter) WasInstrumented() bool {
	return instr.anyInstrumented
}

// InstrumentFile instruments a single Go source file
func (instr *Instrumenter) InstrumentFile(fset *token.FileSet, filename string, src interface{}) (*ast.File, error) {
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	return instr.InstrumentAST(fset, f)
}

// InstrumentFiles instruments multiple Go source files of one package
func (instr *Instrumenter) InstrumentFiles(fset *token.FileSet, filenames []string) ([]*ast.File, error) {
	files := make([]*ast.File, len(filenames))
	for i, filename := range filenames {
		f, err := parser.ParseFile(fset, filename, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		files[i] = f
	}

	return instr.InstrumentASTs(fset, files)
}

// InstrumentASTs instruments multiple already-parsed ASTs
func (instr *Instrumenter) InstrumentASTs(fset *token.FileSet, files []*ast.File) ([]*ast.File, error) {
	// Reset the any-instrumented flag for this batch
	instr.anyInstrumented = false

	for _, f := range files {
		instr.instrumentSingleAST(fset, f)
	}

	return files, nil
}

// InstrumentAST instruments an already-parsed AST
func (instr *Instrumenter) InstrumentAST(fset *token.FileSet, f *ast.File) (*ast.File, error) {
	instr.anyInstrumented = false
	instr.instrumentSingleAST(fset, f)
	return f, nil
}

// instrumentSingleAST performs the actual instrumentation on a single file
func (instr *Instrumenter) instrumentSingleAST(fset *token.FileSet, f *ast.File) {
	// Apply import rewrites
	for k, v := range instr.config.ImportRewrites {
		astutil.RewriteImport(fset, f, k, v)
	}

	instr.fset = fset
	instr.pkgName = f.Name.Name
	instr.funcName = ""
	instr.funcLits = 0
	instr.instrumented = false

	// Post-order: hooks inserted into a list are not walked again, and
	// function prologues are added after their bodies got line hooks.
	astutil.Apply(f, instr.enter, instr.leave)

	// Only add the import if instrumentation was actually added
	if instr.instrumented {
		instr.anyInstrumented = true
		astutil.AddNamedImport(fset, f, instr.config.RuntimeAlias, instr.config.BaseRuntimeAddress)
	}
}

func (instr *Instrumenter) enter(c *astutil.Cursor) bool {
	if fn, ok := c.Node().(*ast.FuncDecl); ok {
		if fn.Body == nil || hasIgnoreDirective(fn.Doc) {
			return false
		}
		instr.funcName = instr.qualifiedName(fn)
		instr.funcLits = 0
	}
	return true
}

func (instr *Instrumenter) leave(c *astutil.Cursor) bool {
	if stmt, ok := c.Node().(ast.Stmt); ok && inStmtList(c) {
		c.InsertBefore(instr.makeLineStmt(stmt.Pos()))
	}

	switch n := c.Node().(type) {
	case *ast.FuncDecl:
		instr.instrumentFuncBody(n.Body, instr.funcName)
		if instr.pkgName == "main" && n.Name.Name == "main" && n.Recv == nil {
			instr.instrumentMainFunction(n)
		}
		instr.funcName = ""
		instr.funcLits = 0
	case *ast.FuncLit:
		instr.funcLits++
		outer := instr.funcName
		if outer == "" {
			outer = instr.pkgName + ".init"
		}
		instr.instrumentFuncBody(n.Body, fmt.Sprintf("%s.func%d", outer, instr.funcLits))
	case *ast.ForStmt:
		instr.instrumentEmptyLoop(n.Body)
	case *ast.RangeStmt:
		instr.instrumentEmptyLoop(n.Body)
	}
	return true
}

// inStmtList reports whether the cursor is on an element of a statement
// list, the only place InsertBefore works for statements. Case and comm
// clauses are elements of a switch or select body but not statements one
// can put a call between.
func inStmtList(c *astutil.Cursor) bool {
	if c.Index() < 0 {
		return false
	}
	switch c.Node().(type) {
	case *ast.CaseClause, *ast.CommClause:
		return false
	}
	switch c.Parent().(type) {
	case *ast.BlockStmt, *ast.CaseClause, *ast.CommClause:
		return true
	}
	return false
}

func hasIgnoreDirective(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		if strings.TrimSpace(c.Text) == IgnoreDirective {
			return true
		}
	}
	return false
}

// qualifiedName names fn the way runtime stack traces do: pkg.F,
// pkg.T.M or pkg.(*T).M.
func (instr *Instrumenter) qualifiedName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return instr.pkgName + "." + fn.Name.Name
	}
	typ := fn.Recv.List[0].Type
	ptr := false
	if star, ok := typ.(*ast.StarExpr); ok {
		typ, ptr = star.X, true
	}
	switch t := typ.(type) {
	case *ast.IndexExpr:
		typ = t.X
	case *ast.IndexListExpr:
		typ = t.X
	}
	recv := "?"
	if id, ok := typ.(*ast.Ident); ok {
		recv = id.Name
	}
	if ptr {
		recv = "(*" + recv + ")"
	}
	return instr.pkgName + "." + recv + "." + fn.Name.Name
}

func (instr *Instrumenter) runtimeCall(name string, args ...ast.Expr) *ast.CallExpr {
	instr.instrumented = true
	return &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   &ast.Ident{Name: instr.config.RuntimeAlias},
			Sel: &ast.Ident{Name: name},
		},
		Args: args,
	}
}

func stringLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}

func (instr *Instrumenter) position(pos token.Pos) string {
	if !pos.IsValid() {
		return ""
	}
	p := instr.fset.Position(pos)
	return filepath.Base(p.Filename) + ":" + strconv.Itoa(p.Line)
}

func (instr *Instrumenter) makeLineStmt(pos token.Pos) ast.Stmt {
	return &ast.ExprStmt{X: instr.runtimeCall(instr.config.LineFunc, stringLit(instr.position(pos)))}
}

// instrumentFuncBody prepends: Call("name"); defer Return()
func (instr *Instrumenter) instrumentFuncBody(body *ast.BlockStmt, name string) {
	if body == nil {
		return
	}
	prologue := []ast.Stmt{
		&ast.ExprStmt{X: instr.runtimeCall(instr.config.CallFunc, stringLit(name))},
		&ast.DeferStmt{Call: instr.runtimeCall(instr.config.ReturnFunc)},
	}
	body.List = append(prologue, body.List...)
}

// instrumentEmptyLoop gives `for {}` a statement to report, so that a
// spinning loop still reaches the callback.
func (instr *Instrumenter) instrumentEmptyLoop(body *ast.BlockStmt) {
	if body == nil || len(body.List) > 0 {
		return
	}
	body.List = append(body.List, instr.makeLineStmt(body.Lbrace))
}

// instrumentMainFunction prepends: Initialize(); defer Finalize()
func (instr *Instrumenter) instrumentMainFunction(fn *ast.FuncDecl) {
	prologue := []ast.Stmt{
		&ast.ExprStmt{X: instr.runtimeCall(instr.config.InitializeFunc)},
		&ast.DeferStmt{Call: instr.runtimeCall(instr.config.FinalizeFunc)},
	}
	fn.Body.List = append(prologue, fn.Body.List...)
}

// WriteInstrumented writes the instrumented source to the given writer
func WriteInstrumented(w io.Writer, fset *token.FileSet, f *ast.File) error {
	return printer.Fprint(w, fset, f)
}
