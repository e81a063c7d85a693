package instrument_test

import (
	"bytes"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amirkhaki/preempt/pkg/instrument"
)

func instrumentSource(t *testing.T, src string) string {
	t.Helper()
	instr := instrument.NewInstrumenter(nil)
	fset := token.NewFileSet()

	f, err := instr.InstrumentFile(fset, "test.go", src)
	if err != nil {
		t.Fatalf("InstrumentFile failed: %v", err)
	}

	var buf bytes.Buffer
	if err := instrument.WriteInstrumented(&buf, fset, f); err != nil {
		t.Fatalf("Failed to print AST: %v", err)
	}
	return buf.String()
}

func TestInstrumentFile(t *testing.T) {
	src := `package main

func main() {
	x := 10
	x = 20
}
`
	result := instrumentSource(t, src)

	// Check that runtime package is imported
	if !strings.Contains(result, instrument.DefaultRuntimeAddress) {
		t.Error("Expected runtime package import")
	}

	// Check that mangled alias is used (starts with __preempt_)
	if !strings.Contains(result, "__preempt_") {
		t.Error("Expected mangled runtime alias starting with __preempt_")
	}

	for _, want := range []string{
		`.Line("test.go:4")`,
		`.Line("test.go:5")`,
		`.Call("main.main")`,
		`.Return()`,
		`.Initialize()`,
		`.Finalize()`,
	} {
		if !strings.Contains(result, want) {
			t.Errorf("Expected %s in output:\n%s", want, result)
		}
	}

	// Each statement gets its Line right before it
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		if strings.Contains(line, "x = 20") {
			if i == 0 || !strings.Contains(lines[i-1], `Line("test.go:5")`) {
				t.Errorf("Expected Line hook before x = 20, got %q", lines[i-1])
			}
		}
	}
}

func TestMainPrologueOrder(t *testing.T) {
	src := `package main

func main() {
	println("hi")
}
`
	result := instrumentSource(t, src)

	ini := strings.Index(result, ".Initialize()")
	fin := strings.Index(result, "defer __preempt_")
	call := strings.Index(result, `.Call("main.main")`)
	stmt := strings.Index(result, `println("hi")`)
	if !(ini >= 0 && ini < fin && fin < call && call < stmt) {
		t.Errorf("Unexpected prologue order:\n%s", result)
	}
}

func TestLibraryPackageHasNoBootstrap(t *testing.T) {
	src := `package lib

func main() {}

func F() int {
	return 1
}
`
	result := instrumentSource(t, src)

	if strings.Contains(result, ".Initialize()") {
		t.Error("Only package main gets Initialize")
	}
	if !strings.Contains(result, `.Call("lib.F")`) {
		t.Error("Expected Call hook in lib.F")
	}
}

func TestControlFlowBodies(t *testing.T) {
	src := `package p

func f(ch chan int, v any) {
	for i := 0; i < 3; i++ {
		ch <- i
	}
	switch v.(type) {
	case int:
		println("int")
	default:
	}
	select {
	case x := <-ch:
		println(x)
	}
	for {
	}
}
`
	result := instrumentSource(t, src)

	for _, want := range []string{
		`Line("test.go:4")`,  // the for statement itself
		`Line("test.go:5")`,  // loop body
		`Line("test.go:9")`,  // case clause body
		`Line("test.go:14")`, // comm clause body
		`Line("test.go:16")`, // empty loop body
	} {
		if !strings.Contains(result, want) {
			t.Errorf("Expected %s in output:\n%s", want, result)
		}
	}

	// Case and comm clause headers are not statements
	for _, line := range []string{"8", "10", "13"} {
		if strings.Contains(result, `Line("test.go:`+line+`")`) {
			t.Errorf("Unexpected hook outside a statement list at line %s:\n%s", line, result)
		}
	}
	mustParse(t, result)
}

func mustParse(t *testing.T, src string) {
	t.Helper()
	if _, err := parser.ParseFile(token.NewFileSet(), "out.go", src, 0); err != nil {
		t.Errorf("Instrumented output does not parse: %v\n%s", err, src)
	}
}

func TestSwitchAndSelectReparse(t *testing.T) {
	tests := map[string]string{
		"expression switch": `switch x {
	case 1:
		x++
		fallthrough
	case 2:
	default:
		x--
	}`,
		"type switch": `switch v := any(x).(type) {
	case int:
		_ = v
	}`,
		"select": `select {
	case <-c:
	case c <- x:
		x = 0
	default:
	}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			src := "package p\n\nfunc f(x int, c chan int) {\n\t" + body + "\n}\n"
			result := instrumentSource(t, src)
			mustParse(t, result)
			if !strings.Contains(result, `Line("test.go:4")`) {
				t.Errorf("Expected the %s itself to be traced:\n%s", name, result)
			}
		})
	}
}

func TestFunctionNames(t *testing.T) {
	src := `package p

type T struct{}

func (T) Value() {}

func (t *T) Pointer() {
	go func() {}()
}

type G[K comparable] struct{}

func (g *G[K]) Generic() {}

var hook = func() {}
`
	result := instrumentSource(t, src)

	for _, want := range []string{
		`Call("p.T.Value")`,
		`Call("p.(*T).Pointer")`,
		`Call("p.(*T).Pointer.func1")`,
		`Call("p.(*G).Generic")`,
		`Call("p.init.func1")`,
	} {
		if !strings.Contains(result, want) {
			t.Errorf("Expected %s in output:\n%s", want, result)
		}
	}
}

func TestIgnoreDirective(t *testing.T) {
	src := `package p

//preempt:ignore
func hot() int {
	return 1
}

func cold() int {
	return 2
}
`
	result := instrumentSource(t, src)

	if strings.Contains(result, `Call("p.hot")`) || strings.Contains(result, `Line("test.go:5")`) {
		t.Errorf("Ignored function was instrumented:\n%s", result)
	}
	if !strings.Contains(result, `Call("p.cold")`) {
		t.Error("Expected cold to be instrumented")
	}
}

func TestNothingToInstrument(t *testing.T) {
	src := `package p

type T int

const C = 1
`
	instr := instrument.NewInstrumenter(nil)
	fset := token.NewFileSet()
	f, err := instr.InstrumentFile(fset, "test.go", src)
	if err != nil {
		t.Fatalf("InstrumentFile failed: %v", err)
	}
	if instr.WasInstrumented() {
		t.Error("Expected no instrumentation")
	}
	if len(f.Imports) != 0 {
		t.Error("Expected no runtime import")
	}
}

func TestTestdataReparses(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "testdata", "*.go"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Skip("no testdata")
	}
	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			instr := instrument.NewInstrumenter(nil)
			fset := token.NewFileSet()
			f, err := instr.InstrumentFile(fset, file, nil)
			if err != nil {
				t.Fatalf("InstrumentFile failed: %v", err)
			}
			var buf bytes.Buffer
			if err := instrument.WriteInstrumented(&buf, fset, f); err != nil {
				t.Fatalf("Failed to print AST: %v", err)
			}
			if _, err := parser.ParseFile(token.NewFileSet(), file, buf.Bytes(), 0); err != nil {
				t.Errorf("Instrumented output does not parse: %v\n%s", err, buf.String())
			}
			if !instr.WasInstrumented() {
				t.Error("Expected instrumentation")
			}
		})
	}
}

func TestInstrumentFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.go")
	b := filepath.Join(dir, "b.go")
	if err := os.WriteFile(a, []byte("package p\n\nfunc A() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("package p\n\nconst B = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	instr := instrument.NewInstrumenter(nil)
	files, err := instr.InstrumentFiles(token.NewFileSet(), []string{a, b})
	if err != nil {
		t.Fatalf("InstrumentFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if !instr.WasInstrumented() {
		t.Error("Expected instrumentation in a.go")
	}
	if len(files[1].Imports) != 0 {
		t.Error("b.go has nothing to trace and should not import the runtime")
	}

	if _, err := instr.InstrumentFiles(token.NewFileSet(), []string{filepath.Join(dir, "missing.go")}); err == nil {
		t.Error("Expected error for missing file")
	}
}
