package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/amirkhaki/preempt/pkg/instrument"
	"github.com/amirkhaki/preempt/pkg/runtime"
	"github.com/amirkhaki/preempt/pkg/tracer"
)

func TestToolName(t *testing.T) {
	assert.Equal(t, "compile", toolName("/usr/lib/go/pkg/tool/linux_amd64/compile"))
	assert.Equal(t, "link", toolName(filepath.Join("tool", "link.exe")))
	assert.Equal(t, "asm", toolName("asm"))
}

func TestParseCompileArgs(t *testing.T) {
	goroot := filepath.FromSlash("/usr/local/go")
	args := []string{
		"-o", "$WORK/b001/_pkg_.a",
		"-p", "example.com/app",
		"-importcfg", "$WORK/b001/importcfg",
		"-pack",
		filepath.FromSlash("/src/app/main.go"),
		filepath.FromSlash("/src/app/util.go"),
		filepath.FromSlash("/usr/local/go/src/fmt/print.go"),
		filepath.FromSlash("/tmp/work/b001/_cgo_gotypes.go"),
	}
	ca := parseCompileArgs(args, goroot)
	assert.Equal(t, "example.com/app", ca.pkgPath)
	assert.Equal(t, "$WORK/b001/importcfg", ca.importcfg)
	assert.DeepEqual(t, []string{
		filepath.FromSlash("/src/app/main.go"),
		filepath.FromSlash("/src/app/util.go"),
	}, ca.goFiles)

	// A GOROOT prefix must end at a path separator.
	ca = parseCompileArgs([]string{filepath.FromSlash("/usr/local/gopher/x.go")}, goroot)
	assert.Equal(t, 1, len(ca.goFiles))
}

func TestMergeImportCfg(t *testing.T) {
	content := "# import config\npackagefile fmt=/cache/fmt.a\npackagefile sync=/cache/sync.a"
	merged := mergeImportCfg(content, map[string]string{
		"sync":                          "/other/sync.a",
		instrument.DefaultRuntimeAddress: "/cache/runtime.a",
		"github.com/petermattis/goid":   "/cache/goid.a",
	})

	assert.Equal(t, content+"\n"+
		"packagefile github.com/amirkhaki/preempt/pkg/runtime=/cache/runtime.a\n"+
		"packagefile github.com/petermattis/goid=/cache/goid.a\n", merged)
	assert.Equal(t, 1, strings.Count(merged, "packagefile sync="))

	assert.Equal(t, "packagefile a=/a.a\n", mergeImportCfg("", map[string]string{"a": "/a.a"}))
}

func TestInstrumentFilesToDir(t *testing.T) {
	dir := t.TempDir()
	out, changed, err := instrumentFilesToDir(instrument.DefaultConfig(),
		[]string{filepath.Join("..", "..", "..", "testdata", "spin.go")}, dir)
	assert.NilError(t, err)
	assert.Assert(t, changed)
	assert.DeepEqual(t, []string{filepath.Join(dir, "spin.go")}, out)
}

func TestStatsCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "events.trace")
	rec, err := runtime.NewEventRecorder(file)
	assert.NilError(t, err)
	for _, e := range []runtime.Event{
		{GoID: 1, Kind: tracer.KindCall, Pos: "main.main"},
		{GoID: 1, Kind: tracer.KindLine, Pos: "main.go:3"},
		{GoID: 1, Kind: tracer.KindReturn},
		{GoID: 7, Kind: tracer.KindLine, Pos: "main.go:9"},
	} {
		rec.OnEvent(e)
	}
	assert.NilError(t, rec.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stats", file})
	defer rootCmd.SetArgs(nil)
	assert.NilError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, 4, len(lines))
	assert.DeepEqual(t, []string{"1", "3", "1", "1", "1"}, strings.Fields(lines[1]))
	assert.DeepEqual(t, []string{"7", "1", "0", "1", "0"}, strings.Fields(lines[2]))
	assert.DeepEqual(t, []string{"total", "4"}, strings.Fields(lines[3]))
}
