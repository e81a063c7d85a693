package cmd

import (
	"fmt"
	"go/token"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/tools/go/packages"

	"github.com/amirkhaki/preempt/pkg/instrument"
)

// modulePath is never instrumented: the runtime cannot trace itself.
const modulePath = "github.com/amirkhaki/preempt"

// toolexecCmd represents the toolexec command
var toolexecCmd = &cobra.Command{
	Use:   "toolexec",
	Short: "go build -toolexec 'preempt toolexec'",
	Long: `Wraps the Go toolchain: compile units outside GOROOT are instrumented
before compilation, and the runtime archives are added to the compile and
link import configs. The package being built must be able to resolve the
preempt module (require it in go.mod).

Environment:
  PREEMPT_CONFIG  YAML instrumentation config (see instrument --config)`,
	DisableFlagParsing: true,
	Args:               cobra.MinimumNArgs(1),
	RunE:               handleToolExec,
}

func init() {
	rootCmd.AddCommand(toolexecCmd)
}

// handleToolExec intercepts go tool commands when used with -toolexec
func handleToolExec(cmd *cobra.Command, args []string) error {
	// Args: [/path/to/compile, compile-args...]
	tool := args[0]
	args = args[1:]

	switch toolName(tool) {
	case "compile":
		return handleCompileCommand(tool, args)
	case "link":
		return handleLinkCommand(tool, args)
	default:
		// Pass through for other tools (asm, etc.)
		return runTool(tool, args)
	}
}

func toolName(tool string) string {
	return strings.TrimSuffix(filepath.Base(tool), ".exe")
}

func runTool(tool string, args []string) error {
	cmd := exec.Command(tool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

func loadToolexecConfig() (*instrument.Config, error) {
	if file := os.Getenv("PREEMPT_CONFIG"); file != "" {
		return instrument.LoadConfig(file)
	}
	return instrument.DefaultConfig(), nil
}

// compileArgs is what toolexec needs to know about a compile invocation.
type compileArgs struct {
	pkgPath   string
	importcfg string
	goFiles   []string
}

// parseCompileArgs finds the package path, the importcfg and the .go
// sources outside goroot in a compile command line.
func parseCompileArgs(args []string, goroot string) compileArgs {
	var ca compileArgs
	for i, arg := range args {
		switch {
		case arg == "-p" && i+1 < len(args):
			ca.pkgPath = args[i+1]
		case arg == "-importcfg" && i+1 < len(args):
			ca.importcfg = args[i+1]
		case strings.HasSuffix(arg, ".go") && !strings.HasPrefix(arg, "-"):
			// Skip files in GOROOT and cgo glue
			if goroot != "" && strings.HasPrefix(filepath.Clean(arg), filepath.Clean(goroot)+string(filepath.Separator)) {
				continue
			}
			if strings.HasPrefix(filepath.Base(arg), "_cgo_") {
				continue
			}
			ca.goFiles = append(ca.goFiles, arg)
		}
	}
	return ca
}

func goRoot() string {
	if goroot := os.Getenv("GOROOT"); goroot != "" {
		return goroot
	}
	out, err := exec.Command("go", "env", "GOROOT").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func handleCompileCommand(tool string, args []string) error {
	ca := parseCompileArgs(args, goRoot())

	// If no .go files, just pass through
	if len(ca.goFiles) == 0 || ca.pkgPath == modulePath || strings.HasPrefix(ca.pkgPath, modulePath+"/") {
		return runTool(tool, args)
	}

	cfg, err := loadToolexecConfig()
	if err != nil {
		return err
	}
	if cfg.Skipped(ca.pkgPath) {
		slog.Debug("preempt: skipping configured package", "package", ca.pkgPath)
		return runTool(tool, args)
	}

	archives, err := runtimeArchives(cfg.BaseRuntimeAddress)
	if err != nil {
		return err
	}
	// The runtime's own dependencies would import it back.
	if _, ok := archives[ca.pkgPath]; ok {
		return runTool(tool, args)
	}

	tempDir, err := os.MkdirTemp("", "preempt_*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	instrumentedFiles, wasInstrumented, err := instrumentFilesToDir(cfg, ca.goFiles, tempDir)
	if err != nil {
		return fmt.Errorf("failed to instrument %s: %w", ca.pkgPath, err)
	}
	slog.Debug("preempt: instrumented", "package", ca.pkgPath, "files", len(ca.goFiles), "changed", wasInstrumented)

	// Build map of original -> instrumented file paths
	fileMap := make(map[string]string)
	for i, origFile := range ca.goFiles {
		fileMap[origFile] = instrumentedFiles[i]
	}

	// Only modify importcfg if we actually added instrumentation
	newImportcfg := ca.importcfg
	if wasInstrumented && ca.importcfg != "" {
		runtimeOnly := map[string]string{cfg.BaseRuntimeAddress: archives[cfg.BaseRuntimeAddress]}
		newImportcfg, err = writeImportCfg(ca.importcfg, filepath.Join(tempDir, "importcfg"), runtimeOnly)
		if err != nil {
			return fmt.Errorf("failed to modify importcfg: %w", err)
		}
	}

	// Replace original files with instrumented versions and update importcfg in args
	newArgs := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if instrumented, ok := fileMap[arg]; ok {
			newArgs = append(newArgs, instrumented)
		} else if arg == "-importcfg" && i+1 < len(args) {
			newArgs = append(newArgs, arg, newImportcfg)
			i++
		} else {
			newArgs = append(newArgs, arg)
		}
	}

	return runTool(tool, newArgs)
}

// handleLinkCommand adds the runtime and everything it imports to the link importcfg
func handleLinkCommand(tool string, args []string) error {
	idx := -1
	for i, arg := range args {
		if arg == "-importcfg" && i+1 < len(args) {
			idx = i + 1
			break
		}
	}
	if idx < 0 {
		return runTool(tool, args)
	}

	cfg, err := loadToolexecConfig()
	if err != nil {
		return err
	}
	archives, err := runtimeArchives(cfg.BaseRuntimeAddress)
	if err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "preempt_link_*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// Expand environment variables in the path
	importcfg := os.ExpandEnv(args[idx])
	newImportcfg, err := writeImportCfg(importcfg, filepath.Join(tempDir, "importcfg.link"), archives)
	if err != nil {
		return fmt.Errorf("failed to modify link importcfg: %w", err)
	}
	newArgs := append([]string(nil), args...)
	newArgs[idx] = newImportcfg
	return runTool(tool, newArgs)
}

// runtimeArchives returns the export data files of the runtime package
// and all of its dependencies, keyed by import path.
func runtimeArchives(runtimePkg string) (map[string]string, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps | packages.NeedExportFile,
	}
	pkgs, err := packages.Load(cfg, runtimePkg)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", runtimePkg, err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		return nil, fmt.Errorf("failed to load %s: %d errors", runtimePkg, n)
	}

	archives := make(map[string]string)
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		if p.ExportFile != "" {
			archives[p.PkgPath] = p.ExportFile
		}
	})
	if _, ok := archives[runtimePkg]; !ok {
		return nil, fmt.Errorf("no export data for %s", runtimePkg)
	}
	return archives, nil
}

// writeImportCfg copies the importcfg at src to dst, adding a packagefile
// line for every archive whose package src does not list yet.
func writeImportCfg(src, dst string, archives map[string]string) (string, error) {
	content, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, []byte(mergeImportCfg(string(content), archives)), 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func mergeImportCfg(content string, archives map[string]string) string {
	known := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "packagefile "); ok {
			// Format: packagefile path=archive
			if path, _, ok := strings.Cut(rest, "="); ok {
				known[path] = true
			}
		}
	}

	paths := make([]string, 0, len(archives))
	for path := range archives {
		if !known[path] {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var sb strings.Builder
	sb.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	for _, path := range paths {
		fmt.Fprintf(&sb, "packagefile %s=%s\n", path, archives[path])
	}
	return sb.String()
}

// instrumentFilesToDir instruments the files of one package and writes them to the target directory
// Returns the instrumented file paths and whether any instrumentation was added
func instrumentFilesToDir(cfg *instrument.Config, goFiles []string, targetDir string) ([]string, bool, error) {
	instr := instrument.NewInstrumenter(cfg)
	fset := token.NewFileSet()

	instrumentedASTs, err := instr.InstrumentFiles(fset, goFiles)
	if err != nil {
		return nil, false, err
	}

	outputFiles := make([]string, len(goFiles))
	for i, origFile := range goFiles {
		outputPath := filepath.Join(targetDir, filepath.Base(origFile))

		f, err := os.Create(outputPath)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create %s: %w", outputPath, err)
		}

		err = instrument.WriteInstrumented(f, fset, instrumentedASTs[i])
		f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("failed to write %s: %w", outputPath, err)
		}

		outputFiles[i] = outputPath
	}

	return outputFiles, instr.WasInstrumented(), nil
}
