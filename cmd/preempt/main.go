package main

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"

	"github.com/amirkhaki/preempt/cmd/preempt/cmd"
)

func main() {
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cmd.LogLevel})
	slog.SetDefault(slog.New(logHandler))
	if err := cmd.Execute(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The wrapped tool already reported its failure.
			os.Exit(exitErr.ExitCode())
		}
		slog.Error("exiting with an error", "error", err)
		os.Exit(1)
	}
}
