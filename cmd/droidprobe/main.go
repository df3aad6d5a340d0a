// File: cmd/droidprobe/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/tsenderov/droidprobe/cmd"
	"github.com/tsenderov/droidprobe/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables for dependency injection in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Listen for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
		}
		osExit(1)
	}
}

// handlePanic writes an unrecovered panic to panic.log before exiting, so a
// crash leaves diagnosable evidence even when stderr is lost.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}

	report := fmt.Sprintf("time: %s\npanic: %v\n\nstack:\n%s\n",
		time.Now().Format(time.RFC3339), r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(report), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", panicLogFile, err)
	}
	fmt.Fprintf(os.Stderr, "fatal: %v (details in %s)\n", r, panicLogFile)
	observability.Sync()
	osExit(2)
}
