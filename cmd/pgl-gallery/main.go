package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-gallery/cmd"
	"github.com/paulschiretz/pgl-gallery/pkg/buildinfo"
	"github.com/paulschiretz/pgl-gallery/pkg/flagparse"
	"github.com/paulschiretz/pgl-gallery/pkg/hints"
	"github.com/paulschiretz/pgl-gallery/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string, out io.Writer) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return err
	}

	switch command {
	case flagparse.None:
		return nil // Usage was printed.
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	}

	plog.Info("Starting "+buildinfo.Name, "command", command.String(), "version", buildinfo.Version, "pid", os.Getpid())
	switch command {
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Sync:
		return cmd.RunSync(ctx, flagMap, out)
	case flagparse.Ingest:
		return cmd.RunIngest(ctx, flagMap, out)
	case flagparse.Watch:
		return cmd.RunWatch(ctx, flagMap, out)
	default:
		return fmt.Errorf("internal error: unknown command %s", command)
	}
}

// exitCode maps the result of run to the process exit code. Hints and
// explicit help requests are not failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case hints.IsHint(err):
		plog.Info(buildinfo.Name+" stopped early", "reason", err)
		return 0
	default:
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		return 1
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())

	// Listen for interrupt signals (like Ctrl+C) in a separate goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		plog.Warn("Received signal, stopping", "signal", sig.String())
		cancel()
	}()

	code := exitCode(run(ctx, os.Args[1:], os.Stdout))
	cancel()
	plog.Close()
	os.Exit(code)
}
