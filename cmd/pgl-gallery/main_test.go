package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-gallery/pkg/config"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
)

func TestRun(t *testing.T) {
	// Usage and help output goes to stderr.
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	origStderr := os.Stderr
	os.Stderr = devNull
	t.Cleanup(func() {
		os.Stderr = origStderr
		devNull.Close()
	})

	t.Run("No Arguments", func(t *testing.T) {
		if err := run(context.Background(), nil, &bytes.Buffer{}); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		err := run(context.Background(), []string{"backup"}, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "invalid command") {
			t.Errorf("expected an invalid command error, got %v", err)
		}
	})

	t.Run("Init Writes Config", func(t *testing.T) {
		base := t.TempDir()
		if err := run(context.Background(), []string{"init", "-base", base, "-gallery-target", "g"}, &bytes.Buffer{}); err != nil {
			t.Fatalf("run() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(base, config.ConfigFileName)); err != nil {
			t.Errorf("expected config file: %v", err)
		}
	})

	t.Run("Watch Stops With Context", func(t *testing.T) {
		base := t.TempDir()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := run(ctx, []string{"watch", "-base", base, "-gallery-target", "g"}, &bytes.Buffer{})
		if err != nil {
			t.Errorf("expected a clean stop, got %v", err)
		}
	})
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"Success", nil, 0},
		{"Help", flag.ErrHelp, 0},
		{"Busy Hint", fmt.Errorf("start: %w", syncerr.ErrGuardRejected), 0},
		{"Failure", errors.New("boom"), 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
