//go:build windows

package fetch

import (
	"context"
	"os/exec"
	"time"

	"golang.org/x/sys/windows"
)

// createCommand creates a git exec.Cmd on Windows.
func (g *Git) createCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := g.commandContext(ctx, "git", args...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}
