//go:build !windows

package fetch

import (
	"context"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// createCommand creates a git exec.Cmd on Unix-like systems.
func (g *Git) createCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := g.commandContext(ctx, "git", args...)
	// Run git in its own process group so a timeout also stops the helpers
	// it spawns (remote-https, submodule clones).
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}
