package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-gallery/pkg/plog"
	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// DefaultTimeout bounds every git invocation unless configured otherwise.
const DefaultTimeout = 10 * time.Minute

// GitOptions configures the git fetcher.
type GitOptions struct {
	WorkDir    string // emptied before every clone
	Repository string // https clone URL
	Branch     string
	TokenEnv   string // environment variable holding the access token; empty for anonymous
	UserName   string // committer name set in the clone
	ComicsDir  string // comics folder inside the repository
	Publish    bool   // commit and push submodule updates
	Timeout    time.Duration
}

// Git clones the comics repository and keeps each comic submodule at the
// head of its branch.
type Git struct {
	opts    GitOptions
	repoDir string

	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewGit returns a Git fetcher. A nil commandContext uses exec.CommandContext.
func NewGit(opts GitOptions, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Git {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.ComicsDir == "" {
		opts.ComicsDir = "comics"
	}
	return &Git{opts: opts, commandContext: commandContext}
}

// Fetch empties the work directory, clones the repository with its
// submodules, configures the committer and pulls every comic.
func (g *Git) Fetch(ctx context.Context) (string, error) {
	cloneURL, repoName, err := g.cloneURL()
	if err != nil {
		return "", &syncerr.FetchError{Step: "clone", ExitCode: -1, Err: err}
	}

	if err := cleanDir(g.opts.WorkDir); err != nil {
		return "", &syncerr.FetchError{Step: "clean", ExitCode: -1, Err: err}
	}

	plog.Info("Cloning repository", "repository", g.opts.Repository, "workdir", g.opts.WorkDir)
	if _, err := g.run(ctx, "clone", g.opts.WorkDir, "clone", "--recurse-submodules", cloneURL, repoName); err != nil {
		return "", err
	}
	g.repoDir = filepath.Join(g.opts.WorkDir, repoName)

	if g.opts.UserName != "" {
		if _, err := g.run(ctx, "config", g.repoDir, "config", "user.name", g.opts.UserName); err != nil {
			return "", err
		}
		// Exit code 5 means the key was not set; nothing to undo.
		_, _ = g.run(ctx, "config", g.repoDir, "config", "--unset", "user.email")
	}

	comics, err := subdirs(filepath.Join(g.repoDir, g.opts.ComicsDir))
	if err != nil {
		return "", &syncerr.FetchError{Step: "pull", ExitCode: -1, Err: err}
	}
	for _, dir := range comics {
		plog.Debug("Pulling comic", "comic", filepath.Base(dir))
		if _, err := g.run(ctx, "pull "+filepath.Base(dir), dir, "pull", "origin", g.opts.Branch); err != nil {
			return "", err
		}
	}
	return g.repoDir, nil
}

// Status stages everything and returns the short status.
func (g *Git) Status(ctx context.Context) (DiffSummary, error) {
	if g.repoDir == "" {
		return DiffSummary{}, &syncerr.FetchError{Step: "status", ExitCode: -1, Err: errors.New("repository not fetched")}
	}
	if _, err := g.run(ctx, "add", g.repoDir, "add", "--all"); err != nil {
		return DiffSummary{}, err
	}
	out, err := g.run(ctx, "status", g.repoDir, "status", "-s")
	if err != nil {
		return DiffSummary{}, err
	}
	return DiffSummary{Lines: ParseLines(out)}, nil
}

// Publish commits the staged submodule updates and pushes them. It does
// nothing when publishing is disabled or summary is clean.
func (g *Git) Publish(ctx context.Context, summary DiffSummary) error {
	if !g.opts.Publish || summary.Clean() {
		return nil
	}
	if _, err := g.run(ctx, "commit", g.repoDir, "commit", "-m", "Update submodules"); err != nil {
		return err
	}
	plog.Info("Pushing submodule updates", "branch", g.opts.Branch)
	_, err := g.run(ctx, "push", g.repoDir, "push", "origin", g.opts.Branch)
	return err
}

// cloneURL injects the access token into the repository URL.
func (g *Git) cloneURL() (cloneURL, repoName string, err error) {
	u, err := url.Parse(g.opts.Repository)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository URL: %w", err)
	}
	repoName = strings.TrimSuffix(path.Base(u.Path), ".git")
	if repoName == "" || repoName == "." || repoName == "/" {
		return "", "", fmt.Errorf("cannot derive repository name from %q", g.opts.Repository)
	}
	if tok := g.token(); tok != "" {
		u.User = url.UserPassword("oauth2", tok)
	}
	return u.String(), repoName, nil
}

func (g *Git) token() string {
	if g.opts.TokenEnv == "" {
		return ""
	}
	return os.Getenv(g.opts.TokenEnv)
}

// run executes git in dir and returns its stdout. Failures become a
// *syncerr.FetchError carrying the exit code and the combined output.
func (g *Git) run(ctx context.Context, step, dir string, args ...string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	cmd := g.createCommand(ctx, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return "", &syncerr.FetchError{
			Step:     step,
			ExitCode: exitCode,
			Output:   g.redact(strings.TrimSpace(stderr.String() + "\n" + stdout.String())),
			Err:      err,
		}
	}
	return stdout.String(), nil
}

// redact removes the access token from text that may end up in logs.
func (g *Git) redact(s string) string {
	if tok := g.token(); tok != "" {
		return strings.ReplaceAll(s, tok, "***")
	}
	return s
}

// cleanDir empties dir, creating it if needed.
func cleanDir(dir string) error {
	if dir == "" {
		return errors.New("work directory not configured")
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("could not clean %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}
	return nil
}

// subdirs lists the non-hidden directories directly inside dir, sorted.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not list %s: %w", dir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}
