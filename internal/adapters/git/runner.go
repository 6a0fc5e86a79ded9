package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Default command policy values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultRetryDelay = time.Second
)

// CommandError contains the raw output of a failed git command.
type CommandError struct {
	Command  string // The git subcommand that failed (e.g., "checkout")
	Args     []string
	Dir      string
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the process did not exit normally
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// exitCode returns the exit status carried by err, or -1.
func exitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// RunnerConfig controls how git processes are executed.
type RunnerConfig struct {
	// Timeout bounds a single git invocation.
	Timeout time.Duration

	// MaxRetries is how many times a retryable command is re-run after failing.
	MaxRetries int

	// RetryDelay is the pause between retries.
	RetryDelay time.Duration
}

// Runner executes git commands in one working directory.
type Runner struct {
	dir    string
	cfg    RunnerConfig
	logger Logger
}

// NewRunner creates a Runner for dir. Zero config values fall back to defaults.
func NewRunner(dir string, cfg RunnerConfig, log Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Runner{dir: dir, cfg: cfg, logger: log}
}

// Run executes git with args and returns trimmed stdout.
func (r *Runner) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	r.logger.Debug(ctx, "ran git command", map[string]any{
		"dir":         r.dir,
		"args":        strings.Join(args, " "),
		"duration_ms": time.Since(start).Milliseconds(),
		"failed":      err != nil,
	})

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return "", r.wrapError(err, stdout.String(), stderr.String(), args)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// RunWithRetry executes a command that may fail transiently, such as network operations.
func (r *Runner) RunWithRetry(ctx context.Context, args ...string) (string, error) {
	var (
		out string
		err error
	)
	for attempt := 0; ; attempt++ {
		out, err = r.Run(ctx, args...)
		if err == nil || attempt >= r.cfg.MaxRetries || ctx.Err() != nil {
			return out, err
		}

		r.logger.Warn(ctx, "git command failed, retrying", map[string]any{
			"args":    strings.Join(args, " "),
			"attempt": attempt + 1,
			"delay":   r.cfg.RetryDelay.String(),
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(r.cfg.RetryDelay):
		}
	}
}

// wrapError builds a CommandError from a failed invocation.
func (r *Runner) wrapError(err error, stdout, stderr string, args []string) error {
	command := ""
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			command = arg
			break
		}
	}
	if command == "" && len(args) > 0 {
		command = args[0]
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	return &CommandError{
		Command:  command,
		Args:     args,
		Dir:      r.dir,
		Stdout:   strings.TrimSpace(stdout),
		Stderr:   strings.TrimSpace(stderr),
		ExitCode: code,
		Err:      err,
	}
}
