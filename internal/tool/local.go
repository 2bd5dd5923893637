package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// LocalExecutor starts the tool as a child process on this host.
type LocalExecutor struct{}

func (LocalExecutor) Name() string { return "local" }

func (LocalExecutor) Check(_ context.Context, path string) error {
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return nil
}

func (LocalExecutor) Run(ctx context.Context, inv *Invocation, stdout, stderr io.Writer) (*Outcome, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	if len(inv.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range inv.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrToolUnavailable, inv.Path, err)
	}
	err := cmd.Wait()
	out := &Outcome{Duration: time.Since(start)}
	if err == nil {
		return finish(inv, out)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		out.ExitCode = 124
		return finish(inv, out)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return finish(inv, out)
	}

	// The process ran; copying its output failed or outlived WaitDelay.
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	out.ExitReason = ExitReasonIOError
	return out, &FailedError{Mode: inv.Mode, ExitCode: out.ExitCode, Err: err}
}
