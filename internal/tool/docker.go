package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fugebench/fugebench/internal/docker"
)

// DockerExecutor runs the tool inside a container image. Host paths are
// bind-mounted at the same location so argument lists need no rewriting.
type DockerExecutor struct {
	Image  string
	UserID string
}

func (e *DockerExecutor) Name() string { return "docker" }

// Check only validates configuration; a missing image surfaces on the first
// Run as ErrToolUnavailable.
func (e *DockerExecutor) Check(_ context.Context, path string) error {
	if e.Image == "" {
		return fmt.Errorf("%w: no image configured", ErrToolUnavailable)
	}
	if path == "" {
		return fmt.Errorf("%w: no tool path configured", ErrToolUnavailable)
	}
	return nil
}

func (e *DockerExecutor) Run(ctx context.Context, inv *Invocation, stdout, stderr io.Writer) (*Outcome, error) {
	mounts := docker.BindSame(inv.Inputs, true)
	mounts = append(mounts, docker.BindSame(inv.Outputs, false)...)

	userID := e.UserID
	if userID == "" {
		userID = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	}

	res, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:   e.Image,
		Command: append([]string{inv.Path}, inv.Args...),
		WorkDir: inv.Dir,
		Env:     inv.Env,
		Timeout: inv.Timeout,
		Mounts:  mounts,
		UserID:  userID,
		Output:  stdout,
	})
	if err != nil {
		var createErr *docker.CreateError
		if errors.As(err, &createErr) {
			return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
		}
		return nil, err
	}
	return finish(inv, &Outcome{
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	})
}
