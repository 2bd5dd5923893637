package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

type RunOpts struct {
	Image   string
	Command []string
	WorkDir string
	Env     map[string]string
	// Timeout of zero waits for the container indefinitely.
	Timeout time.Duration
	Mounts  []Mount
	UserID  string
	// Output receives the container's combined stdout and stderr.
	Output io.Writer
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// CreateError wraps failures that happen before the container starts, such as
// a missing image.
type CreateError struct {
	Err error
}

func (e *CreateError) Error() string { return "creating container: " + e.Err.Error() }
func (e *CreateError) Unwrap() error { return e.Err }

func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &CreateError{Err: fmt.Errorf("docker client: %w", err)}
	}
	defer cli.Close()

	envSlice := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	mounts := make([]mount.Mount, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}

	// TTY mode keeps the log stream unmultiplexed so it can be copied as-is.
	containerCfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        envSlice,
		WorkingDir: opts.WorkDir,
		Tty:        true,
		Labels:     map[string]string{"fugebench": "true"},
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, &CreateError{Err: err}
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, &CreateError{Err: fmt.Errorf("starting container: %w", err)}
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				copyLogs(cli, containerID, opts.Output)
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return &RunResult{
					ExitCode: 124,
					TimedOut: true,
					Duration: time.Since(start),
				}, nil
			}
			// nil error means no error on this channel; wait for result
		case status := <-waitResult.Result:
			copyLogs(cli, containerID, opts.Output)
			return &RunResult{
				ExitCode: int(status.StatusCode),
				TimedOut: false,
				Duration: time.Since(start),
			}, nil
		}
	}
}

func copyLogs(cli *client.Client, containerID string, w io.Writer) {
	if w == nil {
		return
	}
	logReader, _ := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if logReader != nil {
		io.Copy(w, logReader)
		logReader.Close()
	}
}

// BindSame mounts each host path at the identical path inside the container,
// so argument lists built for the host stay valid.
func BindSame(paths []string, readOnly bool) []Mount {
	seen := make(map[string]bool, len(paths))
	var mounts []Mount
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		mounts = append(mounts, Mount{Source: p, Target: p, ReadOnly: readOnly})
	}
	return mounts
}
