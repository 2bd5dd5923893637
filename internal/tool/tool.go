// Package tool drives the FUGE-LC command-line surface: it builds argument
// lists for each mode and runs them through an Executor.
package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

type Mode string

const (
	ModeTrain    Mode = "train"
	ModeEvaluate Mode = "evaluate"
	ModePredict  Mode = "predict"
)

// ErrToolUnavailable means the executable (or its container image) could not
// be started at all. It is fatal to a whole run.
var ErrToolUnavailable = errors.New("external tool unavailable")

// FailedError reports an invocation that started but did not exit cleanly.
// Err is set when the process ran but its output could not be delivered.
type FailedError struct {
	Mode     Mode
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *FailedError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s invocation timed out", e.Mode)
	case e.Err != nil:
		return fmt.Sprintf("%s invocation (exit code %d): %v", e.Mode, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s invocation exited with code %d", e.Mode, e.ExitCode)
}

func (e *FailedError) Unwrap() error { return e.Err }

type Invocation struct {
	Mode    Mode
	Path    string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	// Inputs and Outputs list host paths the invocation reads or writes.
	// Only container executors use them.
	Inputs  []string
	Outputs []string
}

type Outcome struct {
	ExitCode   int
	TimedOut   bool
	ExitReason string
	Duration   time.Duration
}

// Executor runs one invocation to completion. A non-zero exit is returned as
// *FailedError together with the Outcome.
type Executor interface {
	Name() string
	Check(ctx context.Context, path string) error
	Run(ctx context.Context, inv *Invocation, stdout, stderr io.Writer) (*Outcome, error)
}

func TrainArgs(dataset, script string) []string {
	return []string{"-d", dataset, "-s", script, "-g", "no"}
}

func EvaluateArgs(dataset, script, artifact string) []string {
	return []string{"--evaluate", "-d", dataset, "-s", script, "-f", artifact, "-g", "no"}
}

func PredictArgs(dataset, script, artifact string) []string {
	return []string{"-f", artifact, "-d", dataset, "-s", script, "-g", "no", "--predict"}
}

// ExitReasonIOError marks a process that ran while its output was lost.
const ExitReasonIOError = "io_error"

func ExitReasonFromCode(code int, timedOut bool) string {
	if timedOut {
		return "timeout"
	}
	if code == 0 {
		return "completed"
	}
	return "crashed"
}

func finish(inv *Invocation, out *Outcome) (*Outcome, error) {
	out.ExitReason = ExitReasonFromCode(out.ExitCode, out.TimedOut)
	if out.ExitCode != 0 || out.TimedOut {
		return out, &FailedError{Mode: inv.Mode, ExitCode: out.ExitCode, TimedOut: out.TimedOut}
	}
	return out, nil
}
