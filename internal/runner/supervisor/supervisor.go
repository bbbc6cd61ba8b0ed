// Package supervisor runs one child process to a terminal status.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/runner/execution"
)

const (
	readChunkSize = 32 << 10
	// drainTimeout bounds how long output is collected after the child exits.
	drainTimeout = 2 * time.Second
)

// Launch describes the child to start.
type Launch struct {
	Argv []string
	Dir  string
	// Env is appended to the service environment as KEY=VALUE pairs.
	Env []string
	// Cleanup runs once the child is gone, before the record turns terminal.
	Cleanup func()
}

type Supervisor struct {
	policy Policy
}

func New(policy Policy) *Supervisor {
	return &Supervisor{policy: policy}
}

func (s *Supervisor) Policy() Policy { return s.policy }

// Run spawns the child, feeds its output to sink and finishes the record.
// It returns once the child has exited or been killed. Cancelling ctx stops
// the child the same way an explicit cancel does.
func (s *Supervisor) Run(ctx context.Context, sink *execution.Sink, l Launch) (out execution.Outcome) {
	defer func() {
		if l.Cleanup != nil {
			l.Cleanup()
		}
		sink.Finish(out)
	}()

	if len(l.Argv) == 0 {
		return spawnFailure(errors.New("empty command"))
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return spawnFailure(err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return spawnFailure(err)
	}
	readers := []*os.File{stdoutR, stderrR}
	defer closeAll(readers)

	cmd := exec.Command(l.Argv[0], l.Argv[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	setProcessGroup(cmd)

	err = cmd.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if err != nil {
		logs.CtxWarn(ctx, "[supervisor] spawn %q failed: %v", l.Argv, err)
		return spawnFailure(err)
	}
	sink.Running(cmd.Process.Pid)
	logs.CtxInfo(ctx, "[supervisor] started pid=%d argv=%q %s", cmd.Process.Pid, l.Argv, s.policy)

	chunks := make(chan string, 64)
	var g errgroup.Group
	for _, r := range readers {
		g.Go(func() error { return drain(r, chunks) })
	}
	go func() {
		if err := g.Wait(); err != nil {
			logs.CtxWarn(ctx, "[supervisor] read output: %v", err)
		}
		close(chunks)
	}()

	exited := make(chan error, 1)
	gone := make(chan struct{})
	go func() {
		exited <- cmd.Wait()
		close(gone)
	}()

	var timeoutC <-chan time.Time
	if s.policy.Timeout > 0 {
		timer := time.NewTimer(s.policy.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var (
		cancelC    = sink.Record().CancelRequested()
		ctxDone    = ctx.Done()
		drainC     <-chan time.Time
		waitErr    error
		reaped     bool
		stopReason execution.Cause
	)
	stop := func(reason execution.Cause) {
		if stopReason != execution.CauseNone {
			return
		}
		stopReason = reason
		logs.CtxInfo(ctx, "[supervisor] stopping pid=%d reason=%s", cmd.Process.Pid, reason)
		go s.terminate(cmd, gone)
	}

	for !reaped || chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			sink.Append(chunk)
		case waitErr = <-exited:
			reaped = true
			timeoutC, cancelC, ctxDone = nil, nil, nil
			// Leftover background processes would keep the pipes open.
			killGroup(cmd)
			drainC = time.After(drainTimeout)
		case <-drainC:
			drainC = nil
			closeAll(readers)
		case <-timeoutC:
			timeoutC = nil
			stop(execution.CauseTimeout)
		case <-cancelC:
			cancelC = nil
			stop(execution.CauseCanceled)
		case <-ctxDone:
			ctxDone = nil
			stop(execution.CauseCanceled)
		}
	}

	out = s.outcome(waitErr, stopReason)
	logs.CtxInfo(ctx, "[supervisor] finished status=%s cause=%s", out.Status, out.Cause)
	return out
}

// terminate asks the group to stop and kills it if it is still around after
// the grace period.
func (s *Supervisor) terminate(cmd *exec.Cmd, gone <-chan struct{}) {
	if s.policy.GracePeriod <= 0 {
		killGroup(cmd)
		return
	}
	interruptGroup(cmd)
	grace := time.NewTimer(s.policy.GracePeriod)
	defer grace.Stop()
	select {
	case <-gone:
	case <-grace.C:
		killGroup(cmd)
	}
}

func (s *Supervisor) outcome(waitErr error, reason execution.Cause) execution.Outcome {
	code := exitCode(waitErr)
	switch reason {
	case execution.CauseCanceled:
		return execution.Outcome{
			Status:   execution.StatusStopped,
			Cause:    execution.CauseCanceled,
			ExitCode: code,
			Err:      execution.ErrCancellationRequested,
		}
	case execution.CauseTimeout:
		return execution.Outcome{
			Status:   execution.StatusError,
			Cause:    execution.CauseTimeout,
			ExitCode: code,
			Err:      fmt.Errorf("%w after %s", execution.ErrTimeout, s.policy.Timeout),
		}
	}

	if waitErr == nil {
		return execution.Outcome{Status: execution.StatusCompleted, ExitCode: code}
	}
	return execution.Outcome{
		Status:   execution.StatusError,
		Cause:    execution.CauseRuntime,
		ExitCode: code,
		Err:      fmt.Errorf("%w: %v", execution.ErrRuntimeFailure, waitErr),
	}
}

// exitCode is nil when the child did not exit on its own (signal, wait error).
func exitCode(waitErr error) *int {
	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) || exitErr.ExitCode() < 0 {
			return nil
		}
		code = exitErr.ExitCode()
	}
	return &code
}

func spawnFailure(err error) execution.Outcome {
	return execution.Outcome{
		Status: execution.StatusError,
		Cause:  execution.CauseSpawn,
		Err:    fmt.Errorf("%w: %v", execution.ErrSpawnFailure, err),
	}
}

func drain(r io.Reader, out chan<- string) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out <- string(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
