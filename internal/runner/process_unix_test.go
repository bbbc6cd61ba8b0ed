//go:build !windows

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgifai/launchpad/internal/runner/execution"
	"github.com/tgifai/launchpad/internal/runner/supervisor"
)

// processGone reports whether pid no longer runs. Zombies count as gone.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return true
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return os.IsNotExist(err)
	}
	fields := strings.Fields(string(raw[bytes.LastIndexByte(raw, ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func requirePidGone(t *testing.T, path string) {
	t.Helper()
	var pid int
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(raw)))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 20*time.Millisecond,
		"%s: pid %d still exists", filepath.Base(path), pid)
}

func TestTimedOutProgramNoLongerExists(t *testing.T) {
	requireBinary(t, "sh")
	dir := t.TempDir()
	r := newRegistry(t, supervisor.Policy{Timeout: 500 * time.Millisecond, GracePeriod: 200 * time.Millisecond}, 0)

	script := fmt.Sprintf("echo $$ > %s/leader.pid\nsleep 60 &\necho $! > %s/child.pid\nwhile :; do :; done\n", dir, dir)
	snap := submitAndWait(t, r, files("main.sh", script))
	if snap.Cause != execution.CauseTimeout {
		t.Fatalf("cause = %s", snap.Cause)
	}
	requirePidGone(t, filepath.Join(dir, "leader.pid"))
	requirePidGone(t, filepath.Join(dir, "child.pid"))
}

func TestCanceledProgramNoLongerExists(t *testing.T) {
	requireBinary(t, "sh")
	dir := t.TempDir()
	r := newRegistry(t, defaultPolicy, 0)
	ctx := context.Background()

	id, err := r.Submit(ctx, files("main.sh", fmt.Sprintf("echo $$ > %s/leader.pid\necho partial\nsleep 30\n", dir)))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	require.Eventually(t, func() bool {
		snap, _ := r.Status(id, 0)
		return strings.Contains(snap.Output, "partial")
	}, 10*time.Second, 10*time.Millisecond)

	if _, err := r.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snap, err := r.Wait(ctx, id)
	if err != nil || snap.Status != execution.StatusStopped {
		t.Fatalf("Wait: %s %v", snap.Status, err)
	}
	requirePidGone(t, filepath.Join(dir, "leader.pid"))
}
