package server

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/require"

	"github.com/tgifai/launchpad/internal/config"
	"github.com/tgifai/launchpad/internal/runner"
	"github.com/tgifai/launchpad/internal/runner/adapter"
	"github.com/tgifai/launchpad/internal/runner/entrypoint"
	"github.com/tgifai/launchpad/internal/runner/execution"
	"github.com/tgifai/launchpad/internal/runner/runtimes"
	"github.com/tgifai/launchpad/internal/runner/supervisor"
	"github.com/tgifai/launchpad/internal/runner/workspace"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *runner.Registry) {
	t.Helper()
	reg := runner.NewRegistry(runner.Options{
		Workspaces: workspace.NewManager(t.TempDir()),
		Resolver:   entrypoint.NewResolver(runtimes.NewTable(nil)),
		Adapter:    adapter.New(21000),
		Supervisor: supervisor.New(supervisor.Policy{Timeout: 20 * time.Second, GracePeriod: 200 * time.Millisecond}),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	cfg := config.Default().Server
	cfg.APIKey = apiKey
	return New(cfg, reg), reg
}

func do(s *Server, method, url, body string, headers ...ut.Header) *ut.ResponseRecorder {
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
	}
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	return ut.PerformRequest(s.httpServer.Engine, method, url, b, headers...)
}

func decode[T any](t *testing.T, w *ut.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(w.Result().Body(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Result().Body(), err)
	}
	return out
}

func submit(t *testing.T, s *Server, body string) string {
	t.Helper()
	w := do(s, consts.MethodPost, "/api/v1/executions", body)
	if w.Code != consts.StatusCreated {
		t.Fatalf("submit status %d: %s", w.Code, w.Result().Body())
	}
	return decode[map[string]string](t, w)["id"]
}

func pollUntil(t *testing.T, s *Server, id string, pred func(execution.Snapshot) bool) execution.Snapshot {
	t.Helper()
	var snap execution.Snapshot
	require.Eventually(t, func() bool {
		w := do(s, consts.MethodGet, "/api/v1/executions/"+id, "")
		if w.Code != consts.StatusOK {
			return false
		}
		snap = decode[execution.Snapshot](t, w)
		return pred(snap)
	}, 15*time.Second, 20*time.Millisecond)
	return snap
}

func terminal(s execution.Snapshot) bool { return s.Status.Terminal() }

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := do(s, consts.MethodGet, "/health", "")
	if w.Code != consts.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	if w := do(s, consts.MethodGet, "/api/v1/executions", ""); w.Code != consts.StatusUnauthorized {
		t.Fatalf("missing token: %d", w.Code)
	}
	if w := do(s, consts.MethodGet, "/api/v1/executions", "", ut.Header{Key: "Authorization", Value: "Bearer wrong"}); w.Code != consts.StatusUnauthorized {
		t.Fatalf("wrong token: %d", w.Code)
	}
	if w := do(s, consts.MethodGet, "/api/v1/executions", "", ut.Header{Key: "Authorization", Value: "Bearer secret"}); w.Code != consts.StatusOK {
		t.Fatalf("valid token: %d", w.Code)
	}
	if w := do(s, consts.MethodGet, "/health", ""); w.Code != consts.StatusOK {
		t.Fatalf("health should stay open: %d", w.Code)
	}
}

func TestSubmitRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t, "")
	if w := do(s, consts.MethodPost, "/api/v1/executions", "{not json"); w.Code != consts.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
}

func TestSubmitWithoutSourcesEndsInError(t *testing.T) {
	s, _ := newTestServer(t, "")
	id := submit(t, s, `{"files":[{"path":"notes.txt","content":"hi"}]}`)

	snap := pollUntil(t, s, id, terminal)
	if snap.Status != execution.StatusError || snap.Cause != execution.CauseEntryPointNotFound {
		t.Fatalf("status = %s cause = %s", snap.Status, snap.Cause)
	}
}

func TestUnknownExecution(t *testing.T) {
	s, _ := newTestServer(t, "")
	for _, tc := range []struct{ method, url string }{
		{consts.MethodGet, "/api/v1/executions/nope"},
		{consts.MethodPost, "/api/v1/executions/nope/cancel"},
		{consts.MethodDelete, "/api/v1/executions/nope"},
	} {
		if w := do(s, tc.method, tc.url, ""); w.Code != consts.StatusNotFound {
			t.Fatalf("%s %s: status %d", tc.method, tc.url, w.Code)
		}
	}
}

func TestRunAndTail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s, _ := newTestServer(t, "")
	id := submit(t, s, `{"files":[{"path":"main.sh","content":"echo hello"}]}`)

	snap := pollUntil(t, s, id, terminal)
	if snap.Status != execution.StatusCompleted || snap.Output != "hello\n" {
		t.Fatalf("status = %s output = %q", snap.Status, snap.Output)
	}

	w := do(s, consts.MethodGet, "/api/v1/executions/"+id+"?tail=3", "")
	if got := decode[execution.Snapshot](t, w).Output; got != "lo\n" {
		t.Fatalf("tail output = %q", got)
	}

	list := decode[map[string][]execution.Snapshot](t, do(s, consts.MethodGet, "/api/v1/executions", ""))
	if len(list["executions"]) != 1 || list["executions"][0].ID != id {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestCancelAndDelete(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s, _ := newTestServer(t, "")
	id := submit(t, s, `{"files":[{"path":"main.sh","content":"sleep 30"}]}`)
	pollUntil(t, s, id, func(snap execution.Snapshot) bool { return snap.Status == execution.StatusRunning })

	w := do(s, consts.MethodPost, "/api/v1/executions/"+id+"/cancel", "")
	if w.Code != consts.StatusOK {
		t.Fatalf("cancel status %d", w.Code)
	}
	if ack := decode[runner.Ack](t, w); !ack.WasRunning {
		t.Fatalf("ack should report a running process: %+v", ack)
	}
	snap := pollUntil(t, s, id, terminal)
	if snap.Status != execution.StatusStopped {
		t.Fatalf("status = %s", snap.Status)
	}

	if w := do(s, consts.MethodDelete, "/api/v1/executions/"+id, ""); w.Code != consts.StatusNoContent {
		t.Fatalf("delete status %d", w.Code)
	}
	if w := do(s, consts.MethodGet, "/api/v1/executions/"+id, ""); w.Code != consts.StatusNotFound {
		t.Fatalf("deleted execution still visible: %d", w.Code)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	s, reg := newTestServer(t, "")
	if err := reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	w := do(s, consts.MethodPost, "/api/v1/executions", `{"files":[]}`)
	if w.Code != consts.StatusServiceUnavailable {
		t.Fatalf("status %d", w.Code)
	}
}
