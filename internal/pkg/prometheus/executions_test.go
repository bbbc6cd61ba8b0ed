package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExecutionMetrics(t *testing.T) {
	before := testutil.ToFloat64(executionsTotal.WithLabelValues("error", "timeout"))
	ExecutionFinished("error", "timeout", 3*time.Second)
	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("error", "timeout")); got != before+1 {
		t.Fatalf("executions_total = %v, want %v", got, before+1)
	}

	ExecutionFinished("completed", "", time.Second)
	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("completed", "none")); got < 1 {
		t.Fatalf("empty cause should be recorded as none, got %v", got)
	}

	ExecutionStarted()
	ExecutionStarted()
	ExecutionReleased()
	if got := testutil.ToFloat64(executionsInFlight); got != 1 {
		t.Fatalf("in-flight = %v", got)
	}
	ExecutionReleased()

	if n, err := testutil.GatherAndCount(GetRegistry(), "launchpad_execution_duration_seconds"); err != nil || n == 0 {
		t.Fatalf("histogram not gathered: n=%d err=%v", n, err)
	}
}
