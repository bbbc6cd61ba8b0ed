// Package runner wires the execution pipeline behind a concurrency-safe
// registry of records.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/gg/gmap"
	"github.com/google/uuid"

	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/pkg/prometheus"
	"github.com/tgifai/launchpad/internal/runner/adapter"
	"github.com/tgifai/launchpad/internal/runner/entrypoint"
	"github.com/tgifai/launchpad/internal/runner/execution"
	"github.com/tgifai/launchpad/internal/runner/supervisor"
	"github.com/tgifai/launchpad/internal/runner/workspace"
)

var (
	ErrNotFound       = errors.New("execution not found")
	ErrRegistryClosed = errors.New("registry closed")
)

// Ack answers a cancel request.
type Ack struct {
	ID string `json:"id"`
	// WasRunning reports whether a process was live when the request arrived.
	WasRunning bool             `json:"was_running"`
	Status     execution.Status `json:"status"`
}

type Options struct {
	Workspaces *workspace.Manager
	Resolver   *entrypoint.Resolver
	Adapter    *adapter.Adapter
	Supervisor *supervisor.Supervisor
	// MaxConcurrent caps live pipelines; 0 means unlimited.
	MaxConcurrent int
}

// Registry owns every execution record for the life of the service.
type Registry struct {
	workspaces *workspace.Manager
	resolver   *entrypoint.Resolver
	adapter    *adapter.Adapter
	supervisor *supervisor.Supervisor
	slots      chan struct{} // nil when unlimited

	mu      sync.RWMutex
	records map[string]*execution.Record
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		workspaces: opts.Workspaces,
		resolver:   opts.Resolver,
		adapter:    opts.Adapter,
		supervisor: opts.Supervisor,
		records:    make(map[string]*execution.Record),
		ctx:        ctx,
		cancel:     cancel,
	}
	if opts.MaxConcurrent > 0 {
		r.slots = make(chan struct{}, opts.MaxConcurrent)
	}
	return r
}

// Submit registers a new execution and starts its pipeline in the
// background. It never waits on the program.
func (r *Registry) Submit(ctx context.Context, files []execution.SubmittedFile) (string, error) {
	files = append([]execution.SubmittedFile(nil), files...)

	id := uuid.NewString()
	rec, sink := execution.NewRecord(id, r.supervisor.Policy().MaxOutputBytes)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	r.records[id] = rec
	r.wg.Add(1)
	r.mu.Unlock()

	logs.CtxInfo(ctx, "[registry] submitted exec=%s files=%d", id, len(files))
	go r.execute(sink, files)
	return id, nil
}

func (r *Registry) get(id string) (*execution.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Status returns a snapshot; tail > 0 keeps only the last tail bytes of output.
func (r *Registry) Status(id string, tail int) (execution.Snapshot, error) {
	rec, err := r.get(id)
	if err != nil {
		return execution.Snapshot{}, err
	}
	return rec.Snapshot(tail), nil
}

// Cancel asks the execution to stop. Repeated calls, and calls on finished
// executions, are harmless.
func (r *Registry) Cancel(ctx context.Context, id string) (Ack, error) {
	rec, err := r.get(id)
	if err != nil {
		return Ack{}, err
	}
	status := rec.RequestCancel()
	if !status.Terminal() {
		logs.CtxInfo(ctx, "[registry] cancel requested exec=%s status=%s", id, status)
	}
	return Ack{ID: id, WasRunning: status == execution.StatusRunning, Status: status}, nil
}

// Remove cancels the execution if needed and forgets it. The pipeline still
// cleans up its workspace on the way out.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.RequestCancel()
	logs.CtxInfo(ctx, "[registry] removed exec=%s", id)
	return nil
}

// List returns snapshots of every record, oldest first, without output.
func (r *Registry) List() []execution.Snapshot {
	r.mu.RLock()
	recs := gmap.ToSlice(r.records, func(_ string, v *execution.Record) *execution.Record { return v })
	r.mu.RUnlock()

	out := make([]execution.Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap := rec.Snapshot(0)
		snap.Output = ""
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// WorkspaceRoot is the directory holding every live workspace.
func (r *Registry) WorkspaceRoot() string {
	return r.workspaces.Root()
}

// Wait blocks until the execution is terminal or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (execution.Snapshot, error) {
	rec, err := r.get(id)
	if err != nil {
		return execution.Snapshot{}, err
	}
	select {
	case <-rec.Done():
		return rec.Snapshot(0), nil
	case <-ctx.Done():
		return rec.Snapshot(0), ctx.Err()
	}
}

// Reap forgets terminal records that ended more than retention ago.
func (r *Registry) Reap(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.records {
		if !rec.Status().Terminal() {
			continue
		}
		if ended := rec.EndedAt(); !ended.IsZero() && ended.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n
}

// Shutdown refuses new work, stops every live execution and waits for their
// pipelines to clean up or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logs.CtxInfo(ctx, "[registry] all executions stopped")
		return nil
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[registry] shutdown timed out waiting for executions")
		return ctx.Err()
	}
}

// execute is the only writer of the record behind sink.
func (r *Registry) execute(sink *execution.Sink, files []execution.SubmittedFile) {
	defer r.wg.Done()
	rec := sink.Record()
	ctx := logs.WithExecID(r.ctx, rec.ID())
	defer func() {
		snap := rec.Snapshot(0)
		prometheus.ExecutionFinished(string(snap.Status), string(snap.Cause), time.Since(snap.CreatedAt))
	}()

	if !r.acquire(ctx, rec) {
		sink.Finish(canceled())
		return
	}
	defer r.release()

	ws, err := r.workspaces.Create(ctx, files)
	if err != nil {
		logs.CtxWarn(ctx, "[registry] %v", err)
		sink.Finish(failed(execution.CauseWorkspace, err))
		return
	}
	sink.SetWorkspace(ws.Dir())
	cleanup := func() { r.workspaces.Destroy(ctx, ws) }

	entry, err := r.resolver.Resolve(ws)
	if err != nil {
		cleanup()
		logs.CtxWarn(ctx, "[registry] %v", err)
		sink.Finish(failed(execution.CauseEntryPointNotFound, err))
		return
	}
	sink.SetEntryPoint(entry.Rel)
	logs.CtxInfo(ctx, "[registry] entry point %s via %s (%s)", entry.Rel, entry.Rule, entry.Runtime.Name)

	plan, err := r.adapter.Prepare(ctx, ws, entry.Path)
	if err != nil {
		logs.CtxWarn(ctx, "[registry] adaptation skipped: %v", err)
		plan = &adapter.Plan{}
	}
	logs.CtxInfo(ctx, "[registry] adaptation hazards=%v rewritten=%v port=%d", plan.Hazards(), plan.Rewritten, plan.Port)

	select {
	case <-rec.CancelRequested():
		cleanup()
		sink.Finish(canceled())
		return
	case <-ctx.Done():
		cleanup()
		sink.Finish(canceled())
		return
	default:
	}

	r.supervisor.Run(ctx, sink, supervisor.Launch{
		Argv:    entry.Runtime.Argv(filepath.FromSlash(entry.Rel)),
		Dir:     ws.Dir(),
		Env:     plan.Env,
		Cleanup: cleanup,
	})
}

// acquire waits for a concurrency slot. It gives up when the execution is
// canceled or the registry shuts down first.
func (r *Registry) acquire(ctx context.Context, rec *execution.Record) bool {
	if r.slots == nil {
		prometheus.ExecutionStarted()
		return true
	}
	select {
	case r.slots <- struct{}{}:
		prometheus.ExecutionStarted()
		return true
	case <-rec.CancelRequested():
	case <-ctx.Done():
	}
	return false
}

func (r *Registry) release() {
	prometheus.ExecutionReleased()
	if r.slots != nil {
		<-r.slots
	}
}

func failed(cause execution.Cause, err error) execution.Outcome {
	return execution.Outcome{Status: execution.StatusError, Cause: cause, Err: err}
}

func canceled() execution.Outcome {
	return execution.Outcome{
		Status: execution.StatusStopped,
		Cause:  execution.CauseCanceled,
		Err:    execution.ErrCancellationRequested,
	}
}
