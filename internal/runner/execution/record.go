// Package execution holds the lifecycle record of one submitted program.
package execution

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

type SubmittedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	}
	return false
}

// Outcome is the terminal result handed to Sink.Finish.
type Outcome struct {
	Status   Status
	Cause    Cause
	ExitCode *int
	Err      error
}

// Record tracks one execution. Only the Sink returned by NewRecord mutates
// it; everything else gets snapshots.
type Record struct {
	id        string
	createdAt time.Time

	mu         sync.RWMutex
	status     Status
	workspace  string
	entryPoint string
	chunks     []string
	size       int
	truncated  bool
	lastUpdate time.Time
	startedAt  time.Time
	endedAt    time.Time
	pid        int
	exitCode   *int
	cause      Cause
	errMsg     string

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

// Sink is the single writer of a Record.
type Sink struct {
	rec      *Record
	maxBytes int
	finished bool
}

// NewRecord creates a record in StatusInitializing and the only Sink able
// to mutate it. maxBytes caps the retained output; 0 means unlimited.
func NewRecord(id string, maxBytes int) (*Record, *Sink) {
	now := time.Now()
	rec := &Record{
		id:         id,
		createdAt:  now,
		status:     StatusInitializing,
		lastUpdate: now,
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	return rec, &Sink{rec: rec, maxBytes: maxBytes}
}

func (r *Record) ID() string { return r.id }

// Done is closed once the record reaches a terminal status.
func (r *Record) Done() <-chan struct{} { return r.done }

// CancelRequested is closed by the first RequestCancel call.
func (r *Record) CancelRequested() <-chan struct{} { return r.cancelCh }

// RequestCancel signals the owning supervisor. It reports the status observed
// at the time of the call; calling it again is harmless.
func (r *Record) RequestCancel() Status {
	r.mu.RLock()
	status := r.status
	r.mu.RUnlock()

	if !status.Terminal() {
		r.cancelOnce.Do(func() { close(r.cancelCh) })
	}
	return status
}

func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// EndedAt returns the terminal timestamp, zero while still live.
func (r *Record) EndedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endedAt
}

func (r *Record) Workspace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workspace
}

type Snapshot struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Output     string     `json:"output"`
	Truncated  bool       `json:"truncated"`
	LastUpdate time.Time  `json:"last_update"`
	EntryPoint string     `json:"entry_point,omitempty"`
	PID        int        `json:"pid,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Cause      Cause      `json:"cause,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Snapshot copies the record. tail > 0 limits Output to at most its last
// tail bytes, starting on a rune boundary.
func (r *Record) Snapshot(tail int) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		ID:         r.id,
		Status:     r.status,
		Output:     strings.Join(r.chunks, ""),
		Truncated:  r.truncated,
		LastUpdate: r.lastUpdate,
		EntryPoint: r.entryPoint,
		Cause:      r.cause,
		Error:      r.errMsg,
		CreatedAt:  r.createdAt,
	}
	if tail > 0 && len(snap.Output) > tail {
		from := len(snap.Output) - tail
		for from < len(snap.Output) && !utf8.RuneStart(snap.Output[from]) {
			from++
		}
		snap.Output = snap.Output[from:]
	}
	if r.status == StatusRunning {
		snap.PID = r.pid
	}
	if r.exitCode != nil {
		code := *r.exitCode
		snap.ExitCode = &code
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		snap.StartedAt = &t
	}
	if !r.endedAt.IsZero() {
		t := r.endedAt
		snap.EndedAt = &t
	}
	return snap
}

func (s *Sink) Record() *Record { return s.rec }

func (s *Sink) SetWorkspace(dir string) {
	s.rec.mu.Lock()
	s.rec.workspace = dir
	s.rec.mu.Unlock()
}

func (s *Sink) SetEntryPoint(rel string) {
	s.rec.mu.Lock()
	s.rec.entryPoint = rel
	s.rec.mu.Unlock()
}

// Running moves the record to StatusRunning with the child's pid.
func (s *Sink) Running(pid int) {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	if s.rec.status.Terminal() {
		return
	}
	now := time.Now()
	s.rec.status = StatusRunning
	s.rec.pid = pid
	s.rec.startedAt = now
	s.rec.lastUpdate = now
}

// Append adds one chunk of child output. Once the cap is reached further
// chunks are dropped and the record is marked truncated.
func (s *Sink) Append(chunk string) {
	if chunk == "" {
		return
	}
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	if s.rec.status.Terminal() {
		return
	}
	if s.maxBytes > 0 && s.rec.size+len(chunk) > s.maxBytes {
		room := s.maxBytes - s.rec.size
		for room > 0 && !utf8.RuneStart(chunk[room]) {
			room--
		}
		if room > 0 {
			s.rec.chunks = append(s.rec.chunks, chunk[:room])
			s.rec.size += room
		}
		s.rec.truncated = true
		s.rec.lastUpdate = time.Now()
		return
	}
	s.rec.chunks = append(s.rec.chunks, chunk)
	s.rec.size += len(chunk)
	s.rec.lastUpdate = time.Now()
}

// Finish applies the terminal outcome. Only the first call has any effect.
func (s *Sink) Finish(out Outcome) {
	if s.finished {
		return
	}
	s.finished = true
	if !out.Status.Terminal() {
		out.Status = StatusError
	}

	s.rec.mu.Lock()
	now := time.Now()
	s.rec.status = out.Status
	s.rec.cause = out.Cause
	s.rec.exitCode = out.ExitCode
	if out.Err != nil {
		s.rec.errMsg = out.Err.Error()
	}
	s.rec.pid = 0
	s.rec.endedAt = now
	s.rec.lastUpdate = now
	s.rec.mu.Unlock()

	close(s.rec.done)
}
