package execution

import "errors"

var (
	ErrWorkspaceCreation     = errors.New("workspace creation failed")
	ErrEntryPointNotFound    = errors.New("entry point not found")
	ErrSpawnFailure          = errors.New("spawn failed")
	ErrRuntimeFailure        = errors.New("process exited with non-zero status")
	ErrTimeout               = errors.New("execution timed out")
	ErrCancellationRequested = errors.New("execution canceled")
)

// Cause classifies why an execution ended.
type Cause string

const (
	CauseNone               Cause = ""
	CauseWorkspace          Cause = "workspace"
	CauseEntryPointNotFound Cause = "entry_point_not_found"
	CauseSpawn              Cause = "spawn"
	CauseRuntime            Cause = "runtime"
	CauseTimeout            Cause = "timeout"
	CauseCanceled           Cause = "canceled"
)

var causeErrors = map[Cause]error{
	CauseWorkspace:          ErrWorkspaceCreation,
	CauseEntryPointNotFound: ErrEntryPointNotFound,
	CauseSpawn:              ErrSpawnFailure,
	CauseRuntime:            ErrRuntimeFailure,
	CauseTimeout:            ErrTimeout,
	CauseCanceled:           ErrCancellationRequested,
}

// Err returns the sentinel error for c, nil for CauseNone.
func (c Cause) Err() error {
	return causeErrors[c]
}

// CauseOf maps an error back to its Cause.
func CauseOf(err error) Cause {
	if err == nil {
		return CauseNone
	}
	for cause, sentinel := range causeErrors {
		if errors.Is(err, sentinel) {
			return cause
		}
	}
	return CauseRuntime
}
