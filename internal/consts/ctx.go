package consts

// CtxKey is the type used for context value keys across launchpad.
type CtxKey string

const (
	CtxKeyLogID  CtxKey = "log_id"
	CtxKeyExecID CtxKey = "exec_id"
)
