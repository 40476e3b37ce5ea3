package sandbox

// WorkerSpec is the init contract between the manager and the execworker
// helper binary. The manager pipes it to the helper as JSON on stdin; the
// helper applies the limits and environment, changes into the workspace and
// execs the guest command.
type WorkerSpec struct {
	WorkDir string       `json:"work_dir"`
	Cmd     []string     `json:"cmd"`
	Env     []string     `json:"env"`
	Limits  LimitProfile `json:"limits"`
}
