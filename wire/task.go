package wire

// TaskState is the closed sum type a persisted Task's state belongs
// to.
type TaskState string

const (
	TaskAnnounce TaskState = "announce"
	TaskPaired   TaskState = "paired"
	TaskFinish   TaskState = "finish"
	TaskFinished TaskState = "finished"
)

// Task is the persisted user intent to mix. Persistence itself is an
// identity-store collaborator concern; Task is the in-memory shape the
// coordinator mutates and hands back.
type Task struct {
	SessionID string
	State     TaskState
	Tx        string // hex of the prepared transaction
	Total     int64
	Change    int64
	Fee       int64
	Timeout   int64 // seconds, default 60
	Start     int64 // epoch seconds, set on first announce
	Ping      int64 // epoch seconds, last forward progress
	PrivKeys  []byte // encrypted JSON blob of host input keys
}

// Clone returns a deep-enough copy for safe mutation by a Session
// without aliasing the caller's Task.
func (t *Task) Clone() *Task {
	cp := *t
	if t.PrivKeys != nil {
		cp.PrivKeys = append([]byte(nil), t.PrivKeys...)
	}
	return &cp
}
