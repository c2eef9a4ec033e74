package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Source identifies which output stream a chunk came from.
type Source int

const (
	Stdout Source = iota
	Stderr
)

func (s Source) tag() string {
	if s == Stderr {
		return "[ERR] "
	}
	return "[OUT] "
}

// State is the lifecycle position of a Task.
type State int

const (
	StateSpawned State = iota
	StateRunning
	StateExited
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const stderrTailSize = 4 << 10

// ExitError reports a process that exited non-zero or was killed by a signal.
type ExitError struct {
	TaskID  int
	Command string
	Code    int
	Signal  string
	LogPath string
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("task %d (%s) terminated by %s (log: %s)", e.TaskID, e.Command, e.Signal, e.LogPath)
	}
	return fmt.Sprintf("task %d (%s) exited with code %d (log: %s)", e.TaskID, e.Command, e.Code, e.LogPath)
}

// Task is one supervised process.
type Task struct {
	ID               int
	Command          string
	Args             []string
	StartedAt        time.Time
	LogPath          string
	AllowTermination bool

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	onOutput func(Source, []byte)
	sinks    [2]io.Writer

	logMu  sync.Mutex
	logOut io.WriteCloser
	tail   []byte

	mu       sync.Mutex
	state    State
	pid      int
	exitCode int
	signal   string
	err      error
	done     chan struct{}
}

// PID returns the process id, or 0 if the process never started.
func (t *Task) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Done is closed once the process has exited and all of its output was logged.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task is closed or ctx ends. Cancelling ctx does not
// stop the process.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the spawn or exit error once the task is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Alive reports whether the task has not been closed yet.
func (t *Task) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Terminate asks the process to stop with SIGTERM and falls back to SIGKILL
// when the signal cannot be delivered.
func (t *Task) Terminate() error {
	if !t.Alive() {
		return nil
	}
	if err := t.signalProcess(unix.SIGTERM); err != nil {
		t.logf("Error sending signal 'SIGTERM' (%v) - forcefully exiting the process via 'SIGKILL'", err)
		return t.signalProcess(unix.SIGKILL)
	}
	return nil
}

// Kill sends SIGKILL.
func (t *Task) Kill() error {
	if !t.Alive() {
		return nil
	}
	return t.signalProcess(unix.SIGKILL)
}

func (t *Task) signalProcess(sig os.Signal) error {
	if t.cmd == nil || t.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return t.cmd.Process.Signal(sig)
}

// logf writes a supervisor record to the task log.
func (t *Task) logf(format string, args ...any) {
	t.writeRecord("[Supervisor] ", []byte(fmt.Sprintf(format, args...)))
}

func (t *Task) writeRecord(tag string, chunk []byte) {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	if t.logOut == nil {
		return
	}
	buf := make([]byte, 0, len(tag)+len(chunk)+1)
	buf = append(buf, tag...)
	buf = append(buf, chunk...)
	buf = append(buf, '\n')
	_, _ = t.logOut.Write(buf)
}

func (t *Task) closeLog() {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	if t.logOut != nil {
		_ = t.logOut.Close()
		t.logOut = nil
	}
}

func (t *Task) writeStartRecord() {
	record, _ := json.MarshalIndent(struct {
		SystemTime       string   `json:"systemTime"`
		Command          string   `json:"command"`
		Args             []string `json:"args"`
		AllowTermination bool     `json:"allowTermination"`
	}{
		SystemTime:       t.StartedAt.UTC().Format(time.RFC1123),
		Command:          t.Command,
		Args:             t.Args,
		AllowTermination: t.AllowTermination,
	}, "", "  ")
	t.logf("Starting process %s", record)
}

// output receives one chunk from the stdout or stderr copy goroutine.
func (t *Task) output(src Source, p []byte) {
	t.writeRecord(src.tag(), p)

	if src == Stderr {
		t.logMu.Lock()
		t.tail = append(t.tail, p...)
		if over := len(t.tail) - stderrTailSize; over > 0 {
			t.tail = append(t.tail[:0], t.tail[over:]...)
		}
		t.logMu.Unlock()
	}

	if sink := t.sinks[src]; sink != nil {
		_, _ = sink.Write(p)
	}
	if t.onOutput != nil {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		t.onOutput(src, chunk)
	}
}

func (t *Task) stderrTail() string {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	return string(t.tail)
}

type streamWriter struct {
	task *Task
	src  Source
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.task.output(w.src, p)
	return len(p), nil
}

// exitStatus extracts the exit code and terminating signal name.
func exitStatus(ps *os.ProcessState) (int, string) {
	if ps == nil {
		return -1, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, unix.SignalName(ws.Signal())
	}
	return ps.ExitCode(), ""
}
