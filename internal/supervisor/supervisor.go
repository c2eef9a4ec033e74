package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/tmpdir"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for SIGTERM to work.
const DefaultShutdownTimeout = 3 * time.Second

const (
	pollInterval = 250 * time.Millisecond
	// waitDelay bounds how long Wait keeps draining pipes that a grandchild
	// still holds open after the direct child exited.
	waitDelay = time.Second
)

// SpawnOptions configures a single Spawn call.
type SpawnOptions struct {
	// AllowTermination lets Shutdown signal the process.
	AllowTermination bool
	// Timeout kills the process with SIGKILL once elapsed. Zero means none.
	Timeout time.Duration
	Dir     string
	Env     []string
	// Stdout and Stderr receive a copy of the respective stream.
	Stdout io.Writer
	Stderr io.Writer
	// OnOutput is invoked for every chunk after it was logged. Calls for one
	// Source are sequential.
	OnOutput func(Source, []byte)
}

// Supervisor owns the live set of tasks.
type Supervisor struct {
	root *tmpdir.Root
	log  *logging.Logger

	mu     sync.Mutex
	nextID int
	tasks  map[int]*Task
}

// New creates a Supervisor that writes task logs below root.
func New(root *tmpdir.Root) *Supervisor {
	return &Supervisor{
		root:  root,
		log:   logging.With("supervisor"),
		tasks: make(map[int]*Task),
	}
}

// Spawn starts name with args. It never returns an error; a failure to start
// is recorded in the task log and returned by Task.Wait.
func (s *Supervisor) Spawn(name string, args []string, opts SpawnOptions) *Task {
	t := &Task{
		Command:          name,
		Args:             append([]string(nil), args...),
		StartedAt:        time.Now(),
		AllowTermination: opts.AllowTermination,
		onOutput:         opts.OnOutput,
		sinks:            [2]io.Writer{opts.Stdout, opts.Stderr},
		state:            StateSpawned,
		exitCode:         -1,
		done:             make(chan struct{}),
	}
	label := filepath.Base(name)
	metrics.TasksSpawnedTotal.WithLabelValues(label).Inc()

	if err := s.openLog(t); err != nil {
		s.log.Warn("task log unavailable for %s: %v", name, err)
	}
	t.writeStartRecord()

	ctx := context.Background()
	if opts.Timeout > 0 {
		ctx, t.cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	cmd.Stdout = streamWriter{task: t, src: Stdout}
	cmd.Stderr = streamWriter{task: t, src: Stderr}
	cmd.WaitDelay = waitDelay
	t.cmd = cmd

	if err := cmd.Start(); err != nil {
		t.logf("An error occurred: %v", err)
		t.finish(fmt.Errorf("spawn %s: %w", name, err), StateErrored)
		metrics.TasksClosedTotal.WithLabelValues(label, "spawn_error").Inc()
		s.log.Warn("task %d failed to start %s: %v", t.ID, name, err)
		return t
	}

	t.mu.Lock()
	t.pid = cmd.Process.Pid
	t.state = StateRunning
	t.mu.Unlock()
	t.logf("Got PID #%d", cmd.Process.Pid)

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	metrics.TasksRunning.Inc()
	s.log.Debug("task %d started %s (pid %d)", t.ID, name, cmd.Process.Pid)

	go s.wait(t, label)
	return t
}

// openLog reserves the next task id and creates its log file. Ids that
// collide with logs from an earlier run of the same day are skipped.
func (s *Supervisor) openLog(t *Task) error {
	if s.root == nil {
		s.mu.Lock()
		t.ID = s.nextID
		s.nextID++
		s.mu.Unlock()
		return errors.New("no temp root configured")
	}

	dir, err := s.root.TaskLogDir(t.StartedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		t.ID = s.nextID
		s.nextID++
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("%d.log", t.ID))
		f, openErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if errors.Is(openErr, os.ErrExist) {
			continue
		}
		if openErr != nil {
			return openErr
		}
		t.LogPath = path
		t.logOut = f
		return nil
	}
}

func (s *Supervisor) wait(t *Task, label string) {
	waitErr := t.cmd.Wait()
	if t.cancel != nil {
		t.cancel()
	}

	code, sig := exitStatus(t.cmd.ProcessState)
	sigLabel := "null"
	if sig != "" {
		sigLabel = sig
	}
	t.logf("The process exited (code=%d, signal=%s).", code, sigLabel)
	if waitErr != nil && !errors.As(waitErr, new(*exec.ExitError)) {
		t.logf("An error occurred: %v", waitErr)
	}
	t.logf("The process exited and closed all stdio streams (code=%d, signal=%s).", code, sigLabel)

	t.mu.Lock()
	t.exitCode = code
	t.signal = sig
	t.mu.Unlock()

	outcome := "success"
	var err error
	state := StateExited
	switch {
	case sig != "":
		outcome = "signaled"
		state = StateErrored
	case code != 0:
		outcome = "exit_error"
		state = StateErrored
	}
	if state == StateErrored {
		err = &ExitError{
			TaskID:  t.ID,
			Command: t.Command,
			Code:    code,
			Signal:  sig,
			LogPath: t.LogPath,
			Stderr:  t.stderrTail(),
		}
	}

	s.mu.Lock()
	delete(s.tasks, t.ID)
	s.mu.Unlock()

	metrics.TasksRunning.Dec()
	metrics.TasksClosedTotal.WithLabelValues(label, outcome).Inc()
	metrics.TaskDuration.WithLabelValues(label).Observe(time.Since(t.StartedAt).Seconds())
	s.log.Debug("task %d (%s) closed: code=%d signal=%s", t.ID, t.Command, code, sigLabel)

	t.finish(err, state)
}

// finish records the outcome, releases the log and closes Done.
func (t *Task) finish(err error, state State) {
	t.mu.Lock()
	t.err = err
	t.state = state
	t.mu.Unlock()

	t.closeLog()
	t.setState(StateClosed)
	close(t.done)
}

// Running returns the live tasks ordered by id.
func (s *Supervisor) Running() []*Task {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Shutdown terminates every live task spawned with AllowTermination. Tasks
// still alive after timeout receive SIGKILL. Other tasks are left running.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	for _, t := range s.Running() {
		if !t.AllowTermination {
			t.logf("Received shutdown request - Refrained from terminating it as it has been initialized with 'allowTermination=false'")
			s.log.Info("leaving task %d (%s) running", t.ID, t.Command)
			continue
		}
		if !IsProcessRunning(t.PID()) {
			continue
		}

		t.logf("Received shutdown request: Sending signal 'SIGTERM'")
		metrics.ShutdownSignalsTotal.WithLabelValues("SIGTERM").Inc()
		if err := t.signalProcess(unix.SIGTERM); err != nil {
			t.logf("Error sending signal 'SIGTERM' - Try to forcefully exit the process via signal 'SIGKILL' now")
			metrics.ShutdownSignalsTotal.WithLabelValues("SIGKILL").Inc()
			_ = t.signalProcess(unix.SIGKILL)
		}
	}

	deadline := time.Now().Add(timeout)
	for s.terminableAlive() > 0 {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		time.Sleep(min(pollInterval, left))
	}

	for _, t := range s.Running() {
		if !t.AllowTermination || !t.Alive() {
			continue
		}
		t.logf("Timeout of shutdown request exceeded - Forcefully killing the process by sending 'SIGKILL'")
		s.log.Warn("task %d (%s) ignored SIGTERM, sending SIGKILL", t.ID, t.Command)
		metrics.ShutdownSignalsTotal.WithLabelValues("SIGKILL").Inc()
		_ = t.signalProcess(unix.SIGKILL)
	}
}

func (s *Supervisor) terminableAlive() int {
	n := 0
	for _, t := range s.Running() {
		if t.AllowTermination && t.Alive() {
			n++
		}
	}
	return n
}

// IsProcessRunning reports whether pid exists. A process owned by another
// user (EPERM) counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Usage is a resource snapshot of one live task.
type Usage struct {
	PID        int
	RSS        uint64
	CPUPercent float64
}

// Usage samples memory and CPU of a live task.
func (s *Supervisor) Usage(t *Task) (Usage, error) {
	pid := t.PID()
	if pid <= 0 || !t.Alive() {
		return Usage{}, fmt.Errorf("task %d is not running", t.ID)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("inspect pid %d: %w", pid, err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("memory info for pid %d: %w", pid, err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		cpu = 0
	}
	return Usage{PID: pid, RSS: mem.RSS, CPUPercent: cpu}, nil
}

// ResidentBytes sums the RSS of every live task. Tasks that cannot be
// sampled are skipped.
func (s *Supervisor) ResidentBytes() uint64 {
	var total uint64
	for _, t := range s.Running() {
		if u, err := s.Usage(t); err == nil {
			total += u.RSS
		}
	}
	return total
}
