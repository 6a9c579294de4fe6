// Package gateway implements the meta-tool surface the agent sees:
// intelligent_route and execute_tool adapting the orchestrator and the
// connection pool, plus the task supervisor, role/provider listings and
// the client capability detector.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
	"github.com/agentic-warden/mcp-gateway/internal/util"
)

// TaskStatus is a background task's position in its lifecycle.
type TaskStatus string

const (
	TaskRunning         TaskStatus = "Running"
	TaskCompletedUnread TaskStatus = "CompletedUnread"
	TaskRead            TaskStatus = "Read"
	TaskFailed          TaskStatus = "Failed"
)

const (
	taskStopGrace  = 5 * time.Second
	maxLogRunes    = 16000
	defaultTaskCwd = "."
)

// dangerousCommandPatterns blocks a class of accidental-damage shell
// commands before a task is ever spawned (long-lived background tasks,
// not a synchronous tool call, so there is no per-call sandbox to catch
// these).
var dangerousCommandPatterns = []string{
	"rm -rf /",
	"rm -r -f /",
	"rm --recursive",
	"rm -rf ~",
	"rm -rf $home",
	"rm -rf ${home}",
	"rm -rf -- /",
	"rm -r -f -- /",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"halt",
	"init 0",
	"init 6",
	"systemctl poweroff",
	"systemctl halt",
	"pkill -9",
	"chmod -r 000 /",
	":(){:|:&};:",
	"format c:",
	"format d:",
	"del /s /q c:\\",
	"del /s /q d:\\",
	"rd /s /q c:\\",
	"rd /s /q d:\\",
	"remove-item -recurse c:",
	"remove-item -recurse d:",
}

func checkDangerous(command string) error {
	lower := strings.ToLower(command)
	for _, pattern := range dangerousCommandPatterns {
		if strings.Contains(lower, pattern) {
			return gwerr.New(gwerr.InvalidArgument, "command contains blocked pattern %q", pattern)
		}
	}
	return nil
}

// sensitiveEnvSuffixes/Prefixes and filterEnv strip credential-looking
// variables from the environment handed to a spawned task.
var sensitiveEnvSuffixes = []string{
	"_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_PASSWD",
	"_PASSPHRASE", "_CREDENTIALS", "_AUTH", "_DSN",
}

var sensitiveEnvPrefixes = []string{
	"DATABASE_URL", "REDIS_URL", "MONGO_URL",
}

func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) < 2 {
			continue
		}
		name := strings.ToUpper(parts[0])
		sensitive := false
		for _, suffix := range sensitiveEnvSuffixes {
			if strings.HasSuffix(name, suffix) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			for _, prefix := range sensitiveEnvPrefixes {
				if strings.HasPrefix(name, prefix) {
					sensitive = true
					break
				}
			}
		}
		if !sensitive {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// TaskRecord is the externally visible shape of a background task.
type TaskRecord struct {
	ID          string
	Command     string
	Args        []string
	Cwd         string
	PID         int
	Status      TaskStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	LogPath     string
	ExitCode    int
}

type task struct {
	mu     sync.Mutex
	record TaskRecord
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskSupervisor runs and tracks background processes started via
// start_task: each process is spawned with exec.CommandContext and a
// filterEnv-filtered environment, tracked by PID/status, and its logs are
// read from disk on demand.
type TaskSupervisor struct {
	mu     sync.Mutex
	tasks  map[string]*task
	logDir string
}

// NewTaskSupervisor creates a supervisor that writes task logs under logDir.
func NewTaskSupervisor(logDir string) *TaskSupervisor {
	return &TaskSupervisor{
		tasks:  make(map[string]*task),
		logDir: logDir,
	}
}

// Start spawns command with args in cwd (defaulting to the current
// directory) and returns its TaskRecord immediately; the process runs in
// the background and is tracked until Stop or process exit.
func (s *TaskSupervisor) Start(ctx context.Context, command string, args []string, cwd string) (TaskRecord, error) {
	if command == "" {
		return TaskRecord{}, gwerr.New(gwerr.InvalidArgument, "start_task: command is required")
	}
	full := command
	if len(args) > 0 {
		full = command + " " + strings.Join(args, " ")
	}
	if err := checkDangerous(full); err != nil {
		return TaskRecord{}, err
	}
	if cwd == "" {
		cwd = defaultTaskCwd
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return TaskRecord{}, gwerr.Wrap(gwerr.UnavailableBackend, err, "start_task: create log directory")
	}
	id := uuid.NewString()
	logPath := filepath.Join(s.logDir, id+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return TaskRecord{}, gwerr.Wrap(gwerr.UnavailableBackend, err, "start_task: create log file")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = cwd
	cmd.Env = filterEnv(os.Environ())
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		cancel()
		logFile.Close()
		return TaskRecord{}, gwerr.Wrap(gwerr.TransportError, err, "start_task: spawn %q", command)
	}

	t := &task{
		record: TaskRecord{
			ID:        id,
			Command:   command,
			Args:      args,
			Cwd:       cwd,
			PID:       cmd.Process.Pid,
			Status:    TaskRunning,
			StartedAt: time.Now(),
			LogPath:   logPath,
		},
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		logFile.Close()
		cancel()

		t.mu.Lock()
		now := time.Now()
		t.record.CompletedAt = &now
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				t.record.ExitCode = exitErr.ExitCode()
			} else {
				t.record.ExitCode = -1
			}
			t.record.Status = TaskFailed
		} else {
			t.record.ExitCode = 0
			t.record.Status = TaskCompletedUnread
		}
		t.mu.Unlock()
		close(t.done)
	}()

	return t.record, nil
}

// Stop terminates a running task: an interrupt signal first (Kill directly
// on Windows, which has no interrupt), escalating to Kill after
// taskStopGrace if the process hasn't exited.
func (s *TaskSupervisor) Stop(taskID string) error {
	t, err := s.get(taskID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	status := t.record.Status
	t.mu.Unlock()
	if status != TaskRunning {
		return nil
	}

	if runtime.GOOS == "windows" {
		if err := t.cmd.Process.Kill(); err != nil {
			return gwerr.Wrap(gwerr.TransportError, err, "stop_task: kill %s", taskID)
		}
		return nil
	}

	if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
		// Process may have already exited between the status check and here.
		return nil
	}

	select {
	case <-t.done:
	case <-time.After(taskStopGrace):
		_ = t.cmd.Process.Kill()
		<-t.done
	}
	return nil
}

// List returns a snapshot of every tracked task, most recently started first.
func (s *TaskSupervisor) List() []TaskRecord {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		out = append(out, t.record)
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Status returns the current TaskRecord for taskID, marking a freshly
// completed task as Read on this first observation.
func (s *TaskSupervisor) Status(taskID string) (TaskRecord, error) {
	t, err := s.get(taskID)
	if err != nil {
		return TaskRecord{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status == TaskCompletedUnread {
		t.record.Status = TaskRead
	}
	return t.record, nil
}

// Logs reads the task's log file starting at fromOffset (bytes), returning
// the new content and the offset to resume from on the next call. Reading
// logs of a completed task also marks it Read.
func (s *TaskSupervisor) Logs(taskID string, fromOffset int64) (content string, nextOffset int64, err error) {
	t, gerr := s.get(taskID)
	if gerr != nil {
		return "", 0, gerr
	}

	t.mu.Lock()
	logPath := t.record.LogPath
	if t.record.Status == TaskCompletedUnread {
		t.record.Status = TaskRead
	}
	t.mu.Unlock()

	f, oerr := os.Open(logPath)
	if oerr != nil {
		return "", 0, gwerr.Wrap(gwerr.TransportError, oerr, "get_task_logs: open log for %s", taskID)
	}
	defer f.Close()

	info, serr := f.Stat()
	if serr != nil {
		return "", 0, gwerr.Wrap(gwerr.TransportError, serr, "get_task_logs: stat log for %s", taskID)
	}
	size := info.Size()
	if fromOffset < 0 || fromOffset > size {
		fromOffset = 0
	}

	buf := make([]byte, size-fromOffset)
	if len(buf) > 0 {
		if _, rerr := f.ReadAt(buf, fromOffset); rerr != nil {
			return "", 0, gwerr.Wrap(gwerr.TransportError, rerr, "get_task_logs: read log for %s", taskID)
		}
	}
	return truncateRunes(string(buf), maxLogRunes), size, nil
}

func (s *TaskSupervisor) get(taskID string) (*task, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.NotFound, "task %q not found", taskID)
	}
	return t, nil
}

// truncateRunes truncates log content to maxRunes, noting the full size when
// it does. util.TruncateRunes does the cutting; get_task_logs additionally
// wants the original rune count so the caller knows how much was dropped,
// which the shared helper's plain "..." suffix doesn't carry.
func truncateRunes(s string, maxRunes int) string {
	total := utf8.RuneCountInString(s)
	if total <= maxRunes {
		return s
	}
	cut := util.TruncateRunes(s, maxRunes)
	cut = strings.TrimSuffix(cut, "...")
	return cut + fmt.Sprintf("\n... (truncated, %d characters total)", total)
}
