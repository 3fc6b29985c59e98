// Package lifecycle is the Unit Lifecycle Manager: it starts, stops, and
// reports status for both unit kinds a conceptkernel.yaml can declare. A
// unit's watcher is a detached, self-reexecuted process (forked via the
// ckcore binary's hidden "unit __supervise" command) so that PID discipline
// is visible on disk to every later CLI invocation, not just the process
// that started it — the filesystem, not an in-memory map, is the source of
// truth. Hot units keep their tool process alive under bounded exponential
// backoff and coexist with it as two PID files; cold units' watcher spawns
// the tool once per inbox job and waits for it to exit. PID discipline is
// delegated to internal/pidfile, restart history to internal/proctrack, and
// mutating transitions to internal/audit.
package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"ckcore/internal/audit"
	"ckcore/internal/ckerrors"
	"ckcore/internal/fswatch"
	"ckcore/internal/logging"
	"ckcore/internal/pidfile"
	"ckcore/internal/proctrack"
	"ckcore/internal/unitconfig"
)

// State reports a unit's current run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

// Mode reports whether a running unit's tool is currently doing work.
type Mode string

const (
	ModeIdle Mode = "IDLE"
	ModeBusy Mode = "BUSY"
)

// Status is a point-in-time snapshot of one unit, read entirely off disk so
// it reflects reality regardless of which process last called Start.
type Status struct {
	Unit       string
	Kind       unitconfig.UnitKind
	State      State
	Mode       Mode
	WatcherPid int
	ToolPid    int
	Uptime     time.Duration
}

// maxConsecutiveFastExits bounds the crash-restart loop: a hot unit whose
// tool exits faster than its own initial backoff delay this many times in a
// row is considered permanently broken rather than retried forever.
const maxConsecutiveFastExits = 5

// Manager supervises every unit under a single project root.
type Manager struct {
	root  string
	proc  *proctrack.Tracker
	audit *audit.Log
}

// New constructs a lifecycle manager rooted at a project directory.
func New(root string) (*Manager, error) {
	proc, err := proctrack.New(root)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(root)
	if err != nil {
		return nil, err
	}
	return &Manager{root: root, proc: proc, audit: auditLog}, nil
}

func (m *Manager) unitDir(name string) string {
	return filepath.Join(m.root, "concepts", name)
}

func watcherPidPath(unitDir string) string   { return filepath.Join(unitDir, ".watcher.pid") }
func toolPidPath(unitDir string) string      { return filepath.Join(unitDir, ".tool.pid") }
func failedMarkerPath(unitDir string) string { return filepath.Join(unitDir, ".failed") }

// supervisorEntrypoint resolves the executable re-exec'd as a unit's
// detached watcher process. Overridable in tests so they don't depend on a
// real ckcore binary existing on disk.
var supervisorEntrypoint = os.Executable

// Start brings a unit up: it forks a detached watcher process (the ckcore
// binary itself, invoked with the hidden "unit __supervise" subcommand) and
// records its PID in .watcher.pid before returning. Fails if a live watcher
// already holds that PID file.
func (m *Manager) Start(ctx context.Context, name string) error {
	log := logging.Get(logging.CategoryLifecycle)
	unitDir := m.unitDir(name)

	cfg, err := unitconfig.LoadUnitConfig(filepath.Join(unitDir, "conceptkernel.yaml"))
	if err != nil {
		return err
	}

	watcherPath := watcherPidPath(unitDir)
	if pid, _, err := pidfile.Read(watcherPath); err == nil && pidfile.IsRunning(pid) {
		return ckerrors.Newf(ckerrors.CodeProcess, name, "unit %s already running (watcher pid %d)", name, pid)
	}
	_ = pidfile.Remove(failedMarkerPath(unitDir))

	exe, err := supervisorEntrypoint()
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeProcess, name, err)
	}

	logPath := filepath.Join(unitDir, ".watcher.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, logPath, err)
	}

	cmd := exec.Command(exe, "--workspace", m.root, "unit", "__supervise", name)
	cmd.Dir = unitDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return ckerrors.Wrap(ckerrors.CodeProcess, name, err)
	}
	// The child owns its own stdout/stderr fds now; drop our reference so we
	// don't leak the descriptor in this short-lived CLI process.
	logFile.Close()

	if _, err := pidfile.Create(watcherPath, cmd.Process.Pid, time.Now()); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	log.Info("started unit %s watcher (pid %d, kind=%s)", name, cmd.Process.Pid, cfg.Spec.Kind)
	return m.audit.Record("cli", audit.EventUnitStarted, name, string(cfg.Spec.Kind))
}

// Supervise is the body of the detached watcher process forked by Start. It
// blocks until ctx is cancelled (the process receives SIGTERM) or the unit
// is declared permanently failed. Called only from the hidden
// "unit __supervise" CLI command, never from a normal Start/Stop/Status
// caller.
func (m *Manager) Supervise(ctx context.Context, name string) error {
	unitDir := m.unitDir(name)
	watcherPath := watcherPidPath(unitDir)
	defer func() { _ = pidfile.Remove(watcherPath) }()

	cfg, err := unitconfig.LoadUnitConfig(filepath.Join(unitDir, "conceptkernel.yaml"))
	if err != nil {
		return err
	}

	if cfg.Spec.Kind == unitconfig.KindHot {
		return m.superviseHot(ctx, name, unitDir, cfg)
	}
	return m.superviseCold(ctx, name, unitDir, cfg)
}

// superviseHot keeps the unit's tool process alive for the lifetime of the
// watcher, restarting it under bounded exponential backoff after a crash and
// giving up permanently after maxConsecutiveFastExits crashes in a row
// faster than the configured initial backoff.
func (m *Manager) superviseHot(ctx context.Context, name, unitDir string, cfg *unitconfig.UnitConfig) error {
	log := logging.Get(logging.CategoryLifecycle)
	binPath := filepath.Join(unitDir, cfg.Spec.Entrypoint)
	toolPath := toolPidPath(unitDir)

	delay := cfg.InitialBackoff()
	maxDelay := cfg.MaxBackoff()
	fastExits := 0

	for {
		select {
		case <-ctx.Done():
			_ = pidfile.Remove(toolPath)
			return nil
		default:
		}

		cmd := exec.CommandContext(ctx, binPath)
		cmd.Dir = unitDir

		startedAt := time.Now()
		if err := cmd.Start(); err != nil {
			log.Error("unit %s: failed to start tool: %v", name, err)
		} else {
			pf, err := pidfile.Create(toolPath, cmd.Process.Pid, startedAt)
			if err != nil {
				log.Warn("unit %s: tool pidfile create failed: %v", name, err)
			}

			processURN, _ := m.proc.RecordStart(name, proctrack.KindTool, cmd.Process.Pid)
			waitErr := cmd.Wait()
			exitCode := 0
			if waitErr != nil {
				exitCode = 1
			}
			_ = m.proc.RecordExit(processURN, name, proctrack.KindTool, cmd.Process.Pid, exitCode)
			if pf != nil {
				_ = pf.Release()
			}

			select {
			case <-ctx.Done():
				return nil
			default:
			}

			if waitErr == nil {
				log.Info("unit %s tool exited cleanly, not restarting", name)
				return nil
			}

			if time.Since(startedAt) < cfg.InitialBackoff() {
				fastExits++
			} else {
				fastExits = 0
			}
			if fastExits >= maxConsecutiveFastExits {
				log.Error("unit %s: tool crashed %d times in a row faster than its initial backoff, giving up", name, fastExits)
				_ = os.WriteFile(failedMarkerPath(unitDir), []byte(time.Now().Format(time.RFC3339)+"\n"), 0644)
				_ = m.audit.Record(name, audit.EventUnitStopped, name, "failed")
				return ckerrors.Newf(ckerrors.CodeProcess, name, "unit %s failed permanently after %d fast crashes", name, fastExits)
			}
			log.Warn("unit %s tool crashed: %v, restarting in %s", name, waitErr, delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Spec.Backoff.Multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// superviseCold observes the unit's inbox and spawns the tool once per job,
// waiting for it to exit before resuming observation. No restart backoff
// applies: a one-shot failure simply ends that invocation, and the job
// itself is left for the tool's own kernelapi bookkeeping to route to
// queue/failed.
func (m *Manager) superviseCold(ctx context.Context, name, unitDir string, cfg *unitconfig.UnitConfig) error {
	log := logging.Get(logging.CategoryLifecycle)
	binPath := filepath.Join(unitDir, cfg.Spec.Entrypoint)
	inbox := filepath.Join(unitDir, "queue", "inbox")
	toolPath := toolPidPath(unitDir)

	jobs := make(chan struct{}, 1)
	watcher, err := fswatch.New(inbox, func(_ fsnotify.Event) {
		select {
		case jobs <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-jobs:
			entries, err := os.ReadDir(inbox)
			if err != nil || len(entries) == 0 {
				continue
			}

			cmd := exec.CommandContext(ctx, binPath)
			cmd.Dir = unitDir

			if err := cmd.Start(); err != nil {
				log.Error("unit %s: failed to start tool for job: %v", name, err)
				continue
			}
			pf, perr := pidfile.Create(toolPath, cmd.Process.Pid, time.Now())
			if perr != nil {
				log.Warn("unit %s: tool pidfile create failed: %v", name, perr)
			}

			processURN, _ := m.proc.RecordStart(name, proctrack.KindTool, cmd.Process.Pid)
			waitErr := cmd.Wait()
			exitCode := 0
			if waitErr != nil {
				exitCode = 1
			}
			_ = m.proc.RecordExit(processURN, name, proctrack.KindTool, cmd.Process.Pid, exitCode)
			if pf != nil {
				_ = pf.Release()
			}
			if waitErr != nil {
				log.Warn("unit %s: job tool exited with error: %v", name, waitErr)
			}
		}
	}
}

// terminate sends SIGTERM to pid and waits up to timeout for it to exit,
// escalating to SIGKILL if it is still alive afterward.
func terminate(pid int, timeout time.Duration) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pidfile.IsRunning(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if pidfile.IsRunning(pid) {
		_ = proc.Signal(syscall.SIGKILL)
	}
}

// Stop reads .tool.pid and .watcher.pid off disk and terminates whichever of
// them is alive, tool first then watcher, escalating to force-kill on
// timeout, then removes both PID files. A no-op if neither was running.
func (m *Manager) Stop(name string) error {
	log := logging.Get(logging.CategoryLifecycle)
	unitDir := m.unitDir(name)
	toolPath := toolPidPath(unitDir)
	watcherPath := watcherPidPath(unitDir)

	stoppedAny := false

	if pid, _, err := pidfile.Read(toolPath); err == nil && pidfile.IsRunning(pid) {
		terminate(pid, 5*time.Second)
		stoppedAny = true
	}
	_ = pidfile.Remove(toolPath)

	if pid, _, err := pidfile.Read(watcherPath); err == nil && pidfile.IsRunning(pid) {
		terminate(pid, 5*time.Second)
		stoppedAny = true
	}
	_ = pidfile.Remove(watcherPath)

	if !stoppedAny {
		return nil
	}
	log.Info("stopped unit %s", name)
	return m.audit.Record("cli", audit.EventUnitStopped, name, "")
}

// Status reports a unit's current state read entirely from its PID files
// and .failed marker, so it is accurate regardless of which process
// started the unit.
func (m *Manager) Status(name string) (Status, error) {
	unitDir := m.unitDir(name)

	cfg, err := unitconfig.LoadUnitConfig(filepath.Join(unitDir, "conceptkernel.yaml"))
	if err != nil {
		return Status{}, err
	}

	if _, err := os.Stat(failedMarkerPath(unitDir)); err == nil {
		return Status{Unit: name, Kind: cfg.Spec.Kind, State: StateFailed, Mode: ModeIdle}, nil
	}

	watcherPid, watcherStart, werr := pidfile.Read(watcherPidPath(unitDir))
	watcherAlive := werr == nil && pidfile.IsRunning(watcherPid)
	if !watcherAlive {
		return Status{Unit: name, Kind: cfg.Spec.Kind, State: StateStopped, Mode: ModeIdle}, nil
	}

	toolPid, _, terr := pidfile.Read(toolPidPath(unitDir))
	toolAlive := terr == nil && pidfile.IsRunning(toolPid)

	mode := ModeIdle
	if toolAlive {
		mode = ModeBusy
	}

	status := Status{
		Unit:       name,
		Kind:       cfg.Spec.Kind,
		State:      StateRunning,
		Mode:       mode,
		WatcherPid: watcherPid,
	}
	if toolAlive {
		status.ToolPid = toolPid
	}
	if !watcherStart.IsZero() {
		status.Uptime = time.Since(watcherStart)
	}
	return status, nil
}
