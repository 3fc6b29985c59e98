package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckcore/internal/pidfile"
	"ckcore/internal/unitconfig"
)

func writeUnit(t *testing.T, root, name string, cfg *unitconfig.UnitConfig) string {
	t.Helper()
	dir := filepath.Join(root, "concepts", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, cfg.Save(filepath.Join(dir, "conceptkernel.yaml")))
	return dir
}

// stubSupervisor writes a shell script that ignores its argv and sleeps,
// standing in for the ckcore binary a real Start would re-exec into. Tests
// override supervisorEntrypoint to point at it instead of requiring a real
// built binary.
func stubSupervisor(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "supervisor_stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func withSupervisorStub(t *testing.T, path string) {
	t.Helper()
	prev := supervisorEntrypoint
	supervisorEntrypoint = func() (string, error) { return path, nil }
	t.Cleanup(func() { supervisorEntrypoint = prev })
}

func TestStartColdUnitReportsRunningIdle(t *testing.T) {
	root := t.TempDir()
	cfg := unitconfig.DefaultUnitConfig("Scanner")
	cfg.Spec.Kind = unitconfig.KindCold
	cfg.Spec.Type = "python:tool"
	writeUnit(t, root, "Scanner", cfg)

	withSupervisorStub(t, stubSupervisor(t, root, "sleep 2\n"))

	m, err := New(root)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background(), "Scanner"))
	t.Cleanup(func() { _ = m.Stop("Scanner") })

	status, err := m.Status("Scanner")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, ModeIdle, status.Mode)
	assert.NotZero(t, status.WatcherPid)

	require.NoError(t, m.Stop("Scanner"))

	status, err = m.Status("Scanner")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
}

func TestStartAlreadyRunningUnitErrors(t *testing.T) {
	root := t.TempDir()
	cfg := unitconfig.DefaultUnitConfig("Watcher")
	cfg.Spec.Kind = unitconfig.KindHot
	writeUnit(t, root, "Watcher", cfg)

	withSupervisorStub(t, stubSupervisor(t, root, "sleep 2\n"))

	m, err := New(root)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background(), "Watcher"))
	t.Cleanup(func() { _ = m.Stop("Watcher") })

	err = m.Start(context.Background(), "Watcher")
	assert.Error(t, err)
}

func TestSuperviseHotKeepsWatcherAndToolPidsCoexisting(t *testing.T) {
	root := t.TempDir()
	unitDir := filepath.Join(root, "concepts", "Watcher")
	require.NoError(t, os.MkdirAll(unitDir, 0755))

	script := "#!/bin/sh\ntrap 'exit 0' TERM\nwhile true; do sleep 0.05; done\n"
	require.NoError(t, os.WriteFile(filepath.Join(unitDir, "run.sh"), []byte(script), 0755))

	cfg := unitconfig.DefaultUnitConfig("Watcher")
	cfg.Spec.Kind = unitconfig.KindHot
	cfg.Spec.Entrypoint = "run.sh"
	cfg.Spec.Backoff.InitialDelay = "50ms"
	cfg.Spec.Backoff.MaxDelay = "200ms"
	require.NoError(t, cfg.Save(filepath.Join(unitDir, "conceptkernel.yaml")))

	m, err := New(root)
	require.NoError(t, err)

	watcherPath := watcherPidPath(unitDir)
	_, err = pidfile.Create(watcherPath, os.Getpid(), time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Supervise(ctx, "Watcher") }()

	toolPath := toolPidPath(unitDir)
	deadline := time.Now().Add(2 * time.Second)
	var toolPid int
	for time.Now().Before(deadline) {
		if pid, _, err := pidfile.Read(toolPath); err == nil && pidfile.IsRunning(pid) {
			toolPid = pid
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotZero(t, toolPid, "tool pid file never appeared")

	// Both pid files coexist for the lifetime of the hot unit's tool process.
	_, _, err = pidfile.Read(watcherPath)
	require.NoError(t, err)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Supervise did not return after context cancellation")
	}

	_, err = os.Stat(watcherPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(toolPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSuperviseHotFailsPermanentlyAfterFastCrashes(t *testing.T) {
	root := t.TempDir()
	unitDir := filepath.Join(root, "concepts", "Flaky")
	require.NoError(t, os.MkdirAll(unitDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(unitDir, "run.sh"), []byte("#!/bin/sh\nexit 1\n"), 0755))

	cfg := unitconfig.DefaultUnitConfig("Flaky")
	cfg.Spec.Kind = unitconfig.KindHot
	cfg.Spec.Entrypoint = "run.sh"
	cfg.Spec.Backoff.InitialDelay = "20ms"
	cfg.Spec.Backoff.MaxDelay = "40ms"
	require.NoError(t, cfg.Save(filepath.Join(unitDir, "conceptkernel.yaml")))

	m, err := New(root)
	require.NoError(t, err)

	watcherPath := watcherPidPath(unitDir)
	_, err = pidfile.Create(watcherPath, os.Getpid(), time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Supervise(ctx, "Flaky") }()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Supervise never gave up on the permanently crashing tool")
	}

	_, statErr := os.Stat(failedMarkerPath(unitDir))
	assert.NoError(t, statErr)

	status, err := m.Status("Flaky")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
}

func TestSuperviseColdSpawnsToolPerInboxJob(t *testing.T) {
	root := t.TempDir()
	unitDir := filepath.Join(root, "concepts", "Scanner")
	inbox := filepath.Join(unitDir, "queue", "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0755))

	marker := filepath.Join(unitDir, "ran")
	script := "#!/bin/sh\ntouch " + marker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(unitDir, "run.sh"), []byte(script), 0755))

	cfg := unitconfig.DefaultUnitConfig("Scanner")
	cfg.Spec.Kind = unitconfig.KindCold
	cfg.Spec.Entrypoint = "run.sh"
	require.NoError(t, cfg.Save(filepath.Join(unitDir, "conceptkernel.yaml")))

	m, err := New(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Supervise(ctx, "Scanner") }()

	require.NoError(t, os.WriteFile(filepath.Join(inbox, "job1.json"), []byte("{}"), 0644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	_, err = os.Stat(marker)
	assert.NoError(t, err, "cold unit never spawned its tool for the inbox job")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return after context cancellation")
	}
}
