// Package pidfile implements PID file discipline for unit watchers and
// tools: create-with-liveness-check, stale-file self-healing, and an
// explicit Release so callers control removal instead of relying on finalizers.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
)

// File is a held PID file. The holder must call Release when the owning
// process is shutting down.
type File struct {
	path string
}

// Create writes path with "{pid}:{start_time}\n", where start_time is the
// current holder's own start time in Unix seconds. If an existing PID file
// names a still-running process, Create fails; if it names a dead process,
// the stale file is removed and creation proceeds.
func Create(path string, pid int, startTime time.Time) (*File, error) {
	log := logging.Get(logging.CategoryPidfile)

	if existingPid, _, err := Read(path); err == nil {
		if IsRunning(existingPid) {
			return nil, ckerrors.Newf(ckerrors.CodeProcess, path, "pid file already held by running process %d", existingPid)
		}
		log.Info("removing stale pid file %s (pid %d not running)", path, existingPid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, ckerrors.Wrap(ckerrors.CodeIO, path, err)
		}
	}

	content := fmt.Sprintf("%d:%d\n", pid, startTime.Unix())
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	log.Debug("created pid file %s for pid %d", path, pid)
	return &File{path: path}, nil
}

// Read parses an existing PID file, returning the recorded pid and start time.
func Read(path string) (pid int, startTime time.Time, err error) {
	data, ioErr := os.ReadFile(path)
	if ioErr != nil {
		return 0, time.Time{}, ckerrors.Wrap(ckerrors.CodeIO, path, ioErr)
	}
	line := strings.TrimSpace(string(data))
	parts := strings.SplitN(line, ":", 2)
	p, convErr := strconv.Atoi(parts[0])
	if convErr != nil {
		return 0, time.Time{}, ckerrors.Newf(ckerrors.CodeParseError, path, "malformed pid file")
	}
	if len(parts) == 1 {
		return p, time.Time{}, nil
	}
	secs, convErr := strconv.ParseInt(parts[1], 10, 64)
	if convErr != nil {
		return p, time.Time{}, nil
	}
	return p, time.Unix(secs, 0), nil
}

// IsRunning probes liveness via signal 0, the POSIX convention for "does this
// pid exist and am I permitted to signal it" without actually signaling.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// Release removes the pid file. Safe to call more than once.
func (f *File) Release() error {
	if f == nil {
		return nil
	}
	return Remove(f.path)
}

// Remove deletes the pid file at path regardless of who created it. Used by
// a process cleaning up a pid file that a different process (e.g. the
// short-lived CLI invocation that forked it) created on its behalf. Safe to
// call more than once.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Path returns the held file's path.
func (f *File) Path() string { return f.path }
