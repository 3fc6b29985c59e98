// Package proctrack maintains an append-only JSONL ledger of every
// watcher/tool process a unit spawns: when it started, under what process
// URN, and (once known) how it exited. The lifecycle manager records each
// tool process it spawns here; the edge router does not record routed paths.
package proctrack

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ckcore/internal/ckerrors"
)

// Kind distinguishes a unit's persistent watcher from the tool process(es)
// it spawns per job.
type Kind string

const (
	KindWatcher Kind = "watcher"
	KindTool    Kind = "tool"
)

// Record is one ledger entry.
type Record struct {
	ProcessURN string     `json:"process_urn"`
	Unit       string     `json:"unit"`
	Kind       Kind       `json:"kind"`
	Pid        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	ExitedAt   *time.Time `json:"exited_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
}

// Tracker appends records to a single JSONL file. Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// New prepares a tracker writing to root/.ckcore/processes.jsonl.
func New(root string) (*Tracker, error) {
	path := filepath.Join(root, ".ckcore", "processes.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	return &Tracker{path: path}, nil
}

// RecordStart mints a new process URN and appends a start record.
func (t *Tracker) RecordStart(unit string, kind Kind, pid int) (string, error) {
	processURN := "ckp://Process." + uuid.NewString()
	rec := Record{ProcessURN: processURN, Unit: unit, Kind: kind, Pid: pid, StartedAt: time.Now()}
	if err := t.append(rec); err != nil {
		return "", err
	}
	return processURN, nil
}

// RecordExit appends a terminal record for an existing process URN.
func (t *Tracker) RecordExit(processURN, unit string, kind Kind, pid, exitCode int) error {
	now := time.Now()
	rec := Record{ProcessURN: processURN, Unit: unit, Kind: kind, Pid: pid, StartedAt: now, ExitedAt: &now, ExitCode: &exitCode}
	return t.append(rec)
}

func (t *Tracker) append(rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, t.path, err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeJson, t.path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, t.path, err)
	}
	return nil
}

// ReadAll replays every record currently in the ledger, in append order.
func (t *Tracker) ReadAll() ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeIO, t.path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
