// Package kernelapi is the tool-facing API a unit's implementation links
// against: reading jobs from its inbox or an edge queue, minting evidence
// instances into storage, archiving or failing processed jobs, and sending
// or reading edge messages exchanged with other units. It is a thin,
// protocol-compliant wrapper over the concepts/{unit}/queue and
// concepts/{unit}/storage directory conventions the rest of this codebase
// also reads and writes.
package kernelapi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ckcore/internal/ckerrors"
)

// Job is one parsed unit of work read from an inbox or edge queue directory.
type Job struct {
	Path          string                 `json:"-"`
	Task          string                 `json:"task"`
	Mode          string                 `json:"mode"`
	SourceUnit    string                 `json:"sourceKernel,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	ConsensusMode string                 `json:"consensusMode,omitempty"`
	ProposalID    string                 `json:"proposalId,omitempty"`
}

// EdgeResponse is a reply another unit has written into this unit's edge
// queue in answer to a previously sent SendEdgeMessage.
type EdgeResponse struct {
	Task       string `json:"task"`
	Response   string `json:"response"`
	Timestamp  string `json:"timestamp"`
	ProcessURN string `json:"processUrn"`
}

// AdoptedContext is the working directory and LLM instructions inherited
// from a source unit when processing an edge-routed job on its behalf.
type AdoptedContext struct {
	UnitName         string
	WorkingDirectory string
	LLMInstructions  string
}

// Context is the high-level handle a unit's own process uses to interact
// with its queues and storage. Construct one with Init at process startup.
type Context struct {
	unitName     string
	projectRoot  string
	unitRoot     string
}

// Init locates the project root (by walking up from the current working
// directory for a .ckproject file, or CKP_PROJECT_ROOT if set) and builds a
// Context for the named unit.
func Init(unitName string) (*Context, error) {
	root, err := detectProjectRoot()
	if err != nil {
		return nil, err
	}

	unitRoot := filepath.Join(root, "concepts", unitName)
	if _, err := os.Stat(unitRoot); err != nil {
		return nil, ckerrors.Newf(ckerrors.CodeKernelNotFound, unitName, "unit directory not found")
	}

	return &Context{unitName: unitName, projectRoot: root, unitRoot: unitRoot}, nil
}

func detectProjectRoot() (string, error) {
	if envRoot := os.Getenv("CKP_PROJECT_ROOT"); envRoot != "" {
		return envRoot, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", ckerrors.Wrap(ckerrors.CodeIO, "", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".ckproject")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ckerrors.New(ckerrors.CodeProjectNotFound, "no .ckproject found above current directory")
		}
		dir = parent
	}
}

// UnitName returns the unit this context was constructed for.
func (c *Context) UnitName() string { return c.unitName }

// ProjectRoot returns the absolute project root.
func (c *Context) ProjectRoot() string { return c.projectRoot }

// UnitRoot returns concepts/{unit}.
func (c *Context) UnitRoot() string { return c.unitRoot }

// ReadJobs reads pending jobs from queue/inbox, or from queue/{sourceQueue}
// when sourceQueue is non-empty (e.g. "edges/Emitter").
func (c *Context) ReadJobs(sourceQueue string) ([]Job, error) {
	queueDir := filepath.Join(c.unitRoot, "queue", "inbox")
	if sourceQueue != "" {
		queueDir = filepath.Join(c.unitRoot, "queue", sourceQueue)
	}
	return scanJobs(queueDir)
}

func scanJobs(dir string) ([]Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeIO, dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if job.Mode == "" {
			job.Mode = "analyze"
		}
		job.Path = path
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MintEvidence writes evidence into storage/{txID}.inst/payload.json,
// creating the instance directory if needed. The filesystem-visible
// creation of that directory is what the edge router's watch loop reacts
// to, so evidence must land atomically: payload is written to a temp file
// inside the instance directory and renamed into place.
func (c *Context) MintEvidence(evidence interface{}, txID string) (string, error) {
	instDir := filepath.Join(c.unitRoot, "storage", txID+".inst")
	if err := os.MkdirAll(instDir, 0755); err != nil {
		return "", ckerrors.Wrap(ckerrors.CodeIO, instDir, err)
	}

	data, err := json.MarshalIndent(evidence, "", "  ")
	if err != nil {
		return "", ckerrors.Wrap(ckerrors.CodeJson, instDir, err)
	}

	payloadPath := filepath.Join(instDir, "payload.json")
	tmpPath := payloadPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", ckerrors.Wrap(ckerrors.CodeIO, payloadPath, err)
	}
	if err := os.Rename(tmpPath, payloadPath); err != nil {
		return "", ckerrors.Wrap(ckerrors.CodeIO, payloadPath, err)
	}
	return instDir, nil
}

// ArchiveJob moves a processed job from its queue directory into queue/archive.
func (c *Context) ArchiveJob(job Job) error {
	return moveJobFile(job.Path, filepath.Join(c.unitRoot, "queue", "archive"))
}

// MoveToFailed moves a job that could not be processed into queue/failed.
func (c *Context) MoveToFailed(job Job) error {
	return moveJobFile(job.Path, filepath.Join(c.unitRoot, "queue", "failed"))
}

func moveJobFile(path, destDir string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	return nil
}

// SendEdgeMessage writes a message into the target unit's edge queue for
// this unit, at concepts/{target}/queue/edges/{this unit}/message-{ts}.json.
func (c *Context) SendEdgeMessage(targetUnit string, message interface{}) error {
	edgeDir := filepath.Join(c.projectRoot, "concepts", targetUnit, "queue", "edges", c.unitName)
	if err := os.MkdirAll(edgeDir, 0755); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, edgeDir, err)
	}

	data, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeJson, edgeDir, err)
	}

	name := "message-" + time.Now().UTC().Format("20060102T150405.000000000Z") + ".json"
	return ckerrors.Wrap(ckerrors.CodeIO, edgeDir, os.WriteFile(filepath.Join(edgeDir, name), data, 0644))
}

// ReadEdgeResponses reads response-*.json files a source unit has written
// into this unit's edge queue for it.
func (c *Context) ReadEdgeResponses(sourceUnit string) ([]EdgeResponse, error) {
	dir := filepath.Join(c.unitRoot, "queue", "edges", sourceUnit)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeIO, dir, err)
	}

	var responses []EdgeResponse
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "response-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var resp EdgeResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// AdoptContext builds a working context for processing a job routed from
// source unit: its tool/ directory plus the concatenation of its llm/*.md
// instruction files, so an edge-routed job can be handled with the
// originating unit's own prompt material.
func (c *Context) AdoptContext(sourceUnit string) (AdoptedContext, error) {
	sourceDir := filepath.Join(c.projectRoot, "concepts", sourceUnit)
	if _, err := os.Stat(sourceDir); err != nil {
		return AdoptedContext{}, ckerrors.Newf(ckerrors.CodeKernelNotFound, sourceUnit, "source unit not found")
	}

	instructions, err := loadLLMInstructions(sourceDir)
	if err != nil {
		return AdoptedContext{}, err
	}

	return AdoptedContext{
		UnitName:         sourceUnit,
		WorkingDirectory: filepath.Join(sourceDir, "tool"),
		LLMInstructions:  instructions,
	}, nil
}

func loadLLMInstructions(unitDir string) (string, error) {
	llmDir := filepath.Join(unitDir, "llm")
	entries, err := os.ReadDir(llmDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", ckerrors.Wrap(ckerrors.CodeIO, llmDir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(llmDir, name))
		if err != nil {
			continue
		}
		sb.Write(data)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
