// Package edge implements the EdgeKernel: bookkeeping for edge URNs
// (get/create, idempotent) and routing of evidence instances to downstream
// units via symlinks under queue/edges/{source}/.
//
// The Rust original's edge kernel source file was not available to ground
// this package against directly; its method surface (GetEdge, CreateEdge,
// RouteInstance) is inferred from the call sites in the edge router daemon,
// together with the instance/edge data model.
package edge

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
	"ckcore/internal/urn"
)

// edgeVersion is the literal version stamp the router daemon uses when it
// auto-creates edges for a newly observed notification contract.
const edgeVersion = "v1.3.16"

// Edge is one declared predicate connecting a source unit to a target unit.
type Edge struct {
	Urn       string
	Predicate string
	Source    string
	Target    string
}

// Kernel tracks declared edges for one project and routes instances along
// them. Safe for concurrent use.
type Kernel struct {
	mu    sync.Mutex
	root  string
	edges map[string]Edge // keyed by Edge.Urn
}

// New returns an empty edge kernel rooted at a project directory.
func New(root string) *Kernel {
	return &Kernel{root: root, edges: map[string]Edge{}}
}

// GetEdge returns the edge for a URN, or ok=false if undeclared.
func (k *Kernel) GetEdge(edgeUrn string) (Edge, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.edges[edgeUrn]
	return e, ok
}

// CreateEdge declares a new edge. Idempotent: creating the same
// (predicate, source, target) tuple twice returns the existing edge rather
// than erroring. The router daemon calls this only after GetEdge reports the
// edge missing.
func (k *Kernel) CreateEdge(predicate, source, target string) (Edge, error) {
	e := Edge{
		Urn:       fmt.Sprintf("ckp://Edge.%s.%s-to-%s:%s", predicate, source, target, edgeVersion),
		Predicate: predicate,
		Source:    source,
		Target:    target,
	}
	if res := (urn.Validator{}).ValidateEdge(e.Urn); !res.Valid {
		return Edge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, e.Urn, res.Reason)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if existing, ok := k.edges[e.Urn]; ok {
		return existing, nil
	}
	k.edges[e.Urn] = e
	return e, nil
}

// RouteInstance places a symlink to instancePath into the target unit's
// queue/edges/{source}/ directory, creating the directory as needed. It is
// idempotent: routing the same instance twice is a no-op on the second call.
func (k *Kernel) RouteInstance(instancePath, source, target string) ([]string, error) {
	log := logging.Get(logging.CategoryRouter)

	queueDir := filepath.Join(k.root, "concepts", target, "queue", "edges", source)
	if err := os.MkdirAll(queueDir, 0755); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeIO, queueDir, err)
	}

	linkPath := filepath.Join(queueDir, filepath.Base(instancePath))
	if _, err := os.Lstat(linkPath); err == nil {
		log.Debug("instance %s already routed to %s", instancePath, target)
		return []string{linkPath}, nil
	}

	if err := os.Symlink(instancePath, linkPath); err != nil {
		if os.IsExist(err) {
			return []string{linkPath}, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeEdgeRouting, linkPath, err)
	}

	log.Info("routed %s -> %s", filepath.Base(instancePath), linkPath)
	return []string{linkPath}, nil
}
