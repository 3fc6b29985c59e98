// Package router implements the Edge Router Daemon: it watches every unit's
// concepts/{Unit}/storage/ tree for newly minted evidence instances, reads
// each source unit's notification contract from the ontology store, and
// routes the instance to every downstream target via the edge kernel.
package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"ckcore/internal/audit"
	"ckcore/internal/ckerrors"
	"ckcore/internal/edge"
	"ckcore/internal/fswatch"
	"ckcore/internal/logging"
	"ckcore/internal/ontology"
)

// Daemon is the running Edge Router: one fsnotify watch over concepts/, one
// edge kernel, and a notification-contract cache to avoid re-querying the
// ontology store for every instance from a unit whose contract is stable.
type Daemon struct {
	root     string
	edges    *edge.Kernel
	ontology *ontology.Store
	watcher  *fswatch.Watcher

	cacheMu sync.Mutex
	cache   map[string][]ontology.Target

	audit *audit.Log

	Verbose bool
}

// New constructs a router daemon rooted at a project directory.
func New(root string, store *ontology.Store) (*Daemon, error) {
	auditLog, err := audit.Open(root)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		root:     root,
		edges:    edge.New(root),
		ontology: store,
		cache:    map[string][]ontology.Target{},
		audit:    auditLog,
	}

	w, err := fswatch.New(filepath.Join(root, "concepts"), d.handleEvent)
	if err != nil {
		return nil, err
	}
	d.watcher = w
	return d, nil
}

// Start begins watching concepts/ recursively. Non-blocking; cancel ctx or
// call Stop to end the watch.
func (d *Daemon) Start(ctx context.Context) error {
	log := logging.Get(logging.CategoryRouter)
	log.Info("starting edge router daemon at %s", d.root)
	return d.watcher.Start(ctx)
}

// Stop blocks until the watch loop has exited.
func (d *Daemon) Stop() {
	d.watcher.Stop()
}

func (d *Daemon) handleEvent(event fsnotify.Event) {
	log := logging.Get(logging.CategoryRouter)

	if event.Op&fsnotify.Create == 0 {
		return
	}

	path := event.Name
	if !strings.Contains(path, string(filepath.Separator)+"storage"+string(filepath.Separator)) {
		return
	}
	if !strings.HasSuffix(path, ".inst") {
		return
	}

	source, ok := extractUnitFromPath(path)
	if !ok {
		log.Warn("could not extract unit name from %s", path)
		return
	}

	log.Info("instance created: %s (unit: %s)", path, source)

	targets, err := d.notificationTargets(source)
	if err != nil {
		log.Warn("error reading notification contract for %s: %v", source, err)
		return
	}
	if len(targets) == 0 {
		log.Debug("no notification targets for %s", source)
		return
	}

	log.Info("routing %s to %d target(s)", source, len(targets))
	for _, t := range targets {
		if err := d.routeToTarget(path, source, t.Unit, t.Predicate); err != nil {
			log.Error("failed to route to %s: %v", t.Unit, err)
		}
	}
}

// extractUnitFromPath pulls the unit name out of
// .../concepts/{Unit}/storage/tx.inst
func extractUnitFromPath(path string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, p := range parts {
		if p == "concepts" && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	return "", false
}

func (d *Daemon) notificationTargets(unit string) ([]ontology.Target, error) {
	log := logging.Get(logging.CategoryRouter)

	d.cacheMu.Lock()
	if cached, ok := d.cache[unit]; ok {
		d.cacheMu.Unlock()
		log.Debug("notification cache hit for %s", unit)
		return cached, nil
	}
	d.cacheMu.Unlock()

	targets, err := d.ontology.NotificationTargets(unit)
	if err != nil {
		return nil, err
	}
	if targets == nil {
		targets = []ontology.Target{}
	}

	d.cacheMu.Lock()
	d.cache[unit] = targets
	d.cacheMu.Unlock()
	return targets, nil
}

func (d *Daemon) routeToTarget(instancePath, source, target, predicate string) error {
	log := logging.Get(logging.CategoryRouter)

	edgeUrn := edgeUrnFor(predicate, source, target)
	if _, ok := d.edges.GetEdge(edgeUrn); !ok {
		log.Info("creating edge: %s -> %s (%s)", source, target, predicate)
		if _, err := d.edges.CreateEdge(predicate, source, target); err != nil {
			return ckerrors.Wrap(ckerrors.CodeEdgeRouting, edgeUrn, err)
		}
		if err := d.audit.Record(source, audit.EventEdgeCreated, edgeUrn, predicate); err != nil {
			log.Warn("audit record failed for %s: %v", edgeUrn, err)
		}
	}

	paths, err := d.edges.RouteInstance(instancePath, source, target)
	if err != nil {
		return err
	}
	log.Info("routed %s to %s (%d symlink(s))", filepath.Base(instancePath), target, len(paths))
	if d.Verbose {
		for _, p := range paths {
			log.Debug("  -> %s", p)
		}
	}
	return nil
}

func edgeUrnFor(predicate, source, target string) string {
	return "ckp://Edge." + predicate + "." + source + "-to-" + target + ":v1.3.16"
}
