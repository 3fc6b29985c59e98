// Package registry implements the host-global project registry: the single
// JSON file (outside any project tree) that maps project names to root paths
// and port slots, so that two projects on the same host never collide on
// ports. All mutations are serialized with a cross-process file lock and
// written atomically via write-temp-then-rename.
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
	"ckcore/internal/portmgr"
)

// Entry is one registered project, keyed by both Name and ID: spec.md's
// uniqueness contract forbids collisions on either.
type Entry struct {
	Name          string    `json:"name"`
	ID            string    `json:"id"`
	Root          string    `json:"root"`
	Domain        string    `json:"domain"`
	Version       string    `json:"version"`
	Slot          int       `json:"slot"`
	DiscoveryPort int       `json:"discovery_port"`
	PortRangeStart int      `json:"port_range_start"`
	PortRangeEnd   int      `json:"port_range_end"`
	RegisteredAt  time.Time `json:"registered_at"`
}

type fileFormat struct {
	Version  int     `json:"version"`
	Projects []Entry `json:"projects"`
}

// Registry guards access to the host-global registry file.
type Registry struct {
	path     string
	lockPath string
}

// DefaultPath returns the conventional registry location under the user's
// config directory, e.g. ~/.config/conceptkernel/registry.json on Linux.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", ckerrors.Wrap(ckerrors.CodeIO, "", err)
	}
	return filepath.Join(dir, "conceptkernel", "registry.json"), nil
}

// Open prepares a Registry at path, creating its parent directory if needed.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	return &Registry{path: path, lockPath: path + ".lock"}, nil
}

func (r *Registry) withLock(fn func(*fileFormat) (*fileFormat, error)) error {
	lock := flock.New(r.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return ckerrors.New(ckerrors.CodeProjectError, "could not acquire registry lock")
	}
	defer lock.Unlock()

	current, err := r.readLocked()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return r.writeLocked(next)
}

func (r *Registry) readLocked() (*fileFormat, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileFormat{Version: 1}, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeIO, r.path, err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeJson, r.path, err)
	}
	return &ff, nil
}

// writeLocked writes the registry atomically: write to a temp file in the
// same directory, then rename over the destination.
func (r *Registry) writeLocked(ff *fileFormat) error {
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeJson, r.path, err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, r.path, err)
	}
	return nil
}

// RegisterRequest describes a project to register. ID and Slot are optional:
// an empty ID is generated, and a zero PreferredSlot lets the registry pick
// the lowest free one. Force allows a request that collides on Name or ID
// with an existing entry to overwrite it instead of failing.
type RegisterRequest struct {
	Name          string
	ID            string
	Root          string
	Domain        string
	Version       string
	PreferredSlot int
	Force         bool
}

// Register allocates a port slot for a project and persists it. Fails with
// CodeProjectAlreadyRegistered if Name or ID collides with an existing entry
// and Force is not set. With PreferredSlot set, that slot is used; with it
// zero, the lowest free slot is allocated. Fails with CodePortUnavailable if
// PreferredSlot is held by another project (Force does not override this),
// or if no slot is free at all.
func (r *Registry) Register(req RegisterRequest) (Entry, error) {
	log := logging.Get(logging.CategoryRegistry)
	var result Entry

	err := r.withLock(func(ff *fileFormat) (*fileFormat, error) {
		collision := -1
		for i, p := range ff.Projects {
			if p.Name == req.Name || (req.ID != "" && p.ID == req.ID) {
				collision = i
				break
			}
		}
		if collision >= 0 && !req.Force {
			return nil, ckerrors.Newf(ckerrors.CodeProjectAlreadyRegistered, req.Name, "project already registered")
		}

		used := map[int]bool{}
		for i, p := range ff.Projects {
			if i == collision {
				continue
			}
			used[p.Slot] = true
		}

		slot := req.PreferredSlot
		if slot != 0 {
			if used[slot] {
				return nil, ckerrors.Newf(ckerrors.CodePortUnavailable, req.Name, "preferred slot %d already in use", slot)
			}
			if _, err := portmgr.SlotRange(slot); err != nil {
				return nil, err
			}
		} else {
			found, err := portmgr.FindFreeSlot(used)
			if err != nil {
				return nil, err
			}
			slot = found
		}

		discoveryPort, err := portmgr.DiscoveryPort(slot)
		if err != nil {
			return nil, err
		}
		slotRange, err := portmgr.SlotRange(slot)
		if err != nil {
			return nil, err
		}

		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}

		result = Entry{
			Name:           req.Name,
			ID:             id,
			Root:           req.Root,
			Domain:         req.Domain,
			Version:        req.Version,
			Slot:           slot,
			DiscoveryPort:  discoveryPort,
			PortRangeStart: slotRange.Start,
			PortRangeEnd:   slotRange.End,
			RegisteredAt:   time.Now(),
		}

		if collision >= 0 {
			ff.Projects[collision] = result
			log.Info("re-registered project %s at slot %d (forced)", req.Name, slot)
		} else {
			ff.Projects = append(ff.Projects, result)
			log.Info("registered project %s at slot %d", req.Name, slot)
		}
		return ff, nil
	})
	return result, err
}

// Get returns the entry for name, or CodeProjectNotFound.
func (r *Registry) Get(name string) (Entry, error) {
	ff, err := r.readLocked()
	if err != nil {
		return Entry{}, err
	}
	for _, p := range ff.Projects {
		if p.Name == name {
			return p, nil
		}
	}
	return Entry{}, ckerrors.Newf(ckerrors.CodeProjectNotFound, name, "project not registered")
}

// List returns all registered projects sorted by slot.
func (r *Registry) List() ([]Entry, error) {
	ff, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	out := append([]Entry(nil), ff.Projects...)
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

// Remove deletes a project's registration, freeing its slot.
func (r *Registry) Remove(name string) error {
	log := logging.Get(logging.CategoryRegistry)
	return r.withLock(func(ff *fileFormat) (*fileFormat, error) {
		idx := -1
		for i, p := range ff.Projects {
			if p.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ckerrors.Newf(ckerrors.CodeProjectNotFound, name, "project not registered")
		}
		ff.Projects = append(ff.Projects[:idx], ff.Projects[idx+1:]...)
		log.Info("removed project %s", name)
		return ff, nil
	})
}
