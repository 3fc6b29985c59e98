// Package unitconfig parses and round-trips the two project-tree config
// files every unit reads: the top-level .ckproject manifest and each unit's
// own conceptkernel.yaml. Both wrap their payload in the same
// apiVersion/kind/metadata/spec envelope so that a conforming peer
// implementation in another language can parse either file without knowing
// this codebase's internal Go types. Defaults-then-overlay mirrors how
// project-level YAML config is loaded elsewhere in this codebase.
package unitconfig

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
)

const (
	apiVersion  = "conceptkernel/v1"
	kindProject = "Project"
	kindUnit    = "Unit"
)

// ProjectMetadata identifies a project: name is the human-chosen label, id is
// the uuid-ish value the host registry keys on alongside name.
type ProjectMetadata struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

// ProjectSpec is a project's behavioral configuration.
type ProjectSpec struct {
	Domain       string `yaml:"domain"`
	Version      string `yaml:"version"`
	ConceptsRoot string `yaml:"concepts_root"`
}

// ProjectManifest is the root .ckproject file. Envelope fields mirror
// Kubernetes-style resource documents: apiVersion/kind identify the schema,
// metadata identifies the instance, spec holds the payload.
type ProjectManifest struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Metadata   ProjectMetadata `yaml:"metadata"`
	Spec       ProjectSpec     `yaml:"spec"`
}

// DefaultProjectManifest returns sane defaults for a freshly initialized
// project. id is generated by the caller (typically the registry entry's ID,
// so the manifest and the host-global registry agree on project identity).
func DefaultProjectManifest(name, id string) *ProjectManifest {
	return &ProjectManifest{
		APIVersion: apiVersion,
		Kind:       kindProject,
		Metadata:   ProjectMetadata{Name: name, ID: id},
		Spec:       ProjectSpec{Version: "v0.1.0", ConceptsRoot: "concepts"},
	}
}

// LoadProjectManifest reads .ckproject, returning defaults if absent.
func LoadProjectManifest(path, projectName, projectID string) (*ProjectManifest, error) {
	m := DefaultProjectManifest(projectName, projectID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeYaml, path, err)
	}
	return m, nil
}

// Save writes the manifest back to path.
func (m *ProjectManifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeYaml, path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	return nil
}

// UnitKind distinguishes hot (persistent watcher+tool) from cold
// (watcher-spawns-tool-per-job) units.
type UnitKind string

const (
	KindHot  UnitKind = "hot"
	KindCold UnitKind = "cold"
)

// BackoffConfig bounds the restart backoff applied to a crashing hot unit.
type BackoffConfig struct {
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
}

// NotificationTarget is one entry of a unit's notification contract: the
// downstream unit to notify, and the predicate to notify it under. Predicate
// defaults to PRODUCES when empty.
type NotificationTarget struct {
	TargetUnit string `yaml:"target_unit"`
	Predicate  string `yaml:"predicate,omitempty"`
}

// UnitMetadata identifies a unit within its project.
type UnitMetadata struct {
	Name string `yaml:"name"`
}

// UnitSpec is a unit's behavioral configuration.
type UnitSpec struct {
	Type                string                `yaml:"type"` // e.g. "rust:hot", "node:cold", "python:tool"
	Kind                 UnitKind              `yaml:"kind"`
	Entrypoint           string                `yaml:"entrypoint"`
	Version              string                `yaml:"version"`
	Port                 int                   `yaml:"port,omitempty"`
	Backoff              BackoffConfig         `yaml:"backoff"`
	NotificationContract []NotificationTarget  `yaml:"notification_contract,omitempty"`
}

// UnitConfig is conceptkernel.yaml, the per-unit behavioral manifest.
type UnitConfig struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   UnitMetadata `yaml:"metadata"`
	Spec       UnitSpec     `yaml:"spec"`
}

// DefaultUnitConfig returns the conventional defaults for a newly scaffolded
// cold unit.
func DefaultUnitConfig(name string) *UnitConfig {
	return &UnitConfig{
		APIVersion: apiVersion,
		Kind:       kindUnit,
		Metadata:   UnitMetadata{Name: name},
		Spec: UnitSpec{
			Kind:       KindCold,
			Entrypoint: "tool",
			Version:    "v0.1.0",
			Backoff: BackoffConfig{
				InitialDelay: "1s",
				MaxDelay:     "30s",
				Multiplier:   2.0,
			},
		},
	}
}

// LoadUnitConfig reads a unit's conceptkernel.yaml.
func LoadUnitConfig(path string) (*UnitConfig, error) {
	log := logging.Get(logging.CategoryLifecycle)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeFileNotFound, path, err)
	}

	cfg := DefaultUnitConfig("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeYaml, path, err)
	}
	if cfg.Spec.Kind != KindHot && cfg.Spec.Kind != KindCold {
		return nil, ckerrors.Newf(ckerrors.CodeValidationError, path, "spec.kind must be hot or cold")
	}
	log.Debug("loaded unit config %s (kind=%s type=%s)", cfg.Metadata.Name, cfg.Spec.Kind, cfg.Spec.Type)
	return cfg, nil
}

// Save writes the unit config back to path.
func (c *UnitConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, path, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeYaml, path, err)
	}
	return os.WriteFile(path, data, 0644)
}

// InitialBackoff returns the parsed initial delay, defaulting to 1s on
// malformed input rather than failing unit startup over a config typo.
func (c *UnitConfig) InitialBackoff() time.Duration {
	d, err := time.ParseDuration(c.Spec.Backoff.InitialDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// MaxBackoff returns the parsed max delay, defaulting to 30s.
func (c *UnitConfig) MaxBackoff() time.Duration {
	d, err := time.ParseDuration(c.Spec.Backoff.MaxDelay)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
