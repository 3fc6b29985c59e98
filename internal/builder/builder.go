// Package builder drives the build tool for a unit's kernel type: cargo for
// "rust:" units, npm for "node:" units, and a no-op for interpreted runtimes
// like "python:" that ship source directly. It resolves the build directory
// from the entrypoint in the unit's conceptkernel.yaml and checks that the
// build manifest (Cargo.toml or package.json) exists there before invoking
// the tool.
package builder

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
	"ckcore/internal/unitconfig"
)

// Result describes the outcome of a build attempt.
type Result struct {
	Unit       string
	ProfileDir string // directory holding build artifacts, empty for no-op runtimes
	Stdout     string
	Stderr     string
}

// Builder builds units rooted at a single project.
type Builder struct {
	root string
	env  []string
}

// New constructs a builder for a project root. Subprocess builds see only the
// allowlisted variables from baseEnv, not the full process environment.
func New(root string) *Builder {
	return &Builder{root: root, env: baseEnv()}
}

// Build dispatches to the driver appropriate for the unit's kernel type
// prefix. For interpreted runtimes no build runs and ProfileDir is empty.
func (b *Builder) Build(ctx context.Context, name string, cfg *unitconfig.UnitConfig, release bool) (Result, error) {
	log := logging.Get(logging.CategoryBuild)

	switch {
	case strings.HasPrefix(cfg.Spec.Type, "rust:"):
		return b.buildCargo(ctx, name, cfg, release)
	case strings.HasPrefix(cfg.Spec.Type, "node:"):
		return b.buildNpm(ctx, name, cfg)
	case strings.HasPrefix(cfg.Spec.Type, "python:"):
		log.Debug("unit %s is interpreted (%s), no build step", name, cfg.Spec.Type)
		return Result{Unit: name}, nil
	default:
		return Result{}, ckerrors.Newf(ckerrors.CodeBuildError, name, "unrecognized kernel type prefix: "+cfg.Spec.Type)
	}
}

func (b *Builder) buildCargo(ctx context.Context, name string, cfg *unitconfig.UnitConfig, release bool) (Result, error) {
	log := logging.Get(logging.CategoryBuild)

	buildDir := b.entrypointDir(name, cfg.Spec.Entrypoint)
	if _, err := os.Stat(filepath.Join(buildDir, "Cargo.toml")); err != nil {
		return Result{}, ckerrors.Newf(ckerrors.CodeBuildError, name, "no Cargo.toml found at "+buildDir)
	}

	args := []string{"build"}
	if release {
		args = append(args, "--release")
	}

	log.Info("building %s: cargo %s (dir=%s)", name, strings.Join(args, " "), buildDir)
	stdout, stderr, err := b.run(ctx, buildDir, "cargo", args...)
	if err != nil {
		return Result{}, ckerrors.Wrap(ckerrors.CodeBuildError, name, err)
	}

	profile := "debug"
	if release {
		profile = "release"
	}
	return Result{
		Unit:       name,
		ProfileDir: filepath.Join(buildDir, "target", profile),
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

func (b *Builder) buildNpm(ctx context.Context, name string, cfg *unitconfig.UnitConfig) (Result, error) {
	log := logging.Get(logging.CategoryBuild)

	buildDir := b.entrypointDir(name, cfg.Spec.Entrypoint)
	if _, err := os.Stat(filepath.Join(buildDir, "package.json")); err != nil {
		return Result{}, ckerrors.Newf(ckerrors.CodeBuildError, name, "no package.json found at "+buildDir)
	}

	log.Info("building %s: npm install (dir=%s)", name, buildDir)
	stdout, stderr, err := b.run(ctx, buildDir, "npm", "install")
	if err != nil {
		return Result{}, ckerrors.Wrap(ckerrors.CodeBuildError, name, err)
	}

	return Result{Unit: name, ProfileDir: buildDir, Stdout: stdout, Stderr: stderr}, nil
}

// entrypointDir resolves concepts/{name}/{entrypoint}, stripping a legacy
// .../target/... suffix down to the directory containing the build manifest.
func (b *Builder) entrypointDir(name, entrypoint string) string {
	subdir := entrypoint
	if idx := strings.Index(entrypoint, "/target/"); idx >= 0 {
		subdir = entrypoint[:idx]
	}
	return filepath.Join(b.root, "concepts", name, subdir)
}

func (b *Builder) run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	cmd.Env = b.env

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if runErr := cmd.Run(); runErr != nil {
		return outBuf.String(), errBuf.String(), runErr
	}
	return outBuf.String(), errBuf.String(), nil
}

// baseEnv assembles a minimal, sufficient subprocess environment: PATH plus
// the handful of variables Go/Cargo/npm toolchains require to locate their
// caches. Variables that are unset in this process are omitted.
func baseEnv() []string {
	var env []string
	for _, key := range []string{"PATH", "HOME", "USERPROFILE", "CARGO_HOME", "RUSTUP_HOME", "GOCACHE", "GOPATH", "TMPDIR", "TEMP", "TMP"} {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return env
}
