package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckcore/internal/unitconfig"
)

func TestBuildPythonIsNoop(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	cfg := &unitconfig.UnitConfig{Spec: unitconfig.UnitSpec{Type: "python:tool", Entrypoint: "tool"}}

	result, err := b.Build(context.Background(), "Scanner", cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "Scanner", result.Unit)
	assert.Empty(t, result.ProfileDir)
}

func TestBuildUnrecognizedTypeErrors(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	cfg := &unitconfig.UnitConfig{Spec: unitconfig.UnitSpec{Type: "ruby:tool", Entrypoint: "tool"}}

	_, err := b.Build(context.Background(), "Mystery", cfg, false)
	assert.Error(t, err)
}

func TestBuildCargoMissingManifestErrors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "concepts", "Validator", "tool"), 0755))

	b := New(root)
	cfg := &unitconfig.UnitConfig{Spec: unitconfig.UnitSpec{Type: "rust:tool", Entrypoint: "tool"}}

	_, err := b.Build(context.Background(), "Validator", cfg, false)
	assert.Error(t, err)
}

func TestEntrypointDirStripsLegacyTargetSuffix(t *testing.T) {
	b := New("/proj")
	dir := b.entrypointDir("Validator", "tool/rs/target/release/binary")
	assert.Equal(t, filepath.Join("/proj", "concepts", "Validator", "tool/rs"), dir)
}
