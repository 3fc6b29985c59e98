package unitconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProjectManifestDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadProjectManifest(filepath.Join(dir, ".ckproject"), "myproj", "proj-id-1")
	require.NoError(t, err)
	assert.Equal(t, "myproj", m.Metadata.Name)
	assert.Equal(t, "proj-id-1", m.Metadata.ID)
	assert.Equal(t, "concepts", m.Spec.ConceptsRoot)
}

func TestProjectManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ckproject")

	m := DefaultProjectManifest("alpha", "proj-id-2")
	m.Spec.Domain = "alpha.example"
	require.NoError(t, m.Save(path))

	reloaded, err := LoadProjectManifest(path, "ignored", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "conceptkernel/v1", reloaded.APIVersion)
	assert.Equal(t, "Project", reloaded.Kind)
	assert.Equal(t, m.Metadata, reloaded.Metadata)
	assert.Equal(t, m.Spec, reloaded.Spec)
}

func TestLoadUnitConfigRejectsBadKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conceptkernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metadata:\n  name: foo\nspec:\n  kind: sideways\n"), 0644))

	_, err := LoadUnitConfig(path)
	assert.Error(t, err)
}

func TestUnitConfigBackoffDefaults(t *testing.T) {
	c := DefaultUnitConfig("foo")
	assert.Equal(t, time.Second, c.InitialBackoff())
	assert.Equal(t, 30*time.Second, c.MaxBackoff())
}

func TestUnitConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conceptkernel.yaml")

	c := DefaultUnitConfig("watcher-one")
	c.Spec.Kind = KindHot
	c.Spec.Type = "rust:tool"
	c.Spec.NotificationContract = []NotificationTarget{
		{TargetUnit: "Downstream.Unit"},
		{TargetUnit: "Other.Unit", Predicate: "REVIEWED"},
	}
	require.NoError(t, c.Save(path))

	reloaded, err := LoadUnitConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "conceptkernel/v1", reloaded.APIVersion)
	assert.Equal(t, "Unit", reloaded.Kind)
	assert.Equal(t, "watcher-one", reloaded.Metadata.Name)
	assert.Equal(t, KindHot, reloaded.Spec.Kind)
	assert.Equal(t, "rust:tool", reloaded.Spec.Type)
	assert.Equal(t, c.Spec.NotificationContract, reloaded.Spec.NotificationContract)
}
