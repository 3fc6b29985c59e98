package kernelapi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupProject(t *testing.T, units ...string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".ckproject"), []byte("name: demo\n"), 0644))
	for _, u := range units {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "concepts", u), 0755))
	}
	return root
}

func TestInitUsesProjectRootEnv(t *testing.T) {
	root := setupProject(t, "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	ctx, err := Init("Validator")
	require.NoError(t, err)
	assert.Equal(t, "Validator", ctx.UnitName())
	assert.Equal(t, root, ctx.ProjectRoot())
}

func TestInitMissingUnitErrors(t *testing.T) {
	root := setupProject(t)
	t.Setenv("CKP_PROJECT_ROOT", root)

	_, err := Init("Ghost")
	assert.Error(t, err)
}

func TestReadJobsFromInbox(t *testing.T) {
	root := setupProject(t, "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	inbox := filepath.Join(root, "concepts", "Validator", "queue", "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0755))
	payload, _ := json.Marshal(Job{Task: "check", SourceUnit: "Emitter"})
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "job-1.json"), payload, 0644))

	ctx, err := Init("Validator")
	require.NoError(t, err)

	jobs, err := ctx.ReadJobs("")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "check", jobs[0].Task)
	assert.Equal(t, "analyze", jobs[0].Mode)
}

func TestReadJobsEmptyQueueReturnsNil(t *testing.T) {
	root := setupProject(t, "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	ctx, err := Init("Validator")
	require.NoError(t, err)

	jobs, err := ctx.ReadJobs("")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestMintEvidenceWritesInstanceDirectory(t *testing.T) {
	root := setupProject(t, "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	ctx, err := Init("Validator")
	require.NoError(t, err)

	instDir, err := ctx.MintEvidence(map[string]string{"result": "pass"}, "tx-1")
	require.NoError(t, err)
	assert.DirExists(t, instDir)
	assert.FileExists(t, filepath.Join(instDir, "payload.json"))
}

func TestArchiveJobMovesFile(t *testing.T) {
	root := setupProject(t, "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	inbox := filepath.Join(root, "concepts", "Validator", "queue", "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0755))
	jobPath := filepath.Join(inbox, "job-1.json")
	require.NoError(t, os.WriteFile(jobPath, []byte(`{"task":"check"}`), 0644))

	ctx, err := Init("Validator")
	require.NoError(t, err)

	require.NoError(t, ctx.ArchiveJob(Job{Path: jobPath}))

	_, err = os.Stat(jobPath)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, filepath.Join(root, "concepts", "Validator", "queue", "archive", "job-1.json"))
}

func TestSendAndReadEdgeMessages(t *testing.T) {
	root := setupProject(t, "Emitter", "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	emitter, err := Init("Emitter")
	require.NoError(t, err)
	require.NoError(t, emitter.SendEdgeMessage("Validator", map[string]string{"task": "check"}))

	edgeDir := filepath.Join(root, "concepts", "Validator", "queue", "edges", "Emitter")
	files, err := os.ReadDir(edgeDir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	responseDir := filepath.Join(root, "concepts", "Validator", "queue", "edges", "Emitter")
	resp, _ := json.Marshal(EdgeResponse{Task: "check", Response: "ok", ProcessURN: "ckp://Process.abc"})
	require.NoError(t, os.WriteFile(filepath.Join(responseDir, "response-1.json"), resp, 0644))

	validator, err := Init("Validator")
	require.NoError(t, err)
	responses, err := validator.ReadEdgeResponses("Emitter")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "ok", responses[0].Response)
}

func TestAdoptContextConcatenatesLLMInstructions(t *testing.T) {
	root := setupProject(t, "Emitter", "Validator")
	t.Setenv("CKP_PROJECT_ROOT", root)

	llmDir := filepath.Join(root, "concepts", "Emitter", "llm")
	require.NoError(t, os.MkdirAll(llmDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(llmDir, "a.md"), []byte("first"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(llmDir, "b.md"), []byte("second"), 0644))

	validator, err := Init("Validator")
	require.NoError(t, err)

	adopted, err := validator.AdoptContext("Emitter")
	require.NoError(t, err)
	assert.Equal(t, "Emitter", adopted.UnitName)
	assert.Contains(t, adopted.LLMInstructions, "first")
	assert.Contains(t, adopted.LLMInstructions, "second")
}
