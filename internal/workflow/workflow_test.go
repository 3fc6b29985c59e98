package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckcore/internal/ckdl"
)

func TestValidate_SimpleAcyclicWorkflow(t *testing.T) {
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
EDGE ckp://Edge.PRODUCES.A-to-B
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Empty(t, v.Cycles)
}

func TestValidate_RequestResponseCycleIsIntentional(t *testing.T) {
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
EDGE ckp://Edge.ASKS.A-to-B
EDGE ckp://Edge.ANSWERS.B-to-A
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	require.Len(t, v.Cycles, 1)
	assert.True(t, v.Cycles[0].IsIntentional)
	assert.Equal(t, CycleRequestResponse, v.Cycles[0].Type)
	assert.True(t, v.IsValid)
	assert.Empty(t, v.Errors)
}

func TestValidate_ThreeNodeCycleIsProblematicButWarningOnly(t *testing.T) {
	// A -> B -> C -> A: 3-node cycle, no Validator/Wss pattern, len != 2.
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
KERNEL ckp://C
EDGE ckp://Edge.STEP.A-to-B
EDGE ckp://Edge.STEP.B-to-C
EDGE ckp://Edge.STEP.C-to-A
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	require.Len(t, v.Cycles, 1)
	assert.False(t, v.Cycles[0].IsIntentional)
	assert.Equal(t, CycleProblematic, v.Cycles[0].Type)

	// Problematic cycles are warnings only — they do not invalidate the workflow.
	assert.True(t, v.IsValid)
	assert.Empty(t, v.Errors)
	assert.NotEmpty(t, v.Warnings)
}

func TestValidate_ClosedLoopVerificationPattern(t *testing.T) {
	doc, err := ckdl.Parse(`
KERNEL ckp://Validator
KERNEL ckp://StepA
KERNEL ckp://StepB
KERNEL ckp://Wss
KERNEL ckp://StepC
EDGE ckp://Edge.STEP.Validator-to-StepA
EDGE ckp://Edge.STEP.StepA-to-StepB
EDGE ckp://Edge.STEP.StepB-to-Wss
EDGE ckp://Edge.STEP.Wss-to-StepC
EDGE ckp://Edge.STEP.StepC-to-Validator
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	require.Len(t, v.Cycles, 1)
	assert.Equal(t, CycleClosedLoopVerification, v.Cycles[0].Type)
	assert.True(t, v.Cycles[0].IsIntentional)
}

func TestValidate_CycleExitConditionComesFromTriggerNotPredicate(t *testing.T) {
	// Predicates are uppercase-only, so an exit condition can never be
	// detected from the predicate itself; it must come from a TRIGGER line.
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
EDGE ckp://Edge.ASKS.A-to-B
EDGE ckp://Edge.ANSWERS.B-to-A
  TRIGGER: when retries > 3
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	require.Len(t, v.Cycles, 1)
	assert.True(t, v.Cycles[0].HasExitCondition)
}

func TestValidate_CycleWithoutTriggerHasNoExitCondition(t *testing.T) {
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
EDGE ckp://Edge.ASKS.A-to-B
EDGE ckp://Edge.ANSWERS.B-to-A
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	require.Len(t, v.Cycles, 1)
	assert.False(t, v.Cycles[0].HasExitCondition)
}

func TestValidate_OrphanedKernelWarns(t *testing.T) {
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
KERNEL ckp://Lonely
EDGE ckp://Edge.PRODUCES.A-to-B
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	require.Len(t, v.Orphaned, 1)
	assert.Equal(t, "ckp://Lonely", v.Orphaned[0])
}

func TestValidate_DedupesCyclesCanonically(t *testing.T) {
	// Two edges describing the same 2-cycle discovered from either direction
	// should still be reported once.
	doc, err := ckdl.Parse(`
KERNEL ckp://A
KERNEL ckp://B
EDGE ckp://Edge.ASKS.A-to-B
EDGE ckp://Edge.ANSWERS.B-to-A
`)
	require.NoError(t, err)

	v, err := Validate(doc, nil)
	require.NoError(t, err)
	assert.Len(t, v.Cycles, 1)
}
