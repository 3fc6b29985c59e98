package ckdl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExternWithCategory(t *testing.T) {
	doc, err := Parse(`
# > Intelligence & Ontology
EXTERN ckp://ConceptKernel.LLM.Claude:v0.1.0
EXTERN ckp://ConceptKernel.Ontology:v1.0.0
`)
	require.NoError(t, err)
	require.Len(t, doc.Externs, 2)
	assert.Equal(t, "Intelligence & Ontology", doc.Externs[0].Category)
}

func TestParseKernelWithTypeAndPort(t *testing.T) {
	doc, err := Parse(`
KERNEL ckp://Com.NeuxScience.GameDispatch.Waterfall:v0.1.0
  TYPE: python:hot
  PORT: 3013
`)
	require.NoError(t, err)
	require.Len(t, doc.Kernels, 1)
	assert.Equal(t, "python:hot", doc.Kernels[0].KernelType)
	assert.Equal(t, 3013, doc.Kernels[0].Port)
}

func TestParseEdgeWithAndWithoutVersion(t *testing.T) {
	doc, err := Parse(`
EDGE ckp://Edge.LINKS_IDENTITY.Com.NeuxScience.Participant-to-System.Oidc.User:v1.0.0
`)
	require.NoError(t, err)
	require.Len(t, doc.Edges, 1)
	assert.Equal(t, "LINKS_IDENTITY", doc.Edges[0].Predicate)

	docNoVer, err := Parse(`
EDGE ckp://Edge.PRODUCES.MixIngredients-to-BakeCake
`)
	require.NoError(t, err)
	require.Len(t, docNoVer.Edges, 1)
	assert.Equal(t, "PRODUCES", docNoVer.Edges[0].Predicate)
}

func TestParseEdgeTrigger(t *testing.T) {
	doc, err := Parse(`
EDGE ckp://Edge.PRODUCES.Emitter-to-Validator:v1.0.0
  TRIGGER: when retries > 3
EDGE ckp://Edge.PRODUCES.Validator-to-Archiver:v1.0.0
`)
	require.NoError(t, err)
	require.Len(t, doc.Edges, 2)
	assert.Equal(t, "when retries > 3", doc.Edges[0].Trigger)
	assert.Empty(t, doc.Edges[1].Trigger)
}

func TestParseToleratesInvalidLines(t *testing.T) {
	doc, err := Parse(`
EXTERN not-a-valid-urn
KERNEL ckp://Valid.Kernel
EDGE ckp://Edge.BAD.NoSeparatorHere
`)
	require.NoError(t, err)
	assert.Empty(t, doc.Externs)
	require.Len(t, doc.Kernels, 1)
	assert.Empty(t, doc.Edges)
}

func TestToCKDLRoundTrip(t *testing.T) {
	original := `# CKDL: Concept Kernel Definition Language
# Version: v1
# Domain: test

# --- 2. Kernel Definitions ---

KERNEL ckp://Validator
  TYPE: rust:cold
  PORT: 4000

# --- 3. Edge Definitions ---

EDGE ckp://Edge.PRODUCES.Emitter-to-Validator:v1.0.0
  TRIGGER: when attempts >= 3
`
	doc, err := Parse(original)
	require.NoError(t, err)

	doc2, err := Parse(doc.ToCKDL())
	require.NoError(t, err)

	assert.Equal(t, doc.Version, doc2.Version)
	assert.Equal(t, doc.KernelUrns(), doc2.KernelUrns())
	require.Len(t, doc2.Edges, 1)
	assert.Equal(t, doc.Edges[0].Predicate, doc2.Edges[0].Predicate)
	assert.Equal(t, doc.Edges[0].Trigger, doc2.Edges[0].Trigger)
}

func TestFindKernelAndEdgeLookups(t *testing.T) {
	doc, err := Parse(`
KERNEL ckp://Emitter
KERNEL ckp://Validator
EDGE ckp://Edge.PRODUCES.Emitter-to-Validator
`)
	require.NoError(t, err)

	k, found := doc.FindKernel("ckp://Emitter")
	require.True(t, found)
	assert.Equal(t, "ckp://Emitter", k.Urn)

	assert.Len(t, doc.EdgesFrom("ckp://Emitter"), 1)
	assert.Len(t, doc.EdgesTo("ckp://Validator"), 1)
}
