package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSpec struct {
	Image    string   `json:"image"`
	Artifact string   `json:"artifact,omitempty"`
	Command  []string `json:"command,omitempty"`
}

func TestComputeChangeAndAdd(t *testing.T) {
	old := testSpec{Image: "a:1"}
	new := testSpec{Image: "a:2", Command: []string{"run"}}

	set, err := Compute(old, new)
	require.NoError(t, err)

	line, ok := set.Find([]Action{Change}, []string{"spec", "image"})
	require.True(t, ok)
	assert.Equal(t, "a:1", line.Old)
	assert.Equal(t, "a:2", line.New)

	_, ok = set.Find([]Action{Add}, []string{"spec", "command"})
	assert.True(t, ok)
}

func TestComputeNilOld(t *testing.T) {
	new := testSpec{Image: "a:1"}
	set, err := Compute(nil, new)
	require.NoError(t, err)
	_, ok := set.Find([]Action{Add, Change}, []string{"spec", "image"})
	assert.True(t, ok)
}

func TestFindNoMatch(t *testing.T) {
	set := Set{{Action: Change, Path: []string{"spec", "image"}}}
	_, ok := set.Find([]Action{Add}, []string{"spec", "image"})
	assert.False(t, ok)
}

type modelsSpec struct {
	Models []modelRef `json:"models"`
}

type modelRef struct {
	Model  string `json:"model"`
	Weight int32  `json:"weight"`
}

func TestComputeModelsWholeSliceDiff(t *testing.T) {
	old := modelsSpec{Models: []modelRef{{Model: "m1", Weight: 100}}}
	new := modelsSpec{Models: []modelRef{{Model: "m1", Weight: 50}}}

	set, err := Compute(old, new)
	require.NoError(t, err)

	line, ok := set.Find([]Action{Change}, []string{"spec", "models"})
	require.True(t, ok)
	assert.NotNil(t, line.Old)
	assert.NotNil(t, line.New)
}
