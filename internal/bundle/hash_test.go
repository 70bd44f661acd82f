package bundle

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/model"
)

func TestHash_InvariantUnderKeyReordering(t *testing.T) {
	a := map[string][]string{
		"onspd": {"11111111-1111-1111-1111-111111111111"},
		"nsul":  {"77777777-7777-7777-7777-777777777777"},
	}
	b := map[string][]string{
		"nsul":  {"77777777-7777-7777-7777-777777777777"},
		"onspd": {"11111111-1111-1111-1111-111111111111"},
	}

	h1, err := Hash(model.ProfileGBCore, a)
	require.NoError(t, err)
	h2, err := Hash(model.ProfileGBCore, b)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_InvariantUnderRunListPermutation(t *testing.T) {
	a := map[string][]string{"ppd": {"run-1", "run-2", "run-3"}}
	b := map[string][]string{"ppd": {"run-3", "run-1", "run-2"}}

	h1, err := Hash(model.ProfileGBCorePPD, a)
	require.NoError(t, err)
	h2, err := Hash(model.ProfileGBCorePPD, b)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_MatchesExpectedCanonicalJSON(t *testing.T) {
	sourceRuns := map[string][]string{
		"nsul": {"77777777-7777-7777-7777-777777777777"},
	}
	got, err := Hash(model.ProfileGBCore, sourceRuns)
	require.NoError(t, err)

	expectedJSON := `{"build_profile":"gb_core","source_runs":{"nsul":["77777777-7777-7777-7777-777777777777"]}}`
	want := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedJSON)))
	assert.Equal(t, want, got)
}

func TestHash_DifferentProfileDifferentHash(t *testing.T) {
	runs := map[string][]string{"onspd": {"11111111-1111-1111-1111-111111111111"}}
	h1, err := Hash(model.ProfileGBCore, runs)
	require.NoError(t, err)
	h2, err := Hash(model.ProfileCoreNI, runs)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
