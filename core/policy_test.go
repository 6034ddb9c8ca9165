package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phi-deid/deid-go/utils"
)

// TestDefaultPolicyIsValid guards the shipped baseline
func TestDefaultPolicyIsValid(t *testing.T) {
	policy := DefaultPolicy()
	assert.NoError(t, policy.Validate())

	assert.Equal(t, StrategyRedact, policy.StrategyFor(utils.TypeName))
	assert.Equal(t, StrategyDateShift, policy.StrategyFor(utils.TypeDate))
	assert.Equal(t, StrategyPartialMask, policy.StrategyFor(utils.TypePhone))
	assert.Equal(t, StrategyGeneralize, policy.StrategyFor(utils.TypeAgeOver89))
}

// TestPolicySaveLoadRoundTrip verifies a built policy survives the YAML
// round trip with a content hash stamped on load
func TestPolicySaveLoadRoundTrip(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithMetadata("2.1.0", "Round trip policy", "tests").
		WithDefaultStrategy(StrategyRedact).
		WithOverride(utils.TypeID, StrategyPseudonymize).
		WithOverride(utils.TypePhone, StrategyPartialMask).
		WithSalt("round-trip-salt").
		WithPartialMask(3, 2, "*").
		WithPlaceholder("[GONE]").
		Build()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, SavePolicy(policy, path))

	loaded, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, policy.Metadata.Version, loaded.Metadata.Version)
	assert.Equal(t, policy.DefaultStrategy, loaded.DefaultStrategy)
	assert.Equal(t, policy.Overrides, loaded.Overrides)
	assert.Equal(t, policy.Parameters, loaded.Parameters)
	assert.NotEmpty(t, loaded.Metadata.Hash)
}

// TestLoadPolicyFailsFast verifies a bad policy file never reaches
// document processing
func TestLoadPolicyFailsFast(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"unknown_strategy": "default_strategy: scramble\n",
		"missing_default":  "overrides:\n  NAME: redact\n",
		"salt_required":    "default_strategy: pseudonymize\n",
		"bad_mask_char":    "default_strategy: partialmask\nparameters:\n  mask_char: \"**\"\n",
		"negative_keep":    "default_strategy: partialmask\nparameters:\n  keep_prefix: -1\n",
	}

	for name, content := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, err := LoadPolicy(path)
		require.Error(t, err, "%s should not load", name)
		assert.ErrorIs(t, err, ErrInvalidConfig, "%s should be a configuration error", name)
	}

	_, err := LoadPolicy(filepath.Join(dir, "does-not-exist.yaml"))
	assert.Error(t, err)

	garbled := filepath.Join(dir, "garbled.yaml")
	require.NoError(t, os.WriteFile(garbled, []byte("{{{not yaml"), 0644))
	_, err = LoadPolicy(garbled)
	assert.Error(t, err)
}

// TestPolicyBuilderValidatesOnBuild verifies the builder refuses
// conflicting settings
func TestPolicyBuilderValidatesOnBuild(t *testing.T) {
	_, err := NewPolicyBuilder().
		WithOverride(utils.TypeID, StrategyPseudonymize).
		Build()
	assert.ErrorIs(t, err, ErrInvalidConfig, "pseudonymize without a salt must not build")

	_, err = NewPolicyBuilder().
		WithDefaultStrategy("scramble").
		Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPolicyBuilder().
		WithPartialMask(-1, 2, "*").
		Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestPolicyValidateAllowsMultibyteMaskChar verifies a single multibyte
// rune is an acceptable mask character
func TestPolicyValidateAllowsMultibyteMaskChar(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithOverride(utils.TypeName, StrategyPartialMask).
		WithPartialMask(1, 1, "＊").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "＊", policy.Parameters.MaskChar)
}
