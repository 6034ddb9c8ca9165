package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phi-deid/deid-go/utils"
)

func entity(value string, typ utils.EntityType, start int, detector string, confidence float64) utils.MergedEntity {
	return utils.MergedEntity{
		Candidate: utils.NewCandidate(value, typ, start, detector, confidence),
		Detectors: []string{detector},
	}
}

func redactAllPolicy(t *testing.T) *MaskingPolicy {
	t.Helper()
	policy, err := NewPolicyBuilder().
		WithMetadata("1.0.0", "Redact everything", "test").
		WithDefaultStrategy(StrategyRedact).
		Build()
	require.NoError(t, err)
	return policy
}

// TestApplyPolicyRedaction covers the canonical document: both entities
// replaced by the placeholder, surrounding text untouched
func TestApplyPolicyRedaction(t *testing.T) {
	text := "Patient John Smith was admitted on 2024-01-15."
	entities := []utils.MergedEntity{
		entity("John Smith", utils.TypeName, 8, "ner", 0.85),
		entity("2024-01-15", utils.TypeDate, 35, "pattern", 0.85),
	}

	masked, reports := ApplyPolicy(text, entities, redactAllPolicy(t), nil)

	assert.Equal(t, "Patient [REDACTED] was admitted on [REDACTED].", masked)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.Applied)
	}
}

// TestApplyPolicyPartialMask verifies keep_prefix=3 keep_suffix=2 turns
// "0912345678" into "091*****78"
func TestApplyPolicyPartialMask(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithOverride(utils.TypePhone, StrategyPartialMask).
		WithPartialMask(3, 2, "*").
		Build()
	require.NoError(t, err)

	text := "call 0912345678 now"
	masked, reports := ApplyPolicy(text, []utils.MergedEntity{
		entity("0912345678", utils.TypePhone, 5, "phone", 0.90),
	}, policy, nil)

	assert.Equal(t, "call 091*****78 now", masked)
	assert.True(t, reports[0].Applied)
	assert.Equal(t, "091*****78", reports[0].Replacement)
}

// TestApplyPolicyPartialMaskTooShort verifies a span shorter than the
// keep counts is left untouched with a logged reason
func TestApplyPolicyPartialMaskTooShort(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithOverride(utils.TypePhone, StrategyPartialMask).
		WithPartialMask(3, 2, "*").
		Build()
	require.NoError(t, err)

	text := "ext 0912 now"
	masked, reports := ApplyPolicy(text, []utils.MergedEntity{
		entity("0912", utils.TypePhone, 4, "phone", 0.90),
	}, policy, nil)

	assert.Equal(t, text, masked)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Applied)
	assert.NotEmpty(t, reports[0].Reason)
}

// TestPseudonymizeDeterminism verifies identical (text, type, salt)
// always yields the identical pseudonym and a different salt changes it
func TestPseudonymizeDeterminism(t *testing.T) {
	a := Pseudonymize("John Smith", utils.TypeName, "salt-1")
	b := Pseudonymize("John Smith", utils.TypeName, "salt-1")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Pseudonymize("John Smith", utils.TypeName, "salt-2"))
	assert.NotEqual(t, a, Pseudonymize("John Smith", utils.TypeID, "salt-1"))
	assert.True(t, strings.HasPrefix(a, "NAME-"))
}

// TestApplyPolicyPseudonymize verifies the strategy end to end
func TestApplyPolicyPseudonymize(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithOverride(utils.TypeID, StrategyPseudonymize).
		WithSalt("test-salt").
		Build()
	require.NoError(t, err)

	text := "ID A123456789 on file"
	masked, _ := ApplyPolicy(text, []utils.MergedEntity{
		entity("A123456789", utils.TypeID, 3, "id_validator", 0.95),
	}, policy, nil)

	expected := "ID " + Pseudonymize("A123456789", utils.TypeID, "test-salt") + " on file"
	assert.Equal(t, expected, masked)
}

// TestApplyPolicyDateShift verifies the shifted date keeps its format
// and an unparseable date falls back to redaction
func TestApplyPolicyDateShift(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithOverride(utils.TypeDate, StrategyDateShift).
		WithDateOffset(31).
		Build()
	require.NoError(t, err)

	text := "admitted on 2024-01-15 for observation"
	masked, _ := ApplyPolicy(text, []utils.MergedEntity{
		entity("2024-01-15", utils.TypeDate, 12, "pattern", 0.85),
	}, policy, nil)
	assert.Equal(t, "admitted on 2024-02-15 for observation", masked)

	// Not a recognizable date: redacted, never left in the clear
	text = "seen around mid-January"
	masked, reports := ApplyPolicy(text, []utils.MergedEntity{
		entity("mid-January", utils.TypeDate, 12, "ner", 0.60),
	}, policy, nil)
	assert.Equal(t, "seen around [REDACTED]", masked)
	assert.True(t, reports[0].Applied)
}

// TestApplyPolicyDateShiftROC verifies ROC calendar dates shift and
// keep their calendar style
func TestApplyPolicyDateShiftROC(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithOverride(utils.TypeDate, StrategyDateShift).
		WithDateOffset(31).
		Build()
	require.NoError(t, err)

	text := "門診民國113年1月15日複診"
	masked, _ := ApplyPolicy(text, []utils.MergedEntity{
		entity("民國113年1月15日", utils.TypeDate, len("門診"), "pattern", 0.85),
	}, policy, nil)
	assert.Equal(t, "門診民國113年2月15日複診", masked)
}

// TestApplyPolicyGeneralize verifies the coarser labels per type
func TestApplyPolicyGeneralize(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithDefaultStrategy(StrategyGeneralize).
		Build()
	require.NoError(t, err)

	text := "a 92-year-old seen 2024-01-15"
	masked, _ := ApplyPolicy(text, []utils.MergedEntity{
		entity("92-year-old", utils.TypeAgeOver89, 2, "pattern", 0.85),
		entity("2024-01-15", utils.TypeDate, 19, "pattern", 0.85),
	}, policy, nil)

	assert.Equal(t, "a 90+ seen 2024", masked)
}

// TestApplyPolicySuppress verifies span removal cleans up a now
// redundant separator
func TestApplyPolicySuppress(t *testing.T) {
	policy, err := NewPolicyBuilder().
		WithDefaultStrategy(StrategySuppress).
		Build()
	require.NoError(t, err)

	text := "contacts: 0912345678, 0922333444"
	masked, _ := ApplyPolicy(text, []utils.MergedEntity{
		entity("0912345678", utils.TypePhone, 10, "phone", 0.90),
	}, policy, nil)

	assert.Equal(t, "contacts: 0922333444", masked)
}

// TestApplyPolicyReverseOrderSafety verifies masking several entities
// never shifts the offsets of entities earlier in the document
func TestApplyPolicyReverseOrderSafety(t *testing.T) {
	text := "Name John Smith, date 2024-01-15, phone 0912345678, id A123456789."
	entities := []utils.MergedEntity{
		entity("John Smith", utils.TypeName, 5, "ner", 0.85),
		entity("2024-01-15", utils.TypeDate, 22, "pattern", 0.85),
		entity("0912345678", utils.TypePhone, 40, "phone", 0.90),
		entity("A123456789", utils.TypeID, 55, "id_validator", 0.95),
	}

	masked, reports := ApplyPolicy(text, entities, redactAllPolicy(t), nil)

	assert.Equal(t,
		"Name [REDACTED], date [REDACTED], phone [REDACTED], id [REDACTED].",
		masked)
	for _, r := range reports {
		assert.True(t, r.Applied, "entity %s not masked", r.Entity.Value)
	}
}

// TestApplyPolicyGuards verifies stale or overlapping entities are
// skipped instead of corrupting the document
func TestApplyPolicyGuards(t *testing.T) {
	text := "Patient John Smith admitted."

	// Entity text no longer matches the document
	masked, reports := ApplyPolicy(text, []utils.MergedEntity{
		entity("Jane Smith", utils.TypeName, 8, "ner", 0.85),
	}, redactAllPolicy(t), nil)
	assert.Equal(t, text, masked)
	assert.False(t, reports[0].Applied)

	// Span beyond the document
	masked, reports = ApplyPolicy(text, []utils.MergedEntity{
		entity("John Smith", utils.TypeName, len(text), "ner", 0.85),
	}, redactAllPolicy(t), nil)
	assert.Equal(t, text, masked)
	assert.False(t, reports[0].Applied)

	// Overlapping pair: only one replacement happens
	masked, reports = ApplyPolicy(text, []utils.MergedEntity{
		entity("Patient John", utils.TypeName, 0, "llm", 0.60),
		entity("John Smith", utils.TypeName, 8, "ner", 0.85),
	}, redactAllPolicy(t), nil)
	assert.Equal(t, "Patient [REDACTED] admitted.", masked)
	applied := 0
	for _, r := range reports {
		if r.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
}
