package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateTaiwanID exercises the checksum arithmetic on known valid
// and invalid identifiers
func TestValidateTaiwanID(t *testing.T) {
	assert.True(t, ValidateTaiwanID("A123456789"))

	// Flipping the check digit breaks the checksum
	assert.False(t, ValidateTaiwanID("A123456780"))
	// Wrong length or shape never validates
	assert.False(t, ValidateTaiwanID("A12345678"))
	assert.False(t, ValidateTaiwanID("a123456789"))
	assert.False(t, ValidateTaiwanID(""))
}

// TestIDValidatorScanConfidences verifies checksum-valid tokens are
// reported at high confidence and shape-only tokens are demoted, not
// dropped
func TestIDValidatorScanConfidences(t *testing.T) {
	d := NewIDValidator()

	text := "Valid ID A123456789 then invalid A123456780 on record."
	candidates := d.Scan(text)
	require.Len(t, candidates, 2)

	assert.Equal(t, "A123456789", candidates[0].Value)
	assert.InDelta(t, 0.95, candidates[0].Confidence, 1e-9)
	assert.Equal(t, "true", candidates[0].Metadata["checksum_valid"])

	assert.Equal(t, "A123456780", candidates[1].Value)
	assert.InDelta(t, 0.40, candidates[1].Confidence, 1e-9)
	assert.Equal(t, "false", candidates[1].Metadata["checksum_valid"])

	for _, c := range candidates {
		assert.Equal(t, text[c.StartIndex:c.EndIndex], c.Value)
		assert.Equal(t, "id_validator", c.Detector)
	}
}

// TestIDValidatorIgnoresNonIDText verifies plain digit runs are not
// mistaken for identifiers
func TestIDValidatorIgnoresNonIDText(t *testing.T) {
	d := NewIDValidator()
	assert.Empty(t, d.Scan("order 1234567890 shipped, ref X987654 pending"))
}
