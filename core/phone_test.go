package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phi-deid/deid-go/utils"
)

// TestPhoneDetectorFormats covers the mobile, landline, and
// international number shapes
func TestPhoneDetectorFormats(t *testing.T) {
	d := NewPhoneDetector()

	cases := map[string]string{
		"mobile":        "call 0912345678 anytime",
		"mobile dashed": "call 0912-345-678 anytime",
		"landline":      "office 02-2345-6789 weekdays",
		"intl":          "dial +886-2-2345-6789 from abroad",
	}

	for name, text := range cases {
		candidates := d.Scan(text)
		require.Len(t, candidates, 1, "%s case", name)
		assert.Equal(t, utils.TypePhone, candidates[0].Type)
		assert.Equal(t, text[candidates[0].StartIndex:candidates[0].EndIndex], candidates[0].Value)
	}
}

// TestPhoneDetectorFaxContext verifies a nearby fax keyword reclassifies
// the number, in either language
func TestPhoneDetectorFaxContext(t *testing.T) {
	d := NewPhoneDetector()

	candidates := d.Scan("Fax: 02-2345-6789 for referrals")
	require.Len(t, candidates, 1)
	assert.Equal(t, utils.TypeFax, candidates[0].Type)

	candidates = d.Scan("傳真 02-2345-6789 轉介用")
	require.Len(t, candidates, 1)
	assert.Equal(t, utils.TypeFax, candidates[0].Type)

	// Keyword too far away stays a phone
	padding := " regarding the upcoming appointment please "
	candidates = d.Scan("fax cover sheet" + padding + "02-2345-6789")
	require.Len(t, candidates, 1)
	assert.Equal(t, utils.TypePhone, candidates[0].Type)
}

// TestPhoneDetectorMultipleNumbers verifies each number yields exactly
// one candidate and formats are tagged in metadata
func TestPhoneDetectorMultipleNumbers(t *testing.T) {
	d := NewPhoneDetector()

	text := "mobile 0912345678, office (02) 2345-6789"
	candidates := d.Scan(text)
	require.Len(t, candidates, 2)

	formats := map[string]bool{}
	for _, c := range candidates {
		formats[c.Metadata["format"]] = true
		assert.Equal(t, text[c.StartIndex:c.EndIndex], c.Value)
	}
	assert.True(t, formats["mobile"])
	assert.True(t, formats["landline"])
}
