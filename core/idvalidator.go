package core

import (
	"regexp"
	"strconv"

	"github.com/phi-deid/deid-go/utils"
)

// idValidatorName is the provenance tag on validated identifiers.
const idValidatorName = "id_validator"

const (
	// idValidConfidence is reported when the checksum digit verifies
	idValidConfidence = 0.95

	// idShapeOnlyConfidence is reported for ID-shaped tokens whose
	// checksum does not verify; they are demoted, never discarded
	idShapeOnlyConfidence = 0.40
)

// taiwanIDRe matches the national ID shape: one letter, a gender digit,
// eight more digits.
var taiwanIDRe = regexp.MustCompile(`\b[A-Z][12]\d{8}\b`)

// letterValues maps the leading region letter to its two-digit code in
// the national ID checksum scheme.
var letterValues = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16,
	'H': 17, 'I': 34, 'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22,
	'O': 35, 'P': 23, 'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28,
	'V': 29, 'W': 32, 'X': 30, 'Y': 31, 'Z': 33,
}

// digitWeights apply to the nine numeric positions; the letter's two
// digits weigh 1 and 9.
var digitWeights = [9]int{8, 7, 6, 5, 4, 3, 2, 1, 1}

// IDValidator recognizes national-ID-shaped tokens and verifies the
// checksum digit. Invalid-but-ID-shaped tokens are reported with lower
// confidence and ChecksumValid=false metadata rather than dropped.
type IDValidator struct{}

// NewIDValidator creates a checksum identifier validator.
func NewIDValidator() *IDValidator {
	return &IDValidator{}
}

// Name implements Detector.
func (d *IDValidator) Name() string {
	return idValidatorName
}

// Scan implements Detector.
func (d *IDValidator) Scan(text string) []utils.Candidate {
	var out []utils.Candidate

	for _, loc := range taiwanIDRe.FindAllStringIndex(text, -1) {
		token := text[loc[0]:loc[1]]
		valid := ValidateTaiwanID(token)

		confidence := idShapeOnlyConfidence
		if valid {
			confidence = idValidConfidence
		}

		c := utils.NewCandidate(token, utils.TypeID, loc[0], idValidatorName, confidence)
		c.Metadata = map[string]string{"checksum_valid": strconv.FormatBool(valid)}
		out = append(out, c)
	}

	return out
}

// ValidateTaiwanID verifies the checksum digit of a national ID token.
// The token must already match the ID shape.
func ValidateTaiwanID(token string) bool {
	if len(token) != 10 {
		return false
	}

	lv, ok := letterValues[token[0]]
	if !ok {
		return false
	}

	sum := (lv/10)*1 + (lv%10)*9
	for i := 0; i < 9; i++ {
		digit := int(token[i+1] - '0')
		if digit < 0 || digit > 9 {
			return false
		}
		sum += digit * digitWeights[i]
	}

	return sum%10 == 0
}
