package core

import (
	"regexp"
	"strings"

	"github.com/phi-deid/deid-go/utils"
)

// phoneDetectorName is the provenance tag on phone matches.
const phoneDetectorName = "phone"

// faxContextBytes is how far around a match the classifier looks for a
// fax keyword.
const faxContextBytes = 30

// phoneRules cover the recognized number shapes, most specific first so
// overlapping matches prefer the richer format.
var phoneRules = []struct {
	name       string
	re         *regexp.Regexp
	confidence float64
}{
	{"intl", regexp.MustCompile(`\+886[- ]?\d{1,2}[- ]?\d{3,4}[- ]?\d{3,4}`), 0.90},
	{"mobile", regexp.MustCompile(`\b09\d{2}[- ]?\d{3}[- ]?\d{3}\b`), 0.90},
	{"landline", regexp.MustCompile(`\(0\d{1,2}\)\s?\d{3,4}[- ]?\d{4}|\b0\d{1,2}-\d{3,4}[- ]?\d{4}\b`), 0.80},
}

// faxKeywords mark a number as a fax line when found near the match.
var faxKeywords = []string{"fax", "傳真"}

// PhoneDetector recognizes mobile, landline, and international phone
// formats and disambiguates FAX from PHONE by nearby context keywords.
type PhoneDetector struct{}

// NewPhoneDetector creates a phone/fax classifier.
func NewPhoneDetector() *PhoneDetector {
	return &PhoneDetector{}
}

// Name implements Detector.
func (d *PhoneDetector) Name() string {
	return phoneDetectorName
}

// Scan implements Detector.
func (d *PhoneDetector) Scan(text string) []utils.Candidate {
	var out []utils.Candidate
	claimed := make([]utils.Candidate, 0, 4)

	for _, rule := range phoneRules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			span := utils.Candidate{StartIndex: loc[0], EndIndex: loc[1]}

			// A more specific rule already claimed this span.
			overlapped := false
			for _, prev := range claimed {
				if span.Overlaps(prev) {
					overlapped = true
					break
				}
			}
			if overlapped {
				continue
			}

			typ := utils.TypePhone
			if isFaxContext(text, loc[0], loc[1]) {
				typ = utils.TypeFax
			}

			c := utils.NewCandidate(text[loc[0]:loc[1]], typ, loc[0], phoneDetectorName, rule.confidence)
			c.Metadata = map[string]string{"format": rule.name}
			out = append(out, c)
			claimed = append(claimed, c)
		}
	}

	return out
}

// isFaxContext reports whether a fax keyword appears within
// faxContextBytes of the match.
func isFaxContext(text string, start, end int) bool {
	lo := start - faxContextBytes
	if lo < 0 {
		lo = 0
	}
	hi := end + faxContextBytes
	if hi > len(text) {
		hi = len(text)
	}

	context := strings.ToLower(text[lo:hi])
	for _, kw := range faxKeywords {
		if strings.Contains(context, kw) {
			return true
		}
	}
	return false
}
