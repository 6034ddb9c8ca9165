package core

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/phi-deid/deid-go/utils"
)

// PatternRule stores metadata about one regex detection rule.
type PatternRule struct {
	Regex       *regexp.Regexp
	Type        utils.EntityType
	Confidence  float64
	Description string
}

// builtinPatterns are the standing regex rules for identifier-shaped
// spans. National-ID shapes are also reported here at lower confidence;
// the checksum validator upgrades or demotes them during merge.
var builtinPatterns = map[string]PatternRule{
	"email": {
		Regex:       regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`),
		Type:        utils.TypeEmail,
		Confidence:  0.90,
		Description: "Email address",
	},
	"url": {
		Regex:       regexp.MustCompile(`https?://[^\s"'<>（）()]+`),
		Type:        utils.TypeURL,
		Confidence:  0.85,
		Description: "Web address",
	},
	"ip_address": {
		Regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Type:        utils.TypeIPAddress,
		Confidence:  0.85,
		Description: "IPv4 address",
	},
	"date_iso": {
		Regex:       regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		Type:        utils.TypeDate,
		Confidence:  0.85,
		Description: "ISO date (2024-01-15)",
	},
	"date_slash": {
		Regex:       regexp.MustCompile(`\b\d{4}/\d{1,2}/\d{1,2}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`),
		Type:        utils.TypeDate,
		Confidence:  0.80,
		Description: "Slash-separated date",
	},
	"date_written": {
		Regex:       regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.? \d{1,2},? \d{4}\b`),
		Type:        utils.TypeDate,
		Confidence:  0.85,
		Description: "Written month date (January 15, 2024)",
	},
	"date_roc": {
		Regex:       regexp.MustCompile(`(?:民國)?\d{2,3}年\d{1,2}月\d{1,2}日`),
		Type:        utils.TypeDate,
		Confidence:  0.85,
		Description: "ROC calendar date (民國113年5月1日)",
	},
	"national_id": {
		Regex:       regexp.MustCompile(`\b[A-Z][12]\d{8}\b`),
		Type:        utils.TypeID,
		Confidence:  0.80,
		Description: "National-ID-shaped token",
	},
	"medical_record": {
		Regex:       regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number)?|patient id|病歷號碼?|病歷編號)\s*[:：#]?\s*\d{6,12}\b`),
		Type:        utils.TypeMedicalRecordNumber,
		Confidence:  0.90,
		Description: "Labeled medical record number",
	},
}

// ageRe captures explicit age mentions so values above 89 can be tagged.
var ageRe = regexp.MustCompile(`\b(\d{1,3})(?:\s*歲|[- ]years?[- ]old|[- ]y/?o\b)`)

const ageOver89Threshold = 89

// patternDetectorName is the provenance tag on pattern matches.
const patternDetectorName = "pattern"

// PatternDetector finds identifier-shaped spans by regular expression.
type PatternDetector struct {
	patterns map[string]PatternRule
}

// NewPatternDetector creates a pattern detector with the built-in rules
// plus any custom rules.
func NewPatternDetector(customPatterns map[string]string) (*PatternDetector, error) {
	patterns := make(map[string]PatternRule, len(builtinPatterns)+len(customPatterns))
	for k, v := range builtinPatterns {
		patterns[k] = v
	}

	for name, pattern := range customPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid custom pattern '%s': %w", name, err)
		}

		patterns[name] = PatternRule{
			Regex:       re,
			Type:        utils.TypeCustom,
			Confidence:  0.70,
			Description: fmt.Sprintf("Custom pattern: %s", name),
		}
	}

	return &PatternDetector{patterns: patterns}, nil
}

// Name implements Detector.
func (d *PatternDetector) Name() string {
	return patternDetectorName
}

// Scan implements Detector.
func (d *PatternDetector) Scan(text string) []utils.Candidate {
	var out []utils.Candidate

	for name, rule := range d.patterns {
		locs := rule.Regex.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			c := utils.NewCandidate(text[loc[0]:loc[1]], rule.Type, loc[0], patternDetectorName, rule.Confidence)
			if rule.Type == utils.TypeCustom {
				c = c.WithCustom(utils.CustomInfo{Name: name, Description: rule.Description})
			}
			c.Metadata = map[string]string{"rule": name}
			out = append(out, c)
		}
	}

	out = append(out, d.scanAges(text)...)
	return out
}

// scanAges reports ages above 89, which are identifying on their own.
func (d *PatternDetector) scanAges(text string) []utils.Candidate {
	var out []utils.Candidate

	for _, m := range ageRe.FindAllStringSubmatchIndex(text, -1) {
		age, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || age <= ageOver89Threshold || age > 150 {
			continue
		}

		c := utils.NewCandidate(text[m[0]:m[1]], utils.TypeAgeOver89, m[0], patternDetectorName, 0.85)
		c.Metadata = map[string]string{"rule": "age_over_89", "age": strconv.Itoa(age)}
		out = append(out, c)
	}

	return out
}
