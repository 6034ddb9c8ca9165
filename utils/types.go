package utils

import (
	"fmt"
	"strings"
)

// EntityType classifies a detected sensitive span.
type EntityType string

const (
	// TypeName represents a person's name
	TypeName EntityType = "NAME"

	// TypeDate represents a calendar date
	TypeDate EntityType = "DATE"

	// TypeAgeOver89 represents an explicit age above 89
	TypeAgeOver89 EntityType = "AGE_OVER_89"

	// TypePhone represents a phone number
	TypePhone EntityType = "PHONE"

	// TypeFax represents a fax number
	TypeFax EntityType = "FAX"

	// TypeEmail represents an email address
	TypeEmail EntityType = "EMAIL"

	// TypeID represents a national or personal identifier
	TypeID EntityType = "ID"

	// TypeLocation represents a geographic location or address
	TypeLocation EntityType = "LOCATION"

	// TypeMedicalRecordNumber represents a medical record number
	TypeMedicalRecordNumber EntityType = "MEDICAL_RECORD_NUMBER"

	// TypeURL represents a web address
	TypeURL EntityType = "URL"

	// TypeIPAddress represents an IP address
	TypeIPAddress EntityType = "IP_ADDRESS"

	// TypeOrganization represents an organization name
	TypeOrganization EntityType = "ORGANIZATION"

	// TypeCustom represents an open entity type discovered at runtime;
	// a candidate tagged TypeCustom must carry a non-empty CustomInfo
	TypeCustom EntityType = "CUSTOM"
)

// CustomInfo carries the payload for a TypeCustom entity.
type CustomInfo struct {
	// Name of the discovered type, never empty after construction
	Name string `json:"name" yaml:"name"`

	// Description of what the type covers
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// RegulationSource identifies the regulatory text the type came from
	RegulationSource string `json:"regulation_source,omitempty" yaml:"regulation_source,omitempty"`

	// SuggestedStrategy is the masking strategy the source recommended
	SuggestedStrategy string `json:"suggested_strategy,omitempty" yaml:"suggested_strategy,omitempty"`
}

// customNameSnippetLen caps the fallback name taken from matched text.
const customNameSnippetLen = 24

// Candidate represents a single unreconciled detection.
//
// StartIndex and EndIndex are byte offsets into the text buffer the
// candidate was extracted from, satisfying
// buffer[StartIndex:EndIndex] == Value.
type Candidate struct {
	// Match location information
	StartIndex int
	EndIndex   int
	Value      string

	// Classification information
	Type       EntityType
	Confidence float64
	Detector   string

	// Custom payload, set only when Type == TypeCustom
	Custom *CustomInfo

	// RegulationSource identifies the rule that motivated the detection
	RegulationSource string

	// Metadata carries detector-specific findings (e.g. checksum validity)
	Metadata map[string]string
}

// NewCandidate builds a candidate with its invariants enforced:
// confidence clamped to [0,1], offsets consistent with the value, and
// a non-empty custom name for TypeCustom (defaulting to a snippet of
// the matched text).
func NewCandidate(value string, typ EntityType, start int, detector string, confidence float64) Candidate {
	c := Candidate{
		StartIndex: start,
		EndIndex:   start + len(value),
		Value:      value,
		Type:       typ,
		Confidence: ClampConfidence(confidence),
		Detector:   detector,
	}

	if typ == TypeCustom {
		c.Custom = &CustomInfo{Name: snippetName(value)}
	}

	return c
}

// WithCustom attaches a custom payload, filling the name from the
// matched text when the source did not supply one.
func (c Candidate) WithCustom(info CustomInfo) Candidate {
	if strings.TrimSpace(info.Name) == "" {
		info.Name = snippetName(c.Value)
	}
	c.Type = TypeCustom
	c.Custom = &info
	return c
}

// Len returns the byte length of the matched span.
func (c Candidate) Len() int {
	return c.EndIndex - c.StartIndex
}

// Overlaps reports whether two spans share at least one byte.
func (c Candidate) Overlaps(other Candidate) bool {
	return c.StartIndex < other.EndIndex && c.EndIndex > other.StartIndex
}

// String returns a debug representation, e.g. PHONE("0912345678")[5:15].
func (c Candidate) String() string {
	return fmt.Sprintf("%s(%q)[%d:%d]", c.Type, c.Value, c.StartIndex, c.EndIndex)
}

// ClampConfidence forces a confidence score into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func snippetName(value string) string {
	name := strings.TrimSpace(value)
	if len(name) > customNameSnippetLen {
		cut := customNameSnippetLen
		for cut > 0 && !isRuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	if name == "" {
		name = "unnamed"
	}
	return name
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Window is an offset-tracked slice of a document produced by the
// splitter and consumed by both detector paths. Immutable once built.
type Window struct {
	// Text of the window
	Text string

	// Start is the absolute byte offset of Text within the document
	Start int
}

// End returns the absolute byte offset just past the window.
func (w Window) End() int {
	return w.Start + len(w.Text)
}

// MergedEntity is a deduplicated candidate with the set of detectors
// that agreed on it, ready for masking. Owned by the merge engine;
// read-only for consumers.
type MergedEntity struct {
	Candidate

	// Detectors lists every detector name that reported the span, sorted
	Detectors []string
}
