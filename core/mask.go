package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/phi-deid/deid-go/utils"
)

// Strategy identifies one masking transformation.
type Strategy string

const (
	// StrategyRedact replaces the span with a fixed placeholder
	StrategyRedact Strategy = "redact"

	// StrategyGeneralize replaces the span with a coarser category label
	StrategyGeneralize Strategy = "generalize"

	// StrategyPseudonymize replaces the span with a deterministic token
	// derived from hash(text + type + salt)
	StrategyPseudonymize Strategy = "pseudonymize"

	// StrategyDateShift replaces a parsed date with date + offset days,
	// preserving format; unparseable dates fall back to redaction
	StrategyDateShift Strategy = "dateshift"

	// StrategyPartialMask keeps leading/trailing characters and masks
	// the middle
	StrategyPartialMask Strategy = "partialmask"

	// StrategySuppress removes the span entirely
	StrategySuppress Strategy = "suppress"
)

// knownStrategies is used for config validation.
var knownStrategies = map[Strategy]bool{
	StrategyRedact:       true,
	StrategyGeneralize:   true,
	StrategyPseudonymize: true,
	StrategyDateShift:    true,
	StrategyPartialMask:  true,
	StrategySuppress:     true,
}

const (
	defaultPlaceholder = "[REDACTED]"
	defaultMaskChar    = "*"
	pseudonymHexLen    = 12
)

// MaskReport records what happened to one entity during masking.
type MaskReport struct {
	Entity      utils.MergedEntity `json:"entity"`
	Strategy    Strategy           `json:"strategy"`
	Applied     bool               `json:"applied"`
	Replacement string             `json:"replacement,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// ApplyPolicy produces the masked document. Entities are processed in
// descending start-offset order so a replacement never shifts the
// offsets of entities still to be processed.
//
// A strategy failure on one entity does not abort the pass: that
// entity's original text is left untouched and the reason is logged.
func ApplyPolicy(text string, entities []utils.MergedEntity, policy *MaskingPolicy, audit *AuditLogger) (string, []MaskReport) {
	ordered := make([]utils.MergedEntity, len(entities))
	copy(ordered, entities)
	sortEntitiesDescending(ordered)

	masked := text
	reports := make([]MaskReport, 0, len(ordered))
	lastStart := len(text) + 1

	for _, e := range ordered {
		strategy := policy.StrategyFor(e.Type)
		report := MaskReport{Entity: e, Strategy: strategy}

		switch {
		case e.StartIndex < 0 || e.EndIndex > len(text):
			report.Reason = "span out of range"
		case e.EndIndex > lastStart:
			report.Reason = "overlaps an already-masked span"
		case text[e.StartIndex:e.EndIndex] != e.Value:
			report.Reason = "document text does not match entity text"
		default:
			replacement, err := applyStrategy(strategy, e, policy.Parameters)
			if err != nil {
				report.Reason = err.Error()
				break
			}

			if strategy == StrategySuppress {
				masked = suppressSpan(masked, e.StartIndex, e.EndIndex)
			} else {
				masked = masked[:e.StartIndex] + replacement + masked[e.EndIndex:]
			}
			report.Applied = true
			report.Replacement = replacement
			lastStart = e.StartIndex
		}

		if !report.Applied {
			audit.Event(AuditLog{
				EventType: "masking_strategy_failure",
				Severity:  SeverityWarning,
				Metadata: map[string]string{
					"type":     string(e.Type),
					"strategy": string(strategy),
					"reason":   report.Reason,
				},
			})
		}
		reports = append(reports, report)
	}

	return masked, reports
}

func sortEntitiesDescending(entities []utils.MergedEntity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].StartIndex != entities[j].StartIndex {
			return entities[i].StartIndex > entities[j].StartIndex
		}
		return entities[i].EndIndex > entities[j].EndIndex
	})
}

func applyStrategy(strategy Strategy, e utils.MergedEntity, params StrategyParams) (string, error) {
	switch strategy {
	case StrategyRedact:
		return redact(params), nil
	case StrategyGeneralize:
		return generalize(e), nil
	case StrategyPseudonymize:
		return Pseudonymize(e.Value, e.Type, params.Salt), nil
	case StrategyDateShift:
		shifted, err := shiftDate(e.Value, params.DateOffsetDays)
		if err != nil {
			// Documented fallback: a date that cannot be parsed is
			// redacted rather than left in the clear.
			return redact(params), nil
		}
		return shifted, nil
	case StrategyPartialMask:
		return partialMask(e.Value, params)
	case StrategySuppress:
		return "", nil
	default:
		return "", fmt.Errorf("unknown strategy %q", strategy)
	}
}

func redact(params StrategyParams) string {
	if params.Placeholder != "" {
		return params.Placeholder
	}
	return defaultPlaceholder
}

// generalize maps a span to a coarser label appropriate to its type: a
// full date becomes year-only, an over-89 age becomes an age band, and
// anything else becomes its category tag.
func generalize(e utils.MergedEntity) string {
	switch e.Type {
	case utils.TypeDate:
		if t, _, err := parseDate(e.Value); err == nil {
			return strconv.Itoa(t.Year())
		}
		return "[DATE]"
	case utils.TypeAgeOver89:
		return "90+"
	case utils.TypeCustom:
		if e.Custom != nil {
			return "[" + strings.ToUpper(e.Custom.Name) + "]"
		}
		return "[CUSTOM]"
	default:
		return "[" + string(e.Type) + "]"
	}
}

// Pseudonymize derives a deterministic token from the text, type, and
// salt. Identical (text, type, salt) always yields the identical
// pseudonym within and across runs.
func Pseudonymize(value string, typ utils.EntityType, salt string) string {
	digest := sha256.Sum256([]byte(value + "|" + string(typ) + "|" + salt))
	return string(typ) + "-" + hex.EncodeToString(digest[:])[:pseudonymHexLen]
}

func partialMask(value string, params StrategyParams) (string, error) {
	maskChar := params.MaskChar
	if maskChar == "" {
		maskChar = defaultMaskChar
	}

	runes := []rune(value)
	keep := params.KeepPrefix + params.KeepSuffix
	if keep >= len(runes) {
		return "", fmt.Errorf("span of %d characters is too short for keep_prefix=%d keep_suffix=%d",
			len(runes), params.KeepPrefix, params.KeepSuffix)
	}

	var b strings.Builder
	b.WriteString(string(runes[:params.KeepPrefix]))
	b.WriteString(strings.Repeat(maskChar, len(runes)-keep))
	b.WriteString(string(runes[len(runes)-params.KeepSuffix:]))
	return b.String(), nil
}

// suppressSpan removes the span and, best-effort, any separator left
// dangling at the junction ("a, X, b" minus X should read "a, b").
func suppressSpan(text string, start, end int) string {
	left, right := text[:start], text[end:]

	trimmedLeft := strings.TrimRight(left, " \t")
	if len(trimmedLeft) > 0 && isSeparator(trimmedLeft[len(trimmedLeft)-1]) {
		trimmedRight := strings.TrimLeft(right, " \t")
		if len(trimmedRight) > 0 && isSeparator(trimmedRight[0]) {
			right = strings.TrimLeft(trimmedRight[1:], " \t")
			if right != "" && right[0] != '\n' {
				right = " " + right
			}
			return trimmedLeft + right
		}
	}

	if strings.HasSuffix(left, " ") && strings.HasPrefix(right, " ") {
		right = right[1:]
	}
	return left + right
}

func isSeparator(b byte) bool {
	return b == ',' || b == ';' || b == ':' || b == '|' || b == '/'
}

// rocDateRe matches Republic-of-China calendar dates.
var rocDateRe = regexp.MustCompile(`^(民國)?(\d{2,3})年(\d{1,2})月(\d{1,2})日$`)

// dateLayouts pair a parse layout with the format used to print the
// shifted date, preserving the original style.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
}

// parseDate tries every known layout and returns the parsed time plus
// the layout that matched. ROC dates return an empty layout and are
// re-formatted by shiftDate.
func parseDate(value string) (time.Time, string, error) {
	if m := rocDateRe.FindStringSubmatch(value); m != nil {
		year, _ := strconv.Atoi(m[2])
		month, _ := strconv.Atoi(m[3])
		day, _ := strconv.Atoi(m[4])
		t := time.Date(year+1911, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, "", fmt.Errorf("invalid ROC date %q", value)
		}
		return t, "", nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, layout, nil
		}
	}

	return time.Time{}, "", fmt.Errorf("unrecognized date format %q", value)
}

func shiftDate(value string, offsetDays int) (string, error) {
	t, layout, err := parseDate(value)
	if err != nil {
		return "", err
	}

	shifted := t.AddDate(0, 0, offsetDays)

	if layout == "" {
		prefix := ""
		if strings.HasPrefix(value, "民國") {
			prefix = "民國"
		}
		return fmt.Sprintf("%s%d年%d月%d日", prefix, shifted.Year()-1911, int(shifted.Month()), shifted.Day()), nil
	}

	return shifted.Format(layout), nil
}
