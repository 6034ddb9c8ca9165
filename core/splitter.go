package core

import (
	"fmt"
	"strings"

	"github.com/phi-deid/deid-go/utils"
)

// SplitterConfig defines the document-splitting policy.
type SplitterConfig struct {
	// WindowSize is the maximum window length in bytes
	WindowSize int `yaml:"window_size"`

	// Overlap is how many bytes consecutive windows share
	Overlap int `yaml:"overlap"`

	// BoundarySlack is how far back from the size limit the splitter
	// may move to land on a sentence or paragraph boundary
	BoundarySlack int `yaml:"boundary_slack"`
}

// DefaultSplitterConfig returns the standard splitting policy.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		WindowSize:    1000,
		Overlap:       100,
		BoundarySlack: 200,
	}
}

// Validate checks the splitting policy and fails fast on conflicts.
func (c SplitterConfig) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.WindowSize {
		return fmt.Errorf("overlap must be in [0, window_size), got %d", c.Overlap)
	}
	if c.BoundarySlack < 0 || c.BoundarySlack >= c.WindowSize {
		return fmt.Errorf("boundary_slack must be in [0, window_size), got %d", c.BoundarySlack)
	}
	return nil
}

// boundaryChars are preferred cut points, newline first, then sentence
// and clause punctuation including the fullwidth CJK forms.
var boundaryChars = []string{"\n", "。", "？", "！", ".", "?", "!", "，", ","}

// SplitDocument breaks a document into overlapping windows with known
// absolute byte offsets. Windows cover the whole document, appear in
// document order, and consecutive windows overlap by cfg.Overlap except
// where a boundary cut shortened the preceding window. An empty
// document yields no windows.
func SplitDocument(text string, cfg SplitterConfig) []utils.Window {
	if text == "" {
		return nil
	}
	if len(text) <= cfg.WindowSize {
		return []utils.Window{{Text: text, Start: 0}}
	}

	var windows []utils.Window
	pos := 0

	for pos < len(text) {
		end := pos + cfg.WindowSize
		if end >= len(text) {
			windows = append(windows, utils.Window{Text: text[pos:], Start: pos})
			break
		}

		cut := boundaryCut(text, pos, end, cfg.BoundarySlack)
		windows = append(windows, utils.Window{Text: text[pos:cut], Start: pos})

		next := cut - cfg.Overlap
		if next <= pos {
			// Guarantee forward progress on pathological overlap/boundary mixes.
			next = pos + 1
		}
		next = runeStart(text, next)
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}

	return windows
}

// boundaryCut finds the best cut point at or before limit. It scans
// back through text[limit-slack:limit] for a boundary character and
// cuts just after it; with no acceptable boundary it cuts at the raw
// size limit, backed up to a rune start.
func boundaryCut(text string, start, limit, slack int) int {
	low := limit - slack
	if low < start+1 {
		low = start + 1
	}

	region := text[low:limit]
	for _, b := range boundaryChars {
		if idx := strings.LastIndex(region, b); idx >= 0 {
			return low + idx + len(b)
		}
	}

	return runeStart(text, limit)
}

// runeStart backs pos up to the nearest UTF-8 rune start so a raw cut
// never lands mid-rune.
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && text[pos]&0xC0 == 0x80 {
		pos--
	}
	return pos
}
