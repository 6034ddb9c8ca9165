package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplitEmptyDocument verifies that an empty document yields no windows
func TestSplitEmptyDocument(t *testing.T) {
	windows := SplitDocument("", DefaultSplitterConfig())
	assert.Empty(t, windows)
}

// TestSplitShortDocument verifies that a document within the window size
// comes back as a single window at offset zero
func TestSplitShortDocument(t *testing.T) {
	text := "Patient John Smith was admitted on 2024-01-15."
	windows := SplitDocument(text, DefaultSplitterConfig())

	require.Len(t, windows, 1)
	assert.Equal(t, text, windows[0].Text)
	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, len(text), windows[0].End())
}

// TestSplitWindowCount verifies the window arithmetic: a 5,000-character
// document with 1,000-character windows and 100-character overlap
// produces 6 windows
func TestSplitWindowCount(t *testing.T) {
	text := strings.Repeat("a", 5000)
	cfg := SplitterConfig{WindowSize: 1000, Overlap: 100, BoundarySlack: 200}

	windows := SplitDocument(text, cfg)

	require.Len(t, windows, 6)
	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, 900, windows[1].Start)
	assert.Equal(t, 4500, windows[5].Start)
	assert.Equal(t, 5000, windows[5].End())
}

// TestSplitCoverageAndOffsets verifies every window slices the document
// at its recorded offset and that consecutive windows overlap
func TestSplitCoverageAndOffsets(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("The patient reported mild symptoms. ")
	}
	text := b.String()

	cfg := DefaultSplitterConfig()
	windows := SplitDocument(text, cfg)
	require.Greater(t, len(windows), 1)

	for _, w := range windows {
		assert.Equal(t, text[w.Start:w.End()], w.Text)
		assert.LessOrEqual(t, len(w.Text), cfg.WindowSize)
	}

	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, len(text), windows[len(windows)-1].End())
	for i := 1; i < len(windows); i++ {
		assert.Less(t, windows[i].Start, windows[i-1].End(),
			"window %d does not overlap its predecessor", i)
	}
}

// TestSplitPrefersSentenceBoundary verifies the splitter backs up to a
// sentence boundary inside the slack region instead of cutting mid-word
func TestSplitPrefersSentenceBoundary(t *testing.T) {
	sentence := strings.Repeat("x", 93) + " ended."
	text := strings.Repeat(sentence, 30)

	cfg := SplitterConfig{WindowSize: 250, Overlap: 20, BoundarySlack: 120}
	windows := SplitDocument(text, cfg)
	require.Greater(t, len(windows), 1)

	for i, w := range windows[:len(windows)-1] {
		assert.True(t, strings.HasSuffix(w.Text, "."),
			"window %d should end at a sentence boundary, got %q", i, w.Text[len(w.Text)-10:])
	}
}

// TestSplitNeverCutsMidRune verifies raw cuts get backed up to a UTF-8
// rune start on multibyte text
func TestSplitNeverCutsMidRune(t *testing.T) {
	text := strings.Repeat("病", 500)
	cfg := SplitterConfig{WindowSize: 100, Overlap: 10, BoundarySlack: 0}

	windows := SplitDocument(text, cfg)
	require.NotEmpty(t, windows)

	for _, w := range windows {
		assert.Equal(t, text[w.Start:w.End()], w.Text)
		for _, r := range w.Text {
			assert.NotEqual(t, '�', r, "window contains a broken rune")
		}
	}
}

// TestSplitterConfigValidate verifies fail-fast behavior on conflicting
// splitting settings
func TestSplitterConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSplitterConfig().Validate())

	assert.Error(t, SplitterConfig{WindowSize: 0, Overlap: 0}.Validate())
	assert.Error(t, SplitterConfig{WindowSize: 100, Overlap: 100}.Validate())
	assert.Error(t, SplitterConfig{WindowSize: 100, Overlap: -1}.Validate())
	assert.Error(t, SplitterConfig{WindowSize: 100, Overlap: 10, BoundarySlack: 100}.Validate())
}
