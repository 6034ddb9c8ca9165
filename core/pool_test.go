package core

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phi-deid/deid-go/utils"
)

// panickyDetector blows up on a trigger word and is otherwise silent.
type panickyDetector struct {
	trigger string
}

func (d *panickyDetector) Name() string { return "panicky" }

func (d *panickyDetector) Scan(text string) []utils.Candidate {
	if strings.Contains(text, d.trigger) {
		panic("detector blew up")
	}
	return nil
}

func defaultFactory() ([]Detector, error) {
	return BuildDetectors(DefaultDetectorConfig(), nil)
}

func candidateKeys(candidates []utils.Candidate) []string {
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		keys = append(keys, fmt.Sprintf("%d:%d:%s:%s", c.StartIndex, c.EndIndex, c.Type, c.Detector))
	}
	sort.Strings(keys)
	return keys
}

// TestPoolParallelMatchesSequential verifies worker count never changes
// the detected set
func TestPoolParallelMatchesSequential(t *testing.T) {
	chunks := []string{
		"Patient John Smith, ID A123456789, seen 2024-01-15.",
		"Fax: 02-2345-6789 or call 0912345678.",
		"Email jane@example.com from 10.0.0.1.",
		"No sensitive content in this chunk.",
	}

	sequential := NewPool(PoolConfig{Workers: 1}, defaultFactory, nil)
	defer sequential.Close()
	parallel := NewPool(PoolConfig{Workers: 4}, defaultFactory, nil)
	defer parallel.Close()

	seqResults := sequential.Scan(chunks)
	parResults := parallel.Scan(chunks)

	require.Len(t, parResults, len(seqResults))
	for i := range chunks {
		assert.Equal(t, candidateKeys(seqResults[i]), candidateKeys(parResults[i]),
			"chunk %d differs between worker counts", i)
	}
}

// TestPoolScanOrderPreserved verifies per-chunk results come back in
// input order even with many workers
func TestPoolScanOrderPreserved(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 8}, defaultFactory, nil)
	defer pool.Close()

	chunks := make([]string, 32)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("chunk %d id A123456789", i)
	}

	results := pool.Scan(chunks)
	require.Len(t, results, len(chunks))
	for i, found := range results {
		require.NotEmpty(t, found, "chunk %d lost its detection", i)
		assert.Equal(t, "A123456789", found[0].Value)
	}
}

// TestPoolScanWindowsAbsoluteOffsets verifies window results are
// shifted to document offsets, including an entity inside the overlap
// region near a window boundary
func TestPoolScanWindowsAbsoluteOffsets(t *testing.T) {
	doc := strings.Repeat("x", 994) + " A123456789 " + strings.Repeat("y", 3994)
	require.Len(t, doc, 5000)
	require.Equal(t, "A123456789", doc[995:1005])

	cfg := SplitterConfig{WindowSize: 1000, Overlap: 100, BoundarySlack: 0}
	windows := SplitDocument(doc, cfg)
	require.Len(t, windows, 6)

	pool := NewPool(PoolConfig{Workers: 2}, defaultFactory, nil)
	defer pool.Close()

	candidates := pool.Scan(nil)
	assert.Empty(t, candidates)

	found := pool.ScanWindows(windows)
	require.NotEmpty(t, found)

	located := false
	for _, c := range found {
		assert.Equal(t, doc[c.StartIndex:c.EndIndex], c.Value, "offset invariant broken")
		if c.Value == "A123456789" && c.StartIndex == 995 {
			located = true
		}
	}
	assert.True(t, located, "boundary-straddling entity not found at its absolute offset")
}

// TestPoolIsolatesDetectorPanic verifies a detector panicking on one
// chunk only empties that chunk's contribution
func TestPoolIsolatesDetectorPanic(t *testing.T) {
	factory := func() ([]Detector, error) {
		return []Detector{&panickyDetector{trigger: "BOOM"}, NewIDValidator()}, nil
	}

	pool := NewPool(PoolConfig{Workers: 2}, factory, nil)
	defer pool.Close()

	results := pool.Scan([]string{
		"quiet chunk with A123456789",
		"BOOM chunk with A123456789",
	})

	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0])
	// The panicky detector contributed nothing but the validator still ran
	assert.NotEmpty(t, results[1])
	for _, c := range results[1] {
		assert.Equal(t, "id_validator", c.Detector)
	}
}

// TestPoolWorkerFactoryFailure verifies a worker whose detectors cannot
// build keeps draining jobs so callers never block
func TestPoolWorkerFactoryFailure(t *testing.T) {
	factory := func() ([]Detector, error) {
		return nil, fmt.Errorf("model assets missing")
	}

	pool := NewPool(PoolConfig{Workers: 2}, factory, nil)
	defer pool.Close()

	results := pool.Scan([]string{"A123456789", "0912345678"})
	require.Len(t, results, 2)
	assert.Empty(t, results[0])
	assert.Empty(t, results[1])
}

// TestPoolCloseIdempotent verifies double Close is safe
func TestPoolCloseIdempotent(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1}, defaultFactory, nil)
	pool.Close()
	pool.Close()
}

// TestPoolScanAfterClose verifies a scan on a closed pool yields empty
// results instead of panicking
func TestPoolScanAfterClose(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 2}, defaultFactory, nil)
	pool.Close()

	results := pool.Scan([]string{"ID A123456789 on file."})
	require.Len(t, results, 1)
	assert.Empty(t, results[0])
}
