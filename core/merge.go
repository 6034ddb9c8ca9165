package core

import (
	"sort"

	"github.com/phi-deid/deid-go/utils"
)

// MergeConfig holds the dedup heuristics. Both knobs are deliberate
// heuristics carried over without a documented rationale; they are
// configurable so a domain expert can tune them rather than baked in.
type MergeConfig struct {
	// OverlapThreshold is the character-overlap fraction of the shorter
	// span above which two overlapping spans count as duplicates
	OverlapThreshold float64 `yaml:"overlap_threshold"`

	// SourceTrust orders detector names from most to least trusted;
	// it breaks ties between equal-confidence duplicates
	SourceTrust []string `yaml:"source_trust"`
}

// DefaultMergeConfig returns the standard dedup heuristics: 0.8
// overlap, explicit validators above patterns above models.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		OverlapThreshold: 0.8,
		SourceTrust:      []string{idValidatorName, patternDetectorName, phoneDetectorName, nerDetectorName, "llm"},
	}
}

// Validate fails fast on nonsensical dedup settings.
func (c MergeConfig) Validate() error {
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		return errConfig("overlap_threshold must be in (0, 1], got %v", c.OverlapThreshold)
	}
	return nil
}

// Merge combines candidates from every detector and window into one
// ordered deduplicated entity set. The result is independent of the
// input ordering and idempotent: merging an already-merged set changes
// nothing.
func Merge(candidates []utils.Candidate, cfg MergeConfig) []utils.MergedEntity {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]utils.Candidate, len(candidates))
	copy(sorted, candidates)
	sortCandidates(sorted, cfg)

	var accepted []utils.MergedEntity
	for _, cand := range sorted {
		idx := findDuplicate(accepted, cand, cfg.OverlapThreshold)
		if idx < 0 {
			accepted = append(accepted, utils.MergedEntity{
				Candidate: cand,
				Detectors: []string{cand.Detector},
			})
			continue
		}

		merged := &accepted[idx]
		if replaces(cand, merged.Candidate, cfg) {
			detectors := merged.Detectors
			merged.Candidate = cand
			merged.Detectors = detectors
		}
		merged.Detectors = addDetector(merged.Detectors, cand.Detector)
	}

	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].StartIndex != accepted[j].StartIndex {
			return accepted[i].StartIndex < accepted[j].StartIndex
		}
		return accepted[i].EndIndex < accepted[j].EndIndex
	})

	return accepted
}

// sortCandidates imposes a total order so the accept loop sees the same
// sequence no matter which detector ran first.
func sortCandidates(cs []utils.Candidate, cfg MergeConfig) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.StartIndex != b.StartIndex {
			return a.StartIndex < b.StartIndex
		}
		if a.EndIndex != b.EndIndex {
			return a.EndIndex < b.EndIndex
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ta, tb := trustRank(a.Detector, cfg), trustRank(b.Detector, cfg); ta != tb {
			return ta < tb
		}
		if a.Detector != b.Detector {
			return a.Detector < b.Detector
		}
		return a.Value < b.Value
	})
}

// findDuplicate returns the index of an accepted entity the candidate
// duplicates, or -1. Two spans are duplicates when they overlap and
// either the texts are identical or the overlap covers more than the
// threshold fraction of the shorter one.
func findDuplicate(accepted []utils.MergedEntity, cand utils.Candidate, threshold float64) int {
	for i, acc := range accepted {
		if !cand.Overlaps(acc.Candidate) {
			continue
		}

		if cand.Value == acc.Value {
			return i
		}

		overlap := min(cand.EndIndex, acc.EndIndex) - max(cand.StartIndex, acc.StartIndex)
		shorter := min(cand.Len(), acc.Len())
		if shorter > 0 && float64(overlap)/float64(shorter) > threshold {
			return i
		}
	}
	return -1
}

// replaces decides whether a new duplicate displaces the accepted one:
// strictly higher confidence wins, equal confidence goes to the more
// trusted source.
func replaces(cand, acc utils.Candidate, cfg MergeConfig) bool {
	if cand.Confidence != acc.Confidence {
		return cand.Confidence > acc.Confidence
	}
	return trustRank(cand.Detector, cfg) < trustRank(acc.Detector, cfg)
}

func trustRank(detector string, cfg MergeConfig) int {
	for i, name := range cfg.SourceTrust {
		if name == detector {
			return i
		}
	}
	return len(cfg.SourceTrust)
}

func addDetector(detectors []string, name string) []string {
	for _, d := range detectors {
		if d == name {
			return detectors
		}
	}
	detectors = append(detectors, name)
	sort.Strings(detectors)
	return detectors
}
