package core

import (
	"fmt"

	"github.com/phi-deid/deid-go/utils"
)

// Detector scans a text chunk for sensitive spans. Offsets in the
// returned candidates are relative to the text the detector was given.
// Implementations must be side-effect-free with respect to their input.
type Detector interface {
	// Name identifies the detector in merge provenance and logs
	Name() string

	// Scan returns every candidate found in text
	Scan(text string) []utils.Candidate
}

// DetectorConfig selects and configures the detector set.
type DetectorConfig struct {
	// EnablePatterns toggles the regex pattern detector
	EnablePatterns bool `yaml:"enable_patterns"`

	// EnableIDValidator toggles the checksum identifier validator
	EnableIDValidator bool `yaml:"enable_id_validator"`

	// EnablePhone toggles the phone/fax classifier
	EnablePhone bool `yaml:"enable_phone"`

	// EnableNER toggles the model-backed named-entity detector
	EnableNER bool `yaml:"enable_ner"`

	// NERModelDir is the asset bundle directory for the NER model
	NERModelDir string `yaml:"ner_model_dir"`

	// CustomPatterns allows adding custom regex rules by name
	CustomPatterns map[string]string `yaml:"custom_patterns,omitempty"`
}

// DefaultDetectorConfig enables every non-model detector.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		EnablePatterns:    true,
		EnableIDValidator: true,
		EnablePhone:       true,
	}
}

// BuildDetectors constructs the configured detector set. An optional
// detector that cannot load (e.g. missing NER model assets) is skipped
// with a logged warning rather than failing the whole set; a required
// detector that cannot be built (bad custom pattern) is an error.
func BuildDetectors(cfg DetectorConfig, audit *AuditLogger) ([]Detector, error) {
	var detectors []Detector

	if cfg.EnablePatterns {
		pd, err := NewPatternDetector(cfg.CustomPatterns)
		if err != nil {
			return nil, fmt.Errorf("build pattern detector: %w", err)
		}
		detectors = append(detectors, pd)
	}

	if cfg.EnableIDValidator {
		detectors = append(detectors, NewIDValidator())
	}

	if cfg.EnablePhone {
		detectors = append(detectors, NewPhoneDetector())
	}

	if cfg.EnableNER {
		ner, err := NewNERDetector(cfg.NERModelDir)
		if err != nil {
			audit.Event(AuditLog{
				EventType: "detector_unavailable",
				Severity:  SeverityWarning,
				Metadata:  map[string]string{"detector": "ner", "error": err.Error()},
			})
		} else {
			detectors = append(detectors, ner)
		}
	}

	if len(detectors) == 0 {
		return nil, fmt.Errorf("no detectors enabled")
	}

	return detectors, nil
}
