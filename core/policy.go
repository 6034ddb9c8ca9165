package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/phi-deid/deid-go/utils"
)

// ErrInvalidConfig marks configuration errors that must stop a run
// before any document is processed.
var ErrInvalidConfig = errors.New("invalid configuration")

func errConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...)
}

// PolicyMetadata contains information about the policy.
type PolicyMetadata struct {
	// Version of the policy
	Version string `yaml:"version"`

	// When the policy was created
	CreatedAt time.Time `yaml:"created_at,omitempty"`

	// Last modification time
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`

	// Description of the policy
	Description string `yaml:"description,omitempty"`

	// Author of the policy
	Author string `yaml:"author,omitempty"`

	// Hash of the policy content for integrity verification
	Hash string `yaml:"hash,omitempty"`
}

// StrategyParams carries the tunable values strategies consume.
type StrategyParams struct {
	// Placeholder used by the redaction strategy
	Placeholder string `yaml:"placeholder,omitempty"`

	// Salt for deterministic pseudonym derivation
	Salt string `yaml:"salt,omitempty"`

	// DateOffsetDays shifts dates under the dateshift strategy
	DateOffsetDays int `yaml:"date_offset_days,omitempty"`

	// KeepPrefix and KeepSuffix bound the partialmask strategy
	KeepPrefix int `yaml:"keep_prefix,omitempty"`
	KeepSuffix int `yaml:"keep_suffix,omitempty"`

	// MaskChar fills the masked middle of a partial mask
	MaskChar string `yaml:"mask_char,omitempty"`
}

// MaskingPolicy maps entity types to masking strategies. Constructed
// once per run and immutable while the run is in flight.
type MaskingPolicy struct {
	// Metadata about the policy
	Metadata PolicyMetadata `yaml:"metadata"`

	// DefaultStrategy applies when no override matches
	DefaultStrategy Strategy `yaml:"default_strategy"`

	// Overrides selects a strategy per entity type
	Overrides map[utils.EntityType]Strategy `yaml:"overrides,omitempty"`

	// Parameters are shared by all strategy applications in the run
	Parameters StrategyParams `yaml:"parameters,omitempty"`
}

// StrategyFor resolves the strategy for an entity type.
func (p *MaskingPolicy) StrategyFor(typ utils.EntityType) Strategy {
	if s, ok := p.Overrides[typ]; ok {
		return s
	}
	return p.DefaultStrategy
}

// Validate checks the policy and fails fast on conflicts; nothing else
// in the pipeline is allowed to be a hard fault, so every bad setting
// must be caught here.
func (p *MaskingPolicy) Validate() error {
	if p.DefaultStrategy == "" {
		return errConfig("default_strategy is required")
	}
	if !knownStrategies[p.DefaultStrategy] {
		return errConfig("unknown default_strategy %q", p.DefaultStrategy)
	}

	for typ, s := range p.Overrides {
		if !knownStrategies[s] {
			return errConfig("unknown strategy %q for type %s", s, typ)
		}
	}

	if p.Parameters.KeepPrefix < 0 || p.Parameters.KeepSuffix < 0 {
		return errConfig("keep_prefix and keep_suffix must be non-negative")
	}
	if p.Parameters.MaskChar != "" && utf8.RuneCountInString(p.Parameters.MaskChar) != 1 {
		return errConfig("mask_char must be a single character, got %q", p.Parameters.MaskChar)
	}
	if p.usesStrategy(StrategyPseudonymize) && p.Parameters.Salt == "" {
		return errConfig("pseudonymize strategy requires a salt")
	}

	return nil
}

func (p *MaskingPolicy) usesStrategy(s Strategy) bool {
	if p.DefaultStrategy == s {
		return true
	}
	for _, o := range p.Overrides {
		if o == s {
			return true
		}
	}
	return false
}

// LoadPolicy reads a YAML policy file, validates it, and stamps its
// content hash for integrity checking.
func LoadPolicy(path string) (*MaskingPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy MaskingPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}

	policy.Metadata.Hash = calculatePolicyHash(data)
	return &policy, nil
}

// SavePolicy writes a policy to a YAML file with an updated content
// hash.
func SavePolicy(policy *MaskingPolicy, path string) error {
	policy.Metadata.UpdatedAt = time.Now()

	data, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	policy.Metadata.Hash = calculatePolicyHash(data)

	data, err = yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to re-marshal policy with hash: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}

	return nil
}

// DefaultPolicy returns a conservative baseline: redact everything,
// keep phone affixes readable, shift dates.
func DefaultPolicy() *MaskingPolicy {
	return &MaskingPolicy{
		Metadata: PolicyMetadata{
			Version:     "1.0.0",
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
			Description: "Default de-identification policy",
			Author:      "deid-go",
		},
		DefaultStrategy: StrategyRedact,
		Overrides: map[utils.EntityType]Strategy{
			utils.TypeDate:      StrategyDateShift,
			utils.TypeAgeOver89: StrategyGeneralize,
			utils.TypePhone:     StrategyPartialMask,
			utils.TypeFax:       StrategyPartialMask,
		},
		Parameters: StrategyParams{
			Placeholder:    defaultPlaceholder,
			DateOffsetDays: 31,
			KeepPrefix:     3,
			KeepSuffix:     2,
			MaskChar:       defaultMaskChar,
		},
	}
}

// calculatePolicyHash fingerprints policy content for audit trails.
func calculatePolicyHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
