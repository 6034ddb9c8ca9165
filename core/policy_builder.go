package core

import (
	"time"

	"github.com/phi-deid/deid-go/utils"
)

// PolicyBuilder provides a fluent interface for creating masking
// policies in code.
type PolicyBuilder struct {
	policy *MaskingPolicy
}

// NewPolicyBuilder creates a new policy builder with a redact-everything
// baseline.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{
		policy: &MaskingPolicy{
			Metadata: PolicyMetadata{
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			},
			DefaultStrategy: StrategyRedact,
			Overrides:       map[utils.EntityType]Strategy{},
		},
	}
}

// WithMetadata sets the policy metadata.
func (b *PolicyBuilder) WithMetadata(version, description, author string) *PolicyBuilder {
	b.policy.Metadata.Version = version
	b.policy.Metadata.Description = description
	b.policy.Metadata.Author = author
	return b
}

// WithDefaultStrategy sets the strategy used when no override matches.
func (b *PolicyBuilder) WithDefaultStrategy(s Strategy) *PolicyBuilder {
	b.policy.DefaultStrategy = s
	return b
}

// WithOverride selects a strategy for one entity type.
func (b *PolicyBuilder) WithOverride(typ utils.EntityType, s Strategy) *PolicyBuilder {
	b.policy.Overrides[typ] = s
	return b
}

// WithPlaceholder sets the redaction placeholder text.
func (b *PolicyBuilder) WithPlaceholder(placeholder string) *PolicyBuilder {
	b.policy.Parameters.Placeholder = placeholder
	return b
}

// WithSalt sets the pseudonymization salt.
func (b *PolicyBuilder) WithSalt(salt string) *PolicyBuilder {
	b.policy.Parameters.Salt = salt
	return b
}

// WithDateOffset sets the dateshift offset in days.
func (b *PolicyBuilder) WithDateOffset(days int) *PolicyBuilder {
	b.policy.Parameters.DateOffsetDays = days
	return b
}

// WithPartialMask sets the partialmask keep counts and mask character.
func (b *PolicyBuilder) WithPartialMask(keepPrefix, keepSuffix int, maskChar string) *PolicyBuilder {
	b.policy.Parameters.KeepPrefix = keepPrefix
	b.policy.Parameters.KeepSuffix = keepSuffix
	b.policy.Parameters.MaskChar = maskChar
	return b
}

// Build validates and returns the final policy.
func (b *PolicyBuilder) Build() (*MaskingPolicy, error) {
	b.policy.Metadata.UpdatedAt = time.Now()
	if err := b.policy.Validate(); err != nil {
		return nil, err
	}
	return b.policy, nil
}
