package tiers

import (
	"mercator-hq/keyrelay/pkg/providers"
	"mercator-hq/keyrelay/pkg/routing"
)

// Deps are the collaborators tiers are built from. Only those needed by
// the requested tiers must be set.
type Deps struct {
	// Primary is the primary provider used by the direct and pooled tiers.
	Primary providers.Generator

	// Hosted is the secondary hosted provider.
	Hosted providers.Generator

	Selector  KeySelector
	Validator KeyValidator

	// Cache remembers caller-key verdicts. Optional.
	Cache *routing.VerdictCache
}

// Names returns the valid tier names.
func Names() []string {
	return []string{routing.TierDirect, routing.TierHosted, routing.TierPooled}
}

// Shapes returns the valid chain shape names.
func Shapes() []string {
	return []string{routing.ShapeTwoTier, routing.ShapeThreeTier}
}

// ShapeTiers expands a chain shape into tier names.
func ShapeTiers(shape string) ([]string, error) {
	switch shape {
	case routing.ShapeTwoTier, "":
		return []string{routing.TierHosted, routing.TierPooled}, nil
	case routing.ShapeThreeTier:
		return []string{routing.TierDirect, routing.TierHosted, routing.TierPooled}, nil
	default:
		return nil, &routing.InvalidTierError{Name: shape, Available: Shapes()}
	}
}

// Build creates tiers by name, in order.
func Build(names []string, deps Deps) ([]routing.Tier, error) {
	if len(names) == 0 {
		return nil, routing.ErrNoTiers
	}

	out := make([]routing.Tier, 0, len(names))
	for _, name := range names {
		switch name {
		case routing.TierDirect:
			if deps.Primary == nil {
				return nil, missing(name, "primary provider")
			}
			out = append(out, NewDirect(deps.Primary))
		case routing.TierHosted:
			if deps.Hosted == nil {
				return nil, missing(name, "hosted provider")
			}
			out = append(out, NewHosted(deps.Hosted))
		case routing.TierPooled:
			if deps.Primary == nil || deps.Selector == nil || deps.Validator == nil {
				return nil, missing(name, "primary provider, key selector and validator")
			}
			out = append(out, NewPooled(deps.Primary, deps.Selector, deps.Validator, deps.Cache))
		default:
			return nil, &routing.InvalidTierError{Name: name, Available: Names()}
		}
	}
	return out, nil
}

// BuildShape expands shape and builds its tiers.
func BuildShape(shape string, deps Deps) ([]routing.Tier, error) {
	names, err := ShapeTiers(shape)
	if err != nil {
		return nil, err
	}
	return Build(names, deps)
}

func missing(tier, what string) error {
	return &MissingDependencyError{Tier: tier, Missing: what}
}

// MissingDependencyError is returned when a tier is requested without the
// collaborators it needs.
type MissingDependencyError struct {
	Tier    string
	Missing string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return "tier " + e.Tier + " requires " + e.Missing
}
