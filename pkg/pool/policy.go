package pool

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync/atomic"

	"mercator-hq/keyrelay/pkg/keys"
)

// Policy names accepted by NewPolicy.
const (
	PolicyRandom     = "random"
	PolicySequential = "sequential"
	PolicyRoundRobin = "round-robin"
	PolicyLeastUsed  = "least-used"
)

// Policy chooses one record from a non-empty list of enabled candidates.
// Candidates arrive in store iteration order.
//
// Implementations must be thread-safe.
type Policy interface {
	// Pick returns the index of the chosen candidate.
	Pick(candidates []keys.KeyRecord) int

	// Name returns the policy name for logging and statistics.
	Name() string
}

// NewPolicy creates a policy by name.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case PolicyRandom, "":
		return &RandomPolicy{}, nil
	case PolicySequential:
		return &SequentialPolicy{}, nil
	case PolicyRoundRobin:
		return &RoundRobinPolicy{}, nil
	case PolicyLeastUsed:
		return &LeastUsedPolicy{}, nil
	default:
		return nil, &InvalidPolicyError{Policy: name, AvailablePolicies: PolicyNames()}
	}
}

// PolicyNames returns the accepted policy names in sorted order.
func PolicyNames() []string {
	names := []string{PolicyRandom, PolicySequential, PolicyRoundRobin, PolicyLeastUsed}
	sort.Strings(names)
	return names
}

// RandomPolicy picks uniformly at random.
type RandomPolicy struct{}

// Pick implements Policy.
func (p *RandomPolicy) Pick(candidates []keys.KeyRecord) int {
	return rand.IntN(len(candidates))
}

// Name implements Policy.
func (p *RandomPolicy) Name() string { return PolicyRandom }

// SequentialPolicy always picks the first enabled record. It does not
// rotate: every call returns the same key until that key is disabled.
// Use RoundRobinPolicy for rotation.
type SequentialPolicy struct{}

// Pick implements Policy.
func (p *SequentialPolicy) Pick(candidates []keys.KeyRecord) int {
	return 0
}

// Name implements Policy.
func (p *SequentialPolicy) Name() string { return PolicySequential }

// RoundRobinPolicy rotates through the enabled records with a cursor that
// advances on every pick. When the enabled set changes size the cursor is
// taken modulo the new length.
type RoundRobinPolicy struct {
	counter atomic.Uint64
}

// Pick implements Policy.
func (p *RoundRobinPolicy) Pick(candidates []keys.KeyRecord) int {
	n := p.counter.Add(1) - 1
	return int(n % uint64(len(candidates)))
}

// Name implements Policy.
func (p *RoundRobinPolicy) Name() string { return PolicyRoundRobin }

// Reset rewinds the cursor. Used in tests.
func (p *RoundRobinPolicy) Reset() {
	p.counter.Store(0)
}

// LeastUsedPolicy picks the record with the smallest UsageCount. Ties go to
// the earliest record in store order.
type LeastUsedPolicy struct{}

// Pick implements Policy.
func (p *LeastUsedPolicy) Pick(candidates []keys.KeyRecord) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].UsageCount < candidates[best].UsageCount {
			best = i
		}
	}
	return best
}

// Name implements Policy.
func (p *LeastUsedPolicy) Name() string { return PolicyLeastUsed }

// InvalidPolicyError is returned when an unknown rotation policy is named.
type InvalidPolicyError struct {
	Policy            string
	AvailablePolicies []string
}

// Error implements the error interface.
func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid rotation policy %q (available policies: %v)", e.Policy, e.AvailablePolicies)
}

// Is implements error matching for errors.Is().
func (e *InvalidPolicyError) Is(target error) bool {
	return target == ErrInvalidPolicy
}
