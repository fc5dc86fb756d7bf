// Copyright 2025 Certen Protocol
//
// Approval Evaluator: the single source of truth for whether a
// transaction's current approvals cross an account's threshold.

package evaluator

// Decision describes how a transaction's approval state changed relative
// to its threshold as a result of a new approval or a membership/threshold
// mutation.
type Decision int

const (
	// NoChange means the transaction's threshold-crossing state is
	// unaffected: still below threshold, or still at/above it.
	NoChange Decision = iota
	// Reached means approved weight is now at or above threshold, and
	// wasn't before.
	Reached
	// Lost means approved weight is now below threshold, having
	// previously been at or above it.
	Lost
)

// SumWeights totals a set of approver weights.
func SumWeights(weights []uint64) uint64 {
	var total uint64
	for _, w := range weights {
		total += w
	}
	return total
}

// Evaluate compares a transaction's approved weight against threshold,
// given whether it was previously considered at/above threshold (wasMet).
// A Proposed transaction always calls with wasMet=false; an Approved one
// with wasMet=true — the caller's current Status row carries that fact so
// no separate "previous weight" needs to be tracked.
func Evaluate(approvedWeight, threshold uint64, wasMet bool) Decision {
	nowMet := approvedWeight >= threshold
	switch {
	case !wasMet && nowMet:
		return Reached
	case wasMet && !nowMet:
		return Lost
	default:
		return NoChange
	}
}
