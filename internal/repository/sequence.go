package repository

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NextSequence returns max(existing)+1, or 1 for an empty parent.
func NextSequence(existing []int) int {
	max := 0
	for _, s := range existing {
		if s > max {
			max = s
		}
	}
	return max + 1
}

// PlanSequences assigns order keys to a batch of children appended to a
// parent that already holds existing. A requested key of 0 means "after the
// last"; a non-zero key must be positive and free.
func PlanSequences(existing []int, requested []int) ([]int, error) {
	taken := make(map[int]bool, len(existing)+len(requested))
	for _, s := range existing {
		taken[s] = true
	}
	for _, r := range requested {
		if r < 0 {
			return nil, fmt.Errorf("%w: sequence %d is negative", ErrInvariantViolation, r)
		}
		if r == 0 {
			continue
		}
		if taken[r] {
			return nil, fmt.Errorf("%w: sequence %d already used in parent", ErrInvariantViolation, r)
		}
		taken[r] = true
	}

	next := 1
	for s := range taken {
		if s >= next {
			next = s + 1
		}
	}
	out := make([]int, len(requested))
	for i, r := range requested {
		if r == 0 {
			r = next
			next++
		}
		out[i] = r
	}
	return out, nil
}

// CheckPermutation verifies that ordered lists every ID in current exactly once.
func CheckPermutation(current, ordered []primitive.ObjectID) error {
	if len(current) != len(ordered) {
		return fmt.Errorf("%w: reorder lists %d ids, parent has %d", ErrInvariantViolation, len(ordered), len(current))
	}
	want := make(map[primitive.ObjectID]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range ordered {
		if !want[id] {
			return fmt.Errorf("%w: id %s is missing, repeated or foreign", ErrInvariantViolation, id.Hex())
		}
		delete(want, id)
	}
	return nil
}
