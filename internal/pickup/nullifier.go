// nullifier.go - The consumed-nullifier set.
//
// A nullifier is recorded exactly once, atomically with the package status
// transition, and never removed. Once present it permanently blocks replay
// of the same proof, regardless of package.

package pickup

import "time"

// nullifierSet owns consumption records for the in-memory repository.
// Not safe for concurrent use on its own; the repository serializes access.
type nullifierSet struct {
	used map[Nullifier]time.Time
}

func newNullifierSet() *nullifierSet {
	return &nullifierSet{used: make(map[Nullifier]time.Time)}
}

func (s *nullifierSet) consumed(n Nullifier) bool {
	_, ok := s.used[n]
	return ok
}

// consume records n, failing with ErrNullifierUsed if already present.
func (s *nullifierSet) consume(n Nullifier, at time.Time) error {
	if s.consumed(n) {
		return ErrNullifierUsed
	}
	s.used[n] = at
	return nil
}
