package store

import "time"

// Clock overrides time.Now for tests. Nil means wall-clock UTC.
type Clock func() time.Time

// SetClock installs a clock override.
func (s *Store) SetClock(clock Clock) {
	if s == nil {
		return
	}
	s.clock = clock
}

func (s *Store) now() time.Time {
	if s != nil && s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}
