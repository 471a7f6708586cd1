package store

// Watch registers an observer. The returned channel receives the store
// version after every batch that changed the store.
//
// The channel has a buffer of one and coalesces: a slow observer sees the
// latest version, not every intermediate one. The cancel func unregisters
// the observer and closes the channel; it is safe to call more than once.
func (s *Store) Watch() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	s.obsMu.Lock()
	if s.closed {
		s.obsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	s.obsMu.Unlock()

	cancel := func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		if c, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close unregisters every observer and closes their channels. Later calls
// to Watch return a closed channel. The store stays readable.
func (s *Store) Close() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	s.closed = true
	for id, ch := range s.observers {
		delete(s.observers, id)
		close(ch)
	}
}

// notify publishes version to every observer without blocking. Batches
// notify after the write lock is released, so a later batch can get here
// first; versions not newer than the last one published are dropped.
func (s *Store) notify(version uint64) {
	if version == 0 {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	if version <= s.published {
		return
	}
	s.published = version

	for _, ch := range s.observers {
		select {
		case ch <- version:
		default:
			// Replace the pending, older version with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- version:
			default:
			}
		}
	}
}
