// Package shared provides SharedError, the slot through which a client's
// background workers hand a terminal failure to the component supervising
// them.
//
// Any number of producers may call Set and any number of consumers may call
// IsSet and Take concurrently. The slot holds at most one error; a Set that
// lands before the previous error was taken replaces it (last writer wins).
//
//	slot := shared.New()
//	go reader(conn, slot) // calls slot.Set(errors.FromIO(err)) on failure
//
//	for range ticker.C {
//	    if !slot.IsSet() {
//	        continue
//	    }
//	    if err := slot.Take(); err != nil {
//	        handle(err)
//	    }
//	}
//
// A handle is the *SharedError pointer itself. Pass it explicitly to every
// producer and consumer; there is no package-level slot.
package shared

import (
	"sync"
	"sync/atomic"

	"github.com/sammoh94/pulsarkit/errors"
)

// SharedError holds at most one *errors.Error shared between goroutines.
//
// The mutex guards the payload and is the only source of truth for it.
// The flag mirrors payload presence so that IsSet can be polled without
// taking the lock; it is only written while the lock is held.
type SharedError struct {
	set atomic.Bool

	mu  sync.Mutex
	err *errors.Error
}

// New creates an empty slot.
func New() *SharedError {
	return &SharedError{}
}

// IsSet reports whether an error is probably waiting to be taken.
// It never blocks. A true result is advisory: a concurrent Take may drain
// the slot before the caller gets to it.
func (s *SharedError) IsSet() bool {
	return s.set.Load()
}

// Set stores err, replacing any error not yet taken, and raises the flag.
// A nil err is ignored.
func (s *SharedError) Set(err *errors.Error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.set.Store(true)
	s.mu.Unlock()
}

// SetIfEmpty stores err only if the slot is empty and reports whether it did.
// Producers that want the first failure of a burst to survive use this
// instead of Set.
func (s *SharedError) SetIfEmpty(err *errors.Error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	s.err = err
	s.set.Store(true)
	return true
}

// Take removes and returns the stored error and lowers the flag.
// Returns nil if the slot is empty.
func (s *SharedError) Take() *errors.Error {
	s.mu.Lock()
	err := s.err
	s.err = nil
	s.set.Store(false)
	s.mu.Unlock()
	return err
}
