// Package session holds the client's session state: the connected
// identity, the pending entry text and the last known record list.
// Components receive a *Store explicitly and observe it through Subscribe.
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/models"
)

// Options configures a Store.
type Options struct {
	// Strict discards results of operations started under an older
	// identity generation. When false every completed operation is
	// applied, even if the identity changed while it was in flight.
	Strict bool
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Identity models.Identity
	Input    string
	Records  models.RecordList
	// FetchErr is the error of the last fetch; Records is Unknown while it is set.
	FetchErr error
	// Generation changes every time the identity changes.
	Generation uint64
	// Version changes on every update.
	Version uint64
}

// Listener is called after every update with the previous and new state.
// It runs on the goroutine that made the update and must not block.
type Listener func(prev, next Snapshot)

type subscription struct {
	id uint64
	fn Listener
}

// Store is the session state holder. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	opts   Options
	state  Snapshot
	subs   []subscription
	nextID uint64
	log    *zap.Logger
}

// New returns an empty store: no identity, empty input, Unknown records.
func New(opts Options, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		opts:  opts,
		state: Snapshot{Records: models.UnknownList()},
		log:   log.With(zap.String("component", "session")),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current identity generation. Operations capture
// it when they start and hand it back when they apply their result.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Generation
}

// SetIdentity records a completed connection. Setting the identity that
// is already present is a no-op. A new identity starts a new generation
// and resets the record list to Unknown.
func (s *Store) SetIdentity(id models.Identity) {
	s.update(func(st *Snapshot) bool {
		if st.Identity == id {
			return false
		}
		st.Identity = id
		st.Generation++
		st.Records = models.UnknownList()
		st.FetchErr = nil
		return true
	})
}

// SetInput replaces the pending entry text.
func (s *Store) SetInput(text string) {
	s.update(func(st *Snapshot) bool {
		if st.Input == text {
			return false
		}
		st.Input = text
		return true
	})
}

// ApplyRecords stores the result of a successful fetch started at gen.
// It reports whether the result was applied.
func (s *Store) ApplyRecords(gen uint64, list models.RecordList) bool {
	return s.update(func(st *Snapshot) bool {
		if s.stale(st, gen) {
			return false
		}
		st.Records = list
		st.FetchErr = nil
		return true
	})
}

// ApplyFetchError records a failed fetch started at gen; the record list
// becomes Unknown. It reports whether the result was applied.
func (s *Store) ApplyFetchError(gen uint64, err error) bool {
	return s.update(func(st *Snapshot) bool {
		if s.stale(st, gen) {
			return false
		}
		st.Records = models.UnknownList()
		st.FetchErr = err
		return true
	})
}

func (s *Store) stale(st *Snapshot, gen uint64) bool {
	if !s.opts.Strict || gen == st.Generation {
		return false
	}
	s.log.Info("discarding stale result",
		zap.Uint64("started_generation", gen),
		zap.Uint64("current_generation", st.Generation))
	return true
}

// Subscribe registers l and returns the function that removes it.
// The returned function is idempotent.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: l})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// update applies fn under the lock and, if it changed the state,
// notifies listeners after the lock is released.
func (s *Store) update(fn func(st *Snapshot) bool) bool {
	s.mu.Lock()
	prev := s.state
	next := prev
	if !fn(&next) {
		s.mu.Unlock()
		return false
	}
	next.Version++
	s.state = next
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(prev, next)
	}
	return true
}
