package store

import (
	"sync"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// ChangeOp is the kind of store change a subscriber is told about.
type ChangeOp int

const (
	// ChangePut means a record was inserted or replaced.
	ChangePut ChangeOp = iota
	// ChangeDelete means a record was removed.
	ChangeDelete
)

// String returns a human-readable representation of the operation.
func (op ChangeOp) String() string {
	switch op {
	case ChangePut:
		return "put"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one live-query notification. UI observers re-read the store
// when they receive one; the notification carries no record payload so a
// slow observer can never hold stale data.
type Change struct {
	Kind model.Kind
	ID   string
	Op   ChangeOp
}

// Subscribe registers a live-query subscriber and returns its channel plus
// a cancel function. Notifications are best-effort: if the subscriber's
// buffer is full the notification is dropped, since the subscriber will
// re-read the store on its next notification anyway.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Change, 64)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (s *Store) notify(c Change) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
