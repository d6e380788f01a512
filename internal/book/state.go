// Package book holds the latest market view for one symbol and fans every
// change out to registered observers.
package book

import (
	"fmt"
	"sync"

	"quoteflow/logger"
	"quoteflow/models"
)

// Kind names the part of the book that changed.
type Kind int

const (
	KindTopOfBook Kind = iota + 1
	KindDepth
)

func (k Kind) String() string {
	switch k {
	case KindTopOfBook:
		return "top_of_book"
	case KindDepth:
		return "depth"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Update is delivered to observers after each replace. Snapshot is a private
// copy; observers may keep or modify it.
type Update struct {
	Kind     Kind
	Snapshot models.BookSnapshot
}

// Observer receives book updates. A returned error is logged and otherwise
// ignored. Observers must not call Replace* on the state notifying them.
type Observer interface {
	OnBookUpdate(Update) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Update) error

func (f ObserverFunc) OnBookUpdate(u Update) error { return f(u) }

// SubscriptionID identifies a registered observer. Zero is never issued.
type SubscriptionID uint64

type subscription struct {
	id       SubscriptionID
	name     string
	observer Observer
}

// State is the shared book for a single symbol.
type State struct {
	symbol string
	log    *logger.Log

	mu    sync.RWMutex
	top   models.TopOfBook
	depth models.DepthSnapshot

	// dispatchMu serializes replace+notify so every observer sees updates in
	// the order they were applied.
	dispatchMu sync.Mutex

	subsMu sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
}

func NewState(symbol string) *State {
	return &State{
		symbol: symbol,
		log:    logger.GetLogger(),
	}
}

func (s *State) Symbol() string { return s.symbol }

// ReplaceTopOfBook stores tob and notifies observers with the resulting pair.
func (s *State) ReplaceTopOfBook(tob models.TopOfBook) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.top = tob
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(KindTopOfBook, snap)
}

// ReplaceDepth stores depth and notifies observers with the resulting pair.
func (s *State) ReplaceDepth(depth models.DepthSnapshot) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.depth = depth.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(KindDepth, snap)
}

// Snapshot returns a copy of the current pair.
func (s *State) Snapshot() models.BookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() models.BookSnapshot {
	return models.BookSnapshot{TopOfBook: s.top, Depth: s.depth.Clone()}
}

// Subscribe registers observer under name. Observers are notified in
// subscription order.
func (s *State) Subscribe(name string, observer Observer) SubscriptionID {
	if observer == nil {
		return 0
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, name: name, observer: observer})
	return id
}

// Unsubscribe removes the observer. Unknown ids are ignored.
func (s *State) Unsubscribe(id SubscriptionID) {
	if id == 0 {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Observers reports how many observers are registered.
func (s *State) Observers() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

func (s *State) notify(kind Kind, snap models.BookSnapshot) {
	s.subsMu.RLock()
	if len(s.subs) == 0 {
		s.subsMu.RUnlock()
		return
	}
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.RUnlock()

	for _, sub := range subs {
		s.deliver(sub, Update{Kind: kind, Snapshot: snap.Clone()})
	}
}

func (s *State) deliver(sub subscription, u Update) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithComponent("book").WithSymbol(s.symbol).WithFields(logger.Fields{
				"observer": sub.name,
				"kind":     u.Kind.String(),
				"panic":    fmt.Sprint(r),
			}).Error("observer panicked")
		}
	}()

	if err := sub.observer.OnBookUpdate(u); err != nil {
		s.log.WithComponent("book").WithSymbol(s.symbol).WithError(err).WithFields(logger.Fields{
			"observer": sub.name,
			"kind":     u.Kind.String(),
		}).Warn("observer failed")
	}
}
