package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/sigcap/internal/config"
)

// ErrUnsupportedCapability is returned when a get, set or list is attempted
// on a key the configurable does not offer with that capability.
var ErrUnsupportedCapability = errors.New("unsupported capability")

// Configurable is implemented by devices and channel groups.
type Configurable interface {
	// ConfigKeys lists the keys this scope advertises, in display order.
	ConfigKeys() []config.Key
	// ConfigCheck reports whether k is offered with capability c.
	ConfigCheck(k config.Key, c config.Capability) bool
	ConfigGet(k config.Key) (config.Value, error)
	ConfigSet(k config.Key, v config.Value) error
	ConfigList(k config.Key) ([]config.Value, error)
}

// Entry describes one key of a Store.
type Entry struct {
	Caps  config.Capability
	Value config.Value
	// List holds the allowed values. When set together with CapList,
	// ConfigSet rejects anything not in it.
	List []config.Value
	// OnSet runs before a new value is stored and may reject it.
	OnSet func(config.Value) error
	// OnGet, when set, supplies the value instead of the stored one.
	OnGet func() (config.Value, error)
}

// Store is a capability-scoped set of configuration values. It is the
// backing store for both devices and channel groups.
type Store struct {
	mu      sync.RWMutex
	order   []config.Key
	entries map[config.Key]*Entry
	// guard, when set, must pass before any ConfigSet.
	guard func() error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: map[config.Key]*Entry{}}
}

// Define adds or replaces k. Keys are listed in first-definition order.
func (s *Store) Define(k config.Key, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[k]; !ok {
		s.order = append(s.order, k)
	}
	cp := e
	s.entries[k] = &cp
}

// Current returns the stored value of k regardless of capabilities.
func (s *Store) Current(k config.Key) config.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[k]; ok {
		return e.Value
	}
	return config.Value{}
}

// Update overwrites the stored value of k without running hooks or checks.
// Drivers use it to reflect state read back from hardware.
func (s *Store) Update(k config.Key, v config.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		e.Value = v
	}
}

func (s *Store) ConfigKeys() []config.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]config.Key(nil), s.order...)
}

func (s *Store) ConfigCheck(k config.Key, c config.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[k]
	return ok && e.Caps.Has(c)
}

func (s *Store) lookup(k config.Key, c config.Capability) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[k]
	if !ok || !e.Caps.Has(c) {
		return Entry{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedCapability, c, k.Identifier())
	}
	return *e, nil
}

func (s *Store) ConfigGet(k config.Key) (config.Value, error) {
	e, err := s.lookup(k, config.CapGet)
	if err != nil {
		return config.Value{}, err
	}
	if e.OnGet != nil {
		return e.OnGet()
	}
	return e.Value, nil
}

func (s *Store) ConfigList(k config.Key) ([]config.Value, error) {
	e, err := s.lookup(k, config.CapList)
	if err != nil {
		return nil, err
	}
	return append([]config.Value(nil), e.List...), nil
}

func (s *Store) ConfigSet(k config.Key, v config.Value) error {
	e, err := s.lookup(k, config.CapSet)
	if err != nil {
		return err
	}
	if err := k.CheckType(v); err != nil {
		return err
	}
	if e.Caps.Has(config.CapList) && len(e.List) > 0 && !contains(e.List, v) {
		return fmt.Errorf("%w for %s: %s is not one of the supported values", config.ErrInvalidValue, k.Identifier(), v)
	}
	if s.guard != nil {
		if err := s.guard(); err != nil {
			return err
		}
	}
	if e.OnSet != nil {
		if err := e.OnSet(v); err != nil {
			return err
		}
	}
	s.Update(k, v)
	return nil
}

func contains(list []config.Value, v config.Value) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
