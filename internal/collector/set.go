package collector

import (
	"fmt"
	"sort"

	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/store"
)

// Set holds one collector per store, addressed by store name.
type Set struct {
	byName map[string]*Collector
	stores map[string]*store.Store
}

// NewSet creates a collector for every store with the same options.
func NewSet(stores []*store.Store, opts ...Option) *Set {
	s := &Set{
		byName: make(map[string]*Collector, len(stores)),
		stores: make(map[string]*store.Store, len(stores)),
	}
	for _, st := range stores {
		s.byName[st.Name()] = New(st, opts...)
		s.stores[st.Name()] = st
	}
	return s
}

// Get returns the named collector.
func (s *Set) Get(name string) (*Collector, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Names lists the collector names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Accepts reports whether the named collector stores events of kind.
func (s *Set) Accepts(name string, kind event.SourceKind) error {
	st, ok := s.stores[name]
	if !ok {
		return fmt.Errorf("unknown collector %q", name)
	}
	if !st.Accepts(kind) {
		return fmt.Errorf("collector %q does not record %q events", name, kind)
	}
	return nil
}

// FlushAll flushes every collector.
func (s *Set) FlushAll() {
	for _, c := range s.byName {
		c.Flush()
	}
}

// StopAll stops every collector's session, flushing buffered events.
func (s *Set) StopAll() {
	for _, c := range s.byName {
		c.StopSession()
	}
}
