package crestron

import (
	"strings"
	"sync"
)

// panelSet holds every configured coordinator. Only panels that passed the
// setup connection test are active; inactive panels are listed but do not
// poll or accept commands.
type panelSet struct {
	mu     sync.RWMutex
	order  []*Coordinator
	active map[string]bool
}

func newPanelSet(coords []*Coordinator) *panelSet {
	return &panelSet{order: coords, active: make(map[string]bool)}
}

func (s *panelSet) all() []*Coordinator {
	return s.order
}

func (s *panelSet) lookup(name string) (*Coordinator, bool) {
	for _, c := range s.order {
		if strings.EqualFold(c.Name(), name) {
			return c, true
		}
	}
	return nil, false
}

func (s *panelSet) setActive(c *Coordinator) {
	s.mu.Lock()
	s.active[c.Name()] = true
	s.mu.Unlock()
}

func (s *panelSet) isActive(c *Coordinator) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[c.Name()]
}
