package gateway

import (
	"net/http"
	"sync"

	"github.com/xkilldash9x/sessiongate/internal/cookies"
)

// CartCookie is the cookie that identifies the storefront cart.
const CartCookie = "cart"

// State is the single in-memory session slot. The zero value is empty and
// ready to use.
type State struct {
	mu   sync.RWMutex
	cart string
	jar  cookies.Jar
}

// Snapshot returns the cart token and a copy of the jar.
func (s *State) Snapshot() (string, cookies.Jar) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart, s.jar.Clone()
}

// Empty reports whether no cart token is stored.
func (s *State) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart == ""
}

// Replace overwrites both fields from a freshly acquired jar.
func (s *State) Replace(jar cookies.Jar) (string, cookies.Jar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar = jar.Clone()
	s.cart = s.jar[CartCookie]
	return s.cart, s.jar.Clone()
}

// Merge overlays response cookies onto the jar. A cart entry in set also
// replaces the cart token.
func (s *State) Merge(set []*http.Cookie) (string, cookies.Jar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jar == nil {
		s.jar = cookies.Jar{}
	}
	s.jar.Merge(set)
	if v, ok := s.jar[CartCookie]; ok {
		s.cart = v
	}
	return s.cart, s.jar.Clone()
}
