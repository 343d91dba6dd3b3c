package services

import (
	"sync"

	"ticket-ledger/internal/ledger"
)

// AddressRegistry is the set of program addresses the service follows. The
// reconciler adds registries as their creation records are applied and the
// watcher is told about every new address.
type AddressRegistry struct {
	mu         sync.RWMutex
	set        map[string]struct{}
	order      []string
	subscriber func(address string)
}

func NewAddressRegistry() *AddressRegistry {
	return &AddressRegistry{set: make(map[string]struct{})}
}

// Subscribe sets the function called for each address added from now on.
func (r *AddressRegistry) Subscribe(fn func(address string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriber = fn
}

// Watch adds address and reports whether it was new. The subscriber is
// called outside the lock.
func (r *AddressRegistry) Watch(address string) bool {
	address = ledger.NormalizeAddress(address)
	if address == "" {
		return false
	}

	r.mu.Lock()
	if _, ok := r.set[address]; ok {
		r.mu.Unlock()
		return false
	}
	r.set[address] = struct{}{}
	r.order = append(r.order, address)
	notify := r.subscriber
	r.mu.Unlock()

	if notify != nil {
		notify(address)
	}
	return true
}

func (r *AddressRegistry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[ledger.NormalizeAddress(address)]
	return ok
}

// Addresses returns a snapshot in the order addresses were added.
func (r *AddressRegistry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *AddressRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
