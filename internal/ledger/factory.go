package ledger

import (
	"sync"

	"ticket-ledger/internal/status"
)

// Factory deploys one Registry per event. Only the platform key that deployed
// the factory may create registries.
type Factory struct {
	chain   *Chain
	address string
	owner   string

	mu    sync.Mutex
	nonce uint64
}

func (f *Factory) Address() string { return f.address }
func (f *Factory) Owner() string   { return f.owner }

// CreateRegistry deploys a new registry owned by owner. Each call deploys a
// fresh program; repeating a call with the same arguments is not deduplicated.
func (f *Factory) CreateRegistry(caller, owner, name string, maxSupply uint64, baseURI string) (*Registry, error) {
	if NormalizeAddress(caller) != f.owner {
		return nil, reject("createRegistry", 0, status.ErrNotProgramOwner)
	}
	if maxSupply == 0 {
		return nil, reject("createRegistry", 0, status.ErrInvalidSupply)
	}
	if isZeroAddress(owner) {
		return nil, reject("createRegistry", 0, status.ErrInvalidRecipient)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nonce++
	reg := &Registry{
		chain:     f.chain,
		address:   deriveAddress(f.address, f.nonce),
		owner:     NormalizeAddress(owner),
		name:      name,
		baseURI:   baseURI,
		maxSupply: maxSupply,
		tokens:    make(map[uint64]*Token),
	}

	f.chain.commit(f.address, reg, Created{
		EventID:        f.nonce,
		ProgramAddress: reg.address,
		Owner:          reg.owner,
		Name:           name,
		MaxSupply:      maxSupply,
	})
	return reg, nil
}
