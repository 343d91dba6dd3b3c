package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// Chain is an in-process ledger used as a development node and in tests.
// Every mutating program call is committed as its own block.
type Chain struct {
	mu       sync.RWMutex
	height   uint64
	records  map[string][]RawRecord
	programs map[string]*Registry
	factory  *Factory
}

// NewChain starts a chain at genesis with a factory deployed by deployer.
func NewChain(deployer string) *Chain {
	c := &Chain{
		records:  make(map[string][]RawRecord),
		programs: make(map[string]*Registry),
	}
	c.factory = &Factory{
		chain:   c,
		address: deriveAddress(deployer, 0),
		owner:   NormalizeAddress(deployer),
	}
	return c
}

func (c *Chain) Factory() *Factory {
	return c.factory
}

// Registry returns the program deployed at address.
func (c *Chain) Registry(address string) (*Registry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reg, ok := c.programs[NormalizeAddress(address)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, status.ErrUnknownProgram)
	}
	return reg, nil
}

func (c *Chain) LatestBlock(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height, nil
}

func (c *Chain) Records(ctx context.Context, address string, from, to uint64) ([]RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if to < from {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	all := c.records[NormalizeAddress(address)]
	start := sort.Search(len(all), func(i int) bool { return all[i].BlockNumber >= from })

	var out []RawRecord
	for _, rec := range all[start:] {
		if rec.BlockNumber > to {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Chain) SetStatus(ctx context.Context, caller, program string, tokenID uint64, to models.TokenStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reg, err := c.Registry(program)
	if err != nil {
		return reject("setStatus", tokenID, status.ErrUnknownProgram)
	}
	return reg.SetStatus(caller, tokenID, to)
}

// commit appends the records of one transaction as a new block. deploy, when
// set, is registered in the same block.
func (c *Chain) commit(address string, deploy *Registry, recs ...Record) []RawRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height++
	if deploy != nil {
		c.programs[deploy.address] = deploy
		deploy.deployedAt = c.height
	}

	hash := txHash(address, c.height)
	out := make([]RawRecord, 0, len(recs))
	for i, rec := range recs {
		name, data := encode(rec)
		raw := RawRecord{
			Address:     address,
			BlockNumber: c.height,
			TxHash:      hash,
			LogIndex:    uint(i),
			Name:        name,
			Data:        data,
		}
		c.records[address] = append(c.records[address], raw)
		out = append(out, raw)
	}
	return out
}

var (
	_ Reader = (*Chain)(nil)
	_ Writer = (*Chain)(nil)
)
