package ledger

import (
	"fmt"
	"strings"
	"sync"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/shopspring/decimal"
)

// Token is one ticket held by a registry.
type Token struct {
	ID                uint64             `json:"tokenId"`
	Owner             string             `json:"owner"`
	Creator           string             `json:"creator"`
	RoyaltyPct        uint8              `json:"royaltyPct"`
	Status            models.TokenStatus `json:"status"`
	ResalePrice       decimal.Decimal    `json:"resalePrice"`
	ExpectedTimestamp int64              `json:"expectedTimestamp"`
}

// Registry is the per-event ticket program. The contract owner (promoter
// key) issues tokens and sets status; token holders list, cancel and
// transfer their own tokens.
type Registry struct {
	chain      *Chain
	address    string
	owner      string
	name       string
	baseURI    string
	maxSupply  uint64
	deployedAt uint64

	mu     sync.Mutex
	issued uint64
	tokens map[uint64]*Token
}

func (r *Registry) Address() string    { return r.address }
func (r *Registry) Owner() string      { return r.owner }
func (r *Registry) Name() string       { return r.name }
func (r *Registry) MaxSupply() uint64  { return r.maxSupply }
func (r *Registry) DeployedAt() uint64 { return r.deployedAt }

func (r *Registry) IssuedCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issued
}

// Token returns a copy of the token state.
func (r *Registry) Token(tokenID uint64) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, reject("token", tokenID, status.ErrUnknownToken)
	}
	return *tok, nil
}

func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	if _, err := r.Token(tokenID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d", strings.TrimRight(r.baseURI, "/"), tokenID), nil
}

// Issue mints the next token to owner.
func (r *Registry) Issue(caller, owner string, royaltyPct uint8, expectedTimestamp int64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if NormalizeAddress(caller) != r.owner {
		return 0, reject("issue", 0, status.ErrNotProgramOwner)
	}
	if isZeroAddress(owner) {
		return 0, reject("issue", 0, status.ErrInvalidRecipient)
	}
	if royaltyPct > 100 {
		return 0, reject("issue", 0, status.ErrInvalidRoyalty)
	}
	if r.issued >= r.maxSupply {
		return 0, reject("issue", 0, status.ErrSupplyExceeded)
	}

	r.issued++
	tok := &Token{
		ID:                r.issued,
		Owner:             NormalizeAddress(owner),
		Creator:           r.owner,
		RoyaltyPct:        royaltyPct,
		Status:            models.TokenOpen,
		ResalePrice:       decimal.Zero,
		ExpectedTimestamp: expectedTimestamp,
	}
	r.tokens[tok.ID] = tok

	r.chain.commit(r.address, nil, Minted{
		TokenID:           tok.ID,
		Owner:             tok.Owner,
		Creator:           tok.Creator,
		RoyaltyPct:        tok.RoyaltyPct,
		ExpectedTimestamp: expectedTimestamp,
	})
	return tok.ID, nil
}

// SetResalePrice lists a token for resale.
func (r *Registry) SetResalePrice(caller string, tokenID uint64, price decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, err := r.holderToken("setResalePrice", caller, tokenID)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return reject("setResalePrice", tokenID, status.ErrInvalidPrice)
	}
	next, err := tok.Status.Transition(models.TokenSale)
	if err != nil {
		return reject("setResalePrice", tokenID, err)
	}

	tok.Status = next
	tok.ResalePrice = price
	r.chain.commit(r.address, nil, Priced{TokenID: tokenID, Price: price})
	return nil
}

// CancelResale withdraws a listing. Creator and royalty are left untouched.
func (r *Registry) CancelResale(caller string, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, err := r.holderToken("cancelResale", caller, tokenID)
	if err != nil {
		return err
	}
	if tok.Status != models.TokenSale {
		return reject("cancelResale", tokenID, fmt.Errorf("%s is not listed: %w", tok.Status, status.ErrInvalidTransition))
	}
	next, err := tok.Status.Transition(models.TokenOpen)
	if err != nil {
		return reject("cancelResale", tokenID, err)
	}

	tok.Status = next
	tok.ResalePrice = decimal.Zero
	r.chain.commit(r.address, nil, ResaleCancelled{TokenID: tokenID})
	return nil
}

// Transfer moves a token to a new holder. A listed token is settled back to
// OPEN with its price cleared.
func (r *Registry) Transfer(caller string, tokenID uint64, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, err := r.holderToken("transfer", caller, tokenID)
	if err != nil {
		return err
	}
	if isZeroAddress(to) {
		return reject("transfer", tokenID, status.ErrInvalidRecipient)
	}

	from := tok.Owner
	tok.Owner = NormalizeAddress(to)
	if tok.Status == models.TokenSale {
		tok.Status = models.TokenOpen
		tok.ResalePrice = decimal.Zero
	}
	r.chain.commit(r.address, nil, Transferred{TokenID: tokenID, From: from, To: tok.Owner})
	return nil
}

// SetStatus is the contract-owner status change. CLOSED is terminal.
func (r *Registry) SetStatus(caller string, tokenID uint64, to models.TokenStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if NormalizeAddress(caller) != r.owner {
		return reject("setStatus", tokenID, status.ErrNotProgramOwner)
	}
	tok, ok := r.tokens[tokenID]
	if !ok {
		return reject("setStatus", tokenID, status.ErrUnknownToken)
	}
	if to == models.TokenSale && tok.Status != models.TokenClosed {
		// listing carries a price and goes through SetResalePrice
		return reject("setStatus", tokenID, fmt.Errorf("%s -> %s: %w", tok.Status, to, status.ErrInvalidTransition))
	}
	next, err := tok.Status.Transition(to)
	if err != nil {
		return reject("setStatus", tokenID, err)
	}

	tok.Status = next
	if next != models.TokenSale {
		tok.ResalePrice = decimal.Zero
	}
	r.chain.commit(r.address, nil, StatusChanged{TokenID: tokenID, Status: next})
	return nil
}

// Royalty returns the creator and the share of salePrice owed to them.
func (r *Registry) Royalty(tokenID uint64, salePrice decimal.Decimal) (string, decimal.Decimal, error) {
	tok, err := r.Token(tokenID)
	if err != nil {
		return "", decimal.Zero, err
	}
	amount := salePrice.Mul(decimal.NewFromInt(int64(tok.RoyaltyPct))).Div(decimal.NewFromInt(100))
	return tok.Creator, amount, nil
}

func (r *Registry) holderToken(op, caller string, tokenID uint64) (*Token, error) {
	tok, ok := r.tokens[tokenID]
	if !ok {
		return nil, reject(op, tokenID, status.ErrUnknownToken)
	}
	if NormalizeAddress(caller) != tok.Owner {
		return nil, reject(op, tokenID, status.ErrNotTokenOwner)
	}
	return tok, nil
}
