package status

import "errors"

// Ledger program rejections.
var (
	ErrSupplyExceeded    = errors.New("registry: supply exceeded")
	ErrInvalidRoyalty    = errors.New("registry: royalty must be between 0 and 100")
	ErrInvalidPrice      = errors.New("registry: resale price must be greater than zero")
	ErrInvalidRecipient  = errors.New("registry: invalid recipient")
	ErrAlreadyClosed     = errors.New("registry: token already closed")
	ErrInvalidTransition = errors.New("registry: invalid status transition")
	ErrUnknownToken      = errors.New("registry: unknown token")
	ErrNotTokenOwner     = errors.New("registry: caller is not the token owner")
	ErrNotProgramOwner   = errors.New("registry: caller is not the program owner")
	ErrInvalidSupply     = errors.New("factory: max supply must be greater than zero")
	ErrUnknownProgram    = errors.New("ledger: unknown program address")
)

// Record decoding.
var (
	ErrUnknownRecord = errors.New("ledger: unknown record kind")
	ErrMalformedData = errors.New("ledger: malformed record data")
	ErrRecordFailed  = errors.New("ledger: record not applied")
)

// Store lookups.
var (
	ErrEventNotFound = errors.New("store: event not found")
	ErrOrderNotFound = errors.New("store: order not found")
	ErrSaleNotFound  = errors.New("store: sale not found")
)

var ErrCircuitOpen = errors.New("circuit breaker is open")
