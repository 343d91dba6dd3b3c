package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"golang.org/x/crypto/sha3"
)

// ZeroAddress is the null destination rejected by transfers.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Reader is the read side of a ledger node as seen by the watcher and the
// range sync.
type Reader interface {
	// LatestBlock returns the height of the most recent block.
	LatestBlock(ctx context.Context) (uint64, error)

	// Records returns every record emitted by address in blocks from..to
	// (inclusive), ordered by block then log index.
	Records(ctx context.Context, address string, from, to uint64) ([]RawRecord, error)
}

// Writer submits owner-signed status changes to a deployed registry.
type Writer interface {
	SetStatus(ctx context.Context, caller, program string, tokenID uint64, to models.TokenStatus) error
}

// ProgramError is a typed rejection raised by a ledger program.
type ProgramError struct {
	Op      string
	TokenID uint64
	Err     error
}

func (e *ProgramError) Error() string {
	if e.TokenID > 0 {
		return fmt.Sprintf("%s token %d: %v", e.Op, e.TokenID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProgramError) Unwrap() error { return e.Err }

// IsProgramError reports whether err is a program-level rejection rather
// than a transport failure.
func IsProgramError(err error) bool {
	var pe *ProgramError
	return errors.As(err, &pe)
}

func reject(op string, tokenID uint64, err error) error {
	return &ProgramError{Op: op, TokenID: tokenID, Err: err}
}

// NormalizeAddress lower-cases an address so it can be used as a map key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func isZeroAddress(addr string) bool {
	addr = NormalizeAddress(addr)
	return addr == "" || addr == ZeroAddress
}

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// deriveAddress returns the deterministic address of the nonce-th program
// deployed by creator.
func deriveAddress(creator string, nonce uint64) string {
	sum := keccak([]byte(NormalizeAddress(creator)), []byte(fmt.Sprintf(":%d", nonce)))
	return "0x" + hex.EncodeToString(sum[12:])
}

func txHash(address string, block uint64) string {
	return "0x" + hex.EncodeToString(keccak([]byte(address), []byte(fmt.Sprintf("@%d", block))))
}

// errorCodes maps program sentinels to stable wire codes.
var errorCodes = map[string]error{
	"SUPPLY_EXCEEDED":    status.ErrSupplyExceeded,
	"INVALID_ROYALTY":    status.ErrInvalidRoyalty,
	"INVALID_PRICE":      status.ErrInvalidPrice,
	"INVALID_RECIPIENT":  status.ErrInvalidRecipient,
	"ALREADY_CLOSED":     status.ErrAlreadyClosed,
	"INVALID_TRANSITION": status.ErrInvalidTransition,
	"UNKNOWN_TOKEN":      status.ErrUnknownToken,
	"NOT_TOKEN_OWNER":    status.ErrNotTokenOwner,
	"NOT_PROGRAM_OWNER":  status.ErrNotProgramOwner,
	"INVALID_SUPPLY":     status.ErrInvalidSupply,
	"UNKNOWN_PROGRAM":    status.ErrUnknownProgram,
}

func errorCode(err error) string {
	for code, sentinel := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}
