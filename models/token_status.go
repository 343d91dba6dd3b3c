package models

import (
	"fmt"

	"ticket-ledger/internal/status"
)

// TokenStatus is the ledger-resident status of a ticket token.
type TokenStatus string

const (
	TokenOpen   TokenStatus = "OPEN"
	TokenSale   TokenStatus = "SALE"
	TokenClosed TokenStatus = "CLOSED"
)

var tokenEdges = map[TokenStatus][]TokenStatus{
	TokenOpen: {TokenSale, TokenClosed},
	TokenSale: {TokenOpen, TokenClosed},
	// CLOSED is terminal: entry consumed at the door.
	TokenClosed: nil,
}

func (s TokenStatus) Valid() bool {
	_, ok := tokenEdges[s]
	return ok
}

// CanTransition reports whether from -> to is an edge of the token graph.
func (s TokenStatus) CanTransition(to TokenStatus) bool {
	for _, next := range tokenEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates s -> to and returns the new status. Any move out of
// CLOSED fails with status.ErrAlreadyClosed.
func (s TokenStatus) Transition(to TokenStatus) (TokenStatus, error) {
	if s == TokenClosed {
		return s, status.ErrAlreadyClosed
	}
	if !to.Valid() || !s.CanTransition(to) {
		return s, fmt.Errorf("%s -> %s: %w", s, to, status.ErrInvalidTransition)
	}
	return to, nil
}
