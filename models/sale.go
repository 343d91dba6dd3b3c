package models

import "github.com/shopspring/decimal"

// SaleStatus is the off-ledger projection status of one issued ticket.
type SaleStatus string

const (
	SalePending     SaleStatus = "PENDING"
	SaleProcessing  SaleStatus = "PROCESSING"
	SaleSold        SaleStatus = "SOLD"
	SaleOpen        SaleStatus = "OPEN"
	SaleListed      SaleStatus = "SALE"
	SaleTransferred SaleStatus = "TRANSFERED"
	SaleClosed      SaleStatus = "CLOSED"
)

// Edges that exist only off-ledger: checkout progress, mint confirmation and
// ownership change. Everything between OPEN, SALE and CLOSED is delegated to
// the token graph so both sides share one definition.
var saleEdges = map[SaleStatus][]SaleStatus{
	SalePending:     {SaleProcessing, SaleSold, SaleOpen},
	SaleProcessing:  {SaleSold, SaleOpen},
	SaleSold:        {SaleOpen},
	SaleOpen:        {SaleTransferred},
	SaleListed:      {SaleTransferred},
	SaleTransferred: {SaleTransferred, SaleListed, SaleClosed},
	SaleClosed:      nil,
}

// TokenStatus maps a projection status onto its ledger counterpart.
func (s SaleStatus) TokenStatus() (TokenStatus, bool) {
	switch s {
	case SaleOpen:
		return TokenOpen, true
	case SaleListed:
		return TokenSale, true
	case SaleClosed:
		return TokenClosed, true
	}
	return "", false
}

func (s SaleStatus) Valid() bool {
	_, ok := saleEdges[s]
	return ok
}

func (s SaleStatus) CanTransition(to SaleStatus) bool {
	if from, ok := s.TokenStatus(); ok {
		if next, ok := to.TokenStatus(); ok {
			return from.CanTransition(next)
		}
	}
	for _, next := range saleEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Admissible reports whether a ticket in this status may be used for entry.
func (s SaleStatus) Admissible() bool {
	return s == SaleOpen || s == SaleListed || s == SaleTransferred
}

// Sale is the off-ledger record of one ticket token. ProgramAddress and
// TokenID form the natural key once the mint is confirmed.
type Sale struct {
	ID             string          `db:"id" json:"id"`
	OrderID        string          `db:"order_id" json:"order_id"`
	EventID        string          `db:"event_id" json:"event_id"`
	PromoterID     string          `db:"promoter_id" json:"promoter_id"`
	Account        string          `db:"account" json:"account"`
	Status         SaleStatus      `db:"status" json:"status"`
	QRReference    string          `db:"qr_reference" json:"qr_reference,omitempty"`
	TokenID        int64           `db:"token_id" json:"token_id,omitempty"`
	ProgramAddress string          `db:"program_address" json:"program_address,omitempty"`
	ResalePrice    decimal.Decimal `db:"resale_price" json:"resale_price"`
	SyncedBlock    int64           `db:"synced_block" json:"-"`
	SyncedLogIndex int64           `db:"synced_log_index" json:"-"`
	Created        int64           `db:"created" json:"created"`
	Updated        int64           `db:"updated" json:"updated"`
}

// LedgerPosition orders ledger records: by block, then by log index.
type LedgerPosition struct {
	Block    int64
	LogIndex int64
}

func (p LedgerPosition) After(o LedgerPosition) bool {
	return p.Block > o.Block || (p.Block == o.Block && p.LogIndex > o.LogIndex)
}

// Position is the last ledger record applied to the sale.
func (s *Sale) Position() LedgerPosition {
	return LedgerPosition{Block: s.SyncedBlock, LogIndex: s.SyncedLogIndex}
}

type HistoryAction string

const (
	ActionAccessGranted HistoryAction = "ACCESS_GRANTED"
	ActionAccessDenied  HistoryAction = "ACCESS_DENIED"
	ActionLedgerSync    HistoryAction = "LEDGER_SYNC"
)

// SaleHistory is an append-only audit entry on a sale.
type SaleHistory struct {
	ID             string        `db:"id" json:"id"`
	SaleID         string        `db:"sale_id" json:"sale_id"`
	Action         HistoryAction `db:"action" json:"action"`
	PreviousStatus SaleStatus    `db:"previous_status" json:"previous_status"`
	NewStatus      SaleStatus    `db:"new_status" json:"new_status"`
	Reason         string        `db:"reason" json:"reason,omitempty"`
	Operator       string        `db:"operator" json:"operator,omitempty"`
	Created        int64         `db:"created" json:"created"`
}
