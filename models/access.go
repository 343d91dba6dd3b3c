package models

type Access string

const (
	AccessGranted Access = "GRANTED"
	AccessDenied  Access = "DENIED"
)

// Denial reasons reported to the scanner.
const (
	ReasonUnknownTicket = "UNKNOWN TICKET"
	ReasonAlreadyUsed   = "ALREADY USED"
	ReasonTransferred   = "TRANSFERRED"
	ReasonWrongEvent    = "WRONG EVENT"
	ReasonNotIssued     = "NOT ISSUED"
	ReasonGranted       = "OK"
)

type AccessRequest struct {
	Reference  string `json:"reference"`
	EventID    string `json:"event_id,omitempty"`
	PromoterID string `json:"promoter_id,omitempty"`
	Operator   string `json:"operator,omitempty"`
}

type TicketSummary struct {
	SaleID         string     `json:"sale_id"`
	EventID        string     `json:"event_id"`
	Account        string     `json:"account"`
	TokenID        int64      `json:"token_id"`
	ProgramAddress string     `json:"program_address"`
	Status         SaleStatus `json:"status"`
}

type AccessResult struct {
	Access Access         `json:"access"`
	Reason string         `json:"reason"`
	Ticket *TicketSummary `json:"ticket,omitempty"`
}

// WatcherStatus is the operational view of the ledger watcher.
type WatcherStatus struct {
	IsListening         bool `json:"is_listening"`
	WatchedAddressCount int  `json:"watched_address_count"`
}

// SyncReport summarises a range sync.
type SyncReport struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
	Addresses int    `json:"addresses"`
	Records   int    `json:"records"`
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}
