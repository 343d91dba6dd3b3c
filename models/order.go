package models

// Order is created by checkout before the ledger mint is requested and is
// confirmed once the matching mint record has been observed.
type Order struct {
	ID                string `db:"id" json:"id"`
	EventID           string `db:"event_id" json:"event_id"`
	Account           string `db:"account" json:"account"`
	ExpectedTimestamp int64  `db:"expected_timestamp" json:"expected_timestamp"`
	Confirmed         bool   `db:"confirmed" json:"confirmed"`
	Processed         bool   `db:"processed" json:"processed"`
	TokenID           int64  `db:"token_id" json:"token_id,omitempty"`
	ProgramAddress    string `db:"program_address" json:"program_address,omitempty"`
	TxHash            string `db:"tx_hash" json:"tx_hash,omitempty"`
	BlockNumber       int64  `db:"block_number" json:"block_number,omitempty"`
	Created           int64  `db:"created" json:"created"`
}

// LedgerLinkage is what a mint record contributes to an order.
type LedgerLinkage struct {
	TokenID        int64
	ProgramAddress string
	TxHash         string
	BlockNumber    int64
	LogIndex       int64
}
