package models

// Event is an off-ledger event row. ProgramAddress stays empty until the
// factory creation record for it has been reconciled, and is written once.
type Event struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	PromoterID     string `db:"promoter_id" json:"promoter_id"`
	ProgramAddress string `db:"program_address" json:"program_address,omitempty"`
	MaxSupply      int64  `db:"max_supply" json:"max_supply"`
	BlockNumber    int64  `db:"block_number" json:"block_number,omitempty"`
	Created        int64  `db:"created" json:"created"`
}

func (e *Event) Deployed() bool {
	return e.ProgramAddress != ""
}
