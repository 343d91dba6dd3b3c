package ledger

import (
	"encoding/json"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/shopspring/decimal"
)

// RecordKind names a record emitted by the factory or a registry.
type RecordKind string

const (
	KindCreated         RecordKind = "Created"
	KindMinted          RecordKind = "Minted"
	KindPriced          RecordKind = "Priced"
	KindResaleCancelled RecordKind = "ResaleCancelled"
	KindStatusChanged   RecordKind = "StatusChanged"
	KindTransferred     RecordKind = "Transferred"
)

// RawRecord is the wire shape of a ledger record, before decoding.
type RawRecord struct {
	Address     string          `json:"address"`
	BlockNumber uint64          `json:"blockNumber"`
	TxHash      string          `json:"txHash"`
	LogIndex    uint            `json:"logIndex"`
	Name        RecordKind      `json:"name"`
	Data        json.RawMessage `json:"data"`
}

// RecordMeta locates a record on the ledger.
type RecordMeta struct {
	Address     string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

func (m RecordMeta) Meta() RecordMeta { return m }

// Record is the closed set of decoded record kinds.
type Record interface {
	Kind() RecordKind
	Meta() RecordMeta
}

type Created struct {
	RecordMeta     `json:"-"`
	EventID        uint64 `json:"eventId"`
	ProgramAddress string `json:"programAddress"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	MaxSupply      uint64 `json:"maxSupply"`
}

type Minted struct {
	RecordMeta        `json:"-"`
	TokenID           uint64 `json:"tokenId"`
	Owner             string `json:"owner"`
	Creator           string `json:"creator"`
	RoyaltyPct        uint8  `json:"royaltyPct"`
	ExpectedTimestamp int64  `json:"expectedTimestamp"`
}

type Priced struct {
	RecordMeta `json:"-"`
	TokenID    uint64          `json:"tokenId"`
	Price      decimal.Decimal `json:"price"`
}

type ResaleCancelled struct {
	RecordMeta `json:"-"`
	TokenID    uint64 `json:"tokenId"`
}

type StatusChanged struct {
	RecordMeta `json:"-"`
	TokenID    uint64             `json:"tokenId"`
	Status     models.TokenStatus `json:"status"`
}

type Transferred struct {
	RecordMeta `json:"-"`
	TokenID    uint64 `json:"tokenId"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func (Created) Kind() RecordKind         { return KindCreated }
func (Minted) Kind() RecordKind          { return KindMinted }
func (Priced) Kind() RecordKind          { return KindPriced }
func (ResaleCancelled) Kind() RecordKind { return KindResaleCancelled }
func (StatusChanged) Kind() RecordKind   { return KindStatusChanged }
func (Transferred) Kind() RecordKind     { return KindTransferred }

// Decode turns a raw record into its typed form. It is the only place that
// inspects record names and payload fields.
func Decode(raw RawRecord) (Record, error) {
	meta := RecordMeta{
		Address:     NormalizeAddress(raw.Address),
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TxHash,
		LogIndex:    raw.LogIndex,
	}

	switch raw.Name {
	case KindCreated:
		var r Created
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.ProgramAddress == "" || r.MaxSupply == 0 {
			return nil, malformed(raw, "missing programAddress or maxSupply")
		}
		r.ProgramAddress = NormalizeAddress(r.ProgramAddress)
		r.Owner = NormalizeAddress(r.Owner)
		r.RecordMeta = meta
		return r, nil

	case KindMinted:
		var r Minted
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.TokenID == 0 || r.RoyaltyPct > 100 {
			return nil, malformed(raw, "invalid tokenId or royaltyPct")
		}
		r.Owner = NormalizeAddress(r.Owner)
		r.Creator = NormalizeAddress(r.Creator)
		r.RecordMeta = meta
		return r, nil

	case KindPriced:
		var r Priced
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.TokenID == 0 || !r.Price.IsPositive() {
			return nil, malformed(raw, "invalid tokenId or price")
		}
		r.RecordMeta = meta
		return r, nil

	case KindResaleCancelled:
		var r ResaleCancelled
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.TokenID == 0 {
			return nil, malformed(raw, "invalid tokenId")
		}
		r.RecordMeta = meta
		return r, nil

	case KindStatusChanged:
		var r StatusChanged
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.TokenID == 0 || !r.Status.Valid() {
			return nil, malformed(raw, "invalid tokenId or status")
		}
		r.RecordMeta = meta
		return r, nil

	case KindTransferred:
		var r Transferred
		if err := unmarshal(raw, &r); err != nil {
			return nil, err
		}
		if r.TokenID == 0 || isZeroAddress(r.To) {
			return nil, malformed(raw, "invalid tokenId or recipient")
		}
		r.From = NormalizeAddress(r.From)
		r.To = NormalizeAddress(r.To)
		r.RecordMeta = meta
		return r, nil
	}

	return nil, fmt.Errorf("%q at block %d: %w", raw.Name, raw.BlockNumber, status.ErrUnknownRecord)
}

func unmarshal(raw RawRecord, v any) error {
	if err := json.Unmarshal(raw.Data, v); err != nil {
		return fmt.Errorf("%s at block %d: %v: %w", raw.Name, raw.BlockNumber, err, status.ErrMalformedData)
	}
	return nil
}

func malformed(raw RawRecord, msg string) error {
	return fmt.Errorf("%s at block %d: %s: %w", raw.Name, raw.BlockNumber, msg, status.ErrMalformedData)
}

// encode builds the raw form of a typed record payload.
func encode(rec Record) (RecordKind, json.RawMessage) {
	data, err := json.Marshal(rec)
	if err != nil {
		// Payload types are fixed structs of scalars; marshalling cannot fail.
		panic(fmt.Sprintf("ledger: encode %s: %v", rec.Kind(), err))
	}
	return rec.Kind(), data
}
