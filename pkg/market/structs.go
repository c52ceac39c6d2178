package market

import (
	"errors"

	"github.com/google/btree"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// Rejection reasons. Every mutating operation either fully commits or
// returns exactly one of these and changes nothing.
var (
	ErrSoldOut                  = errors.New("sold out")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInsufficientAllowance    = errors.New("insufficient allowance")
	ErrSettlementTransferFailed = errors.New("settlement transfer failed")
	ErrNotForSale               = errors.New("not for sale")
	ErrInvalidOwner             = errors.New("invalid owner")
	ErrPriceExceedsCap          = errors.New("price exceeds cap")
	ErrUnauthorized             = errors.New("unauthorized")
)

// SettlementLedger is the settlement currency collaborator. The market
// only pulls funds it was granted an allowance for, and spends funds
// held by its own escrow account.
type SettlementLedger interface {
	Allowance(owner, spender int64) decimal.Decimal
	TransferFrom(spender, payer, payee int64, amount decimal.Decimal) error
	Transfer(from, to int64, amount decimal.Decimal) error
}

// AssetRegistry is the unique-asset collaborator. It is the sole source
// of truth for pass ownership; the market never mirrors owners.
type AssetRegistry interface {
	Mint(to, assetID int64) error
	Transfer(from, to, assetID int64) error
	OwnerOf(assetID int64) (owner int64, ok bool)
}

// Pass is the market's record for one issued pass. Ownership lives in
// the asset registry; the record only tracks trade-price history and
// the listing state.
//
// Invariant: SellPrice == 0 exactly when SellIndex == -1.
type Pass struct {
	ID           int64 `json:"id"`
	LastBuyPrice int64 `json:"lastBuyPrice"`
	SellPrice    int64 `json:"sellPrice"` // 0 means not listed
	SellIndex    int64 `json:"sellIndex"` // position in the listing index, -1 means not listed
	Seller       int64 `json:"seller"`    // payout account while listed, 0 otherwise
}

// MarketMsg carries a NATS intent into the market's handler loop.
type MarketMsg struct {
	N *nats.Msg
}

// MarketLog is one journal record, written after every settled mutation.
type MarketLog struct {
	LogID  int64  `json:"logID"`
	Ts     int64  `json:"ts"`
	MsgSeq uint64 `json:"msgSeq,omitempty"` // NATS msg stream sequence

	TradeLogs []TradeLog `json:"trades,omitempty"`
	PassLogs  []PassLog  `json:"passes,omitempty"`
	SupplyLog *SupplyLog `json:"supply,omitempty"`
}

// TradeLog records one settled trade.
type TradeLog struct {
	LogIndex int64 `json:"logIndex"`

	Kind    string `json:"kind"` // primary | secondary
	PassID  int64  `json:"passID"`
	Buyer   int64  `json:"buyer"`
	Seller  int64  `json:"seller"` // organizer on primary sales
	Amount  int64  `json:"amount"`
	Royalty int64  `json:"royalty"`
	Time    int64  `json:"time"`
}

// PassLog records a pass's full state after the operation. The writer
// upserts the durable pass row from it.
type PassLog struct {
	LogIndex int64 `json:"logIndex"`

	ID           int64 `json:"id"`
	Owner        int64 `json:"owner"` // registry owner of record after the op
	Seller       int64 `json:"seller"`
	LastBuyPrice int64 `json:"lastBuyPrice"`
	SellPrice    int64 `json:"sellPrice"`
	SellIndex    int64 `json:"sellIndex"`
}

// SupplyLog records the supply counters after the operation.
type SupplyLog struct {
	Remaining  int64 `json:"remaining"`
	NextPassID int64 `json:"nextPassID"`
}

const (
	TradeKindPrimary   = "primary"
	TradeKindSecondary = "secondary"
)

// Ask is one open listing in the price-sorted browse view.
type Ask struct {
	PassID int64
	Price  int64
}

// Less orders asks by price, cheapest first, pass ID as tiebreak.
func (a Ask) Less(item btree.Item) bool {
	b, _ := item.(Ask)

	if a.Price == b.Price {
		return a.PassID < b.PassID
	}

	return a.Price < b.Price
}
