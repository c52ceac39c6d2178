// Package xnats defines the wire structures exchanged over NATS between
// the ingress gateway and the market worker.
package xnats

// MarketReq is a trade intent, sent from ingress to the market.
type MarketReq struct {
	Type    string `json:"type"`    // Primary | Sell | Buy
	Account int64  `json:"account"` // buyer or seller account handle
	PassID  int64  `json:"passID"`  // ignored for Primary
	Amount  int64  `json:"amount"`  // payment for Primary/Buy, ask price for Sell
	Time    int64  `json:"time"`    // intent creation time, in nanoseconds
}

const (
	MarketReqTypePrimary = "Primary"
	MarketReqTypeSell    = "Sell"
	MarketReqTypeBuy     = "Buy"
)

// TradeEvent is published by the market after a settled trade.
type TradeEvent struct {
	Venue  string `json:"venue"`
	Kind   string `json:"kind"` // primary | secondary
	PassID int64  `json:"passID"`

	Buyer   int64 `json:"buyer"`
	Seller  int64 `json:"seller"` // organizer on primary sales
	Amount  int64 `json:"amount"`
	Royalty int64 `json:"royalty"`

	Time int64 `json:"time"`
}

// ListingEvent is published by the market when a pass is listed.
type ListingEvent struct {
	Venue    string `json:"venue"`
	PassID   int64  `json:"passID"`
	Seller   int64  `json:"seller"`
	AskPrice int64  `json:"askPrice"`
	Time     int64  `json:"time"`
}

// SubjectReq is the intent subject for a venue, e.g. MARKET.MAINHALL.Req
func SubjectReq(venue string) string {
	return "MARKET." + venue + ".Req"
}

// SubjectTrade is the trade event subject for a venue
func SubjectTrade(venue string) string {
	return "MARKET." + venue + ".Trade"
}

// SubjectListing is the listing event subject for a venue
func SubjectListing(venue string) string {
	return "MARKET." + venue + ".Listing"
}
