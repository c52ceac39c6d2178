package market

import (
	"encoding/json"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"gatepass/pkg/config"
	"gatepass/pkg/filedb"
	"gatepass/pkg/xlog"

	"github.com/go-redis/redis/v8"
	"github.com/google/btree"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// Market is the pass market for one venue: primary issuance while the
// supply lasts, then a secondary market where listed passes sit in the
// market's escrow until bought back at a capped price.
//
// All mutating operations serialize on a single lock. Everything else
// (writer thread, NATS thread) only touches the journal and MySQL.
type Market struct {
	Name  string // e.g. Market_MAINHALL
	Venue string // e.g. MAINHALL
	State string

	Organizer int64 // receives primary proceeds and resale royalties
	Escrow    int64 // the market's own settlement account, also holds listed passes

	LogID        int64  // ID of the latest journal record
	LatestMsgSeq uint64 // stream sequence of the latest NATS msg applied
	SavedLogID   int64  // ID of the log already written to MySQL

	remaining  int64 // passes left in the primary supply
	price      int64 // fixed primary price
	royaltyPct int64 // resale royalty, whole percent
	nextPassID int64 // next id to issue, 0-based, never reused

	passes   map[int64]*Pass
	listings *ListingIndex
	asks     *btree.BTree // browse view, cheapest ask first

	ledger   SettlementLedger
	registry AssetRegistry

	mu  sync.RWMutex
	ch  chan MarketMsg
	fdb *filedb.Filedb
	js  nats.JetStreamContext
	rds *redis.Client
}

var logger = xlog.GetLogger()

// Config carries the venue bootstrap parameters for New.
type Config struct {
	Venue      string
	Organizer  int64
	Escrow     int64
	Supply     int64
	Price      int64
	RoyaltyPct int64

	// JournalPath overrides the default journal location under the
	// configured data dir. Tests point it at a temp dir.
	JournalPath string
}

// New returns a Market instance and completes some preparatory work
// before the worker starts working
func New(cfg Config, sl SettlementLedger, ar AssetRegistry) (m *Market, err error) {
	venue := strings.ToUpper(cfg.Venue)
	if venue == "" {
		return nil, errors.New("invalid venue")
	}
	if cfg.Price <= 0 {
		return nil, errors.New("invalid price")
	}
	if sl == nil || ar == nil {
		return nil, errors.New("missing collaborator")
	}

	m = &Market{
		Name:  "Market_" + venue,
		Venue: venue,

		Organizer: cfg.Organizer,
		Escrow:    cfg.Escrow,

		remaining:  cfg.Supply,
		price:      cfg.Price,
		royaltyPct: cfg.RoyaltyPct,

		passes:   map[int64]*Pass{},
		listings: NewListingIndex(),
		asks:     btree.New(8),

		ledger:   sl,
		registry: ar,

		ch: make(chan MarketMsg, 1024),

		State: "Init",
	}

	_, err = m.Filedb(cfg.JournalPath)
	if err != nil {
		return nil, err
	}

	// Read the last logID from the journal
	txt, err := m.fdb.ReadLastLine()
	if err != nil {
		return nil, err
	}
	if txt != "" {
		ml := MarketLog{}
		err = json.Unmarshal([]byte(txt), &ml)
		if err != nil {
			return nil, err
		}
		m.LogID = ml.LogID
		m.LatestMsgSeq = ml.MsgSeq
	}

	logger.Info("market worker created")
	return
}

// Filedb returns the current working journal instance
func (m *Market) Filedb(journalPath string) (fdb *filedb.Filedb, err error) {
	if m.fdb != nil {
		return m.fdb, nil
	}

	if journalPath == "" {
		journalPath = path.Join(config.Shared.DataDir, "filedb", strings.ToLower(m.Name)+".log")
	}

	fdb, err = filedb.New(journalPath)
	if err != nil {
		return nil, err
	}

	fdb.ReplayHandler = m.ParseAndWriteLogs

	m.fdb = fdb
	return m.fdb, nil
}

// UseNats attaches a JetStream context for trade and listing events.
func (m *Market) UseNats(js nats.JetStreamContext) { m.js = js }

// UseRedis attaches a redis client for the listing snapshot cache.
func (m *Market) UseRedis(rds *redis.Client) { m.rds = rds }

// Run starts the service
//
//	a. Main thread: receive MarketReqs from ingress via chan, process
//	sequentially (settle, update memory, write journal)
//	b. writer thread: read journal records, write to MySQL in batches
//	c. natscli thread: subscribe to intents from ingress, forward to the
//	main thread via chan
func (m *Market) Run() (err error) {

	go m.StartWriter()

	// wait for mysql.SavedLogID to catch up with the journal
	m.State = "WaitForFiledb"

	err = m.WaitForFiledb()
	if err != nil {
		return
	}

	m.State = "LoadingState"

	err = m.LoadState()
	if err != nil {
		return
	}

	m.State = "Working"

	go m.StartSubNats()

	err = m.HandleMarketMsgs()

	return
}

// StartWriter reads records from the journal and writes them to MySQL
func (m *Market) StartWriter() (err error) {
	round := 0
	for {
		round++
		logger.Infof("StartWriter round:%d started", round)
		err = m.FiledbToMySQL()
		if err != nil {
			logger.Errorf("StartWriter round:%d failed with err:%s", round, err)
		} else {
			logger.Infof("StartWriter round:%d done", round)
		}
		time.Sleep(time.Second)
	}
}

func (m *Market) StartSubNats() (err error) {
	round := 0
	for {
		round++
		logger.Infof("StartSubNats round:%d started", round)
		err = m.SubNats()
		if err != nil {
			logger.Errorf("StartSubNats round:%d failed with err:%s", round, err)
		} else {
			logger.Infof("StartSubNats round:%d done", round)
		}
		time.Sleep(time.Second)
	}
}

// PrimaryPurchase sells the next pass from the remaining supply to
// buyer at the fixed price. amountToPay must equal the price exactly;
// the funds move straight to the organizer and the registry mints the
// new pass to the buyer.
func (m *Market) PrimaryPurchase(buyer, amountToPay int64) (passID int64, err error) {
	defer func() {
		if err != nil {
			logger.Debugf("PrimaryPurchase buyer:%d amount:%d rejected with err:%s", buyer, amountToPay, err)
		} else {
			logger.Infof("PrimaryPurchase buyer:%d amount:%d done with pass:%d", buyer, amountToPay, passID)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.primaryPurchase(buyer, amountToPay, 0)
}

func (m *Market) primaryPurchase(buyer, amountToPay int64, msgSeq uint64) (passID int64, err error) {
	if m.remaining <= 0 {
		return 0, ErrSoldOut
	}
	if amountToPay != m.price {
		return 0, ErrInvalidAmount
	}

	pay := decimal.NewFromInt(amountToPay)
	if m.ledger.Allowance(buyer, m.Escrow).LessThan(pay) {
		return 0, ErrInsufficientAllowance
	}

	passID = m.nextPassID
	if _, ok := m.registry.OwnerOf(passID); ok {
		return 0, errors.New("pass id already minted")
	}

	err = m.ledger.TransferFrom(m.Escrow, buyer, m.Organizer, pay)
	if err != nil {
		return 0, ErrSettlementTransferFailed
	}

	err = m.registry.Mint(buyer, passID)
	if err != nil {
		// unwind the payment; the registry refused a fresh id
		m.ledger.Transfer(m.Organizer, buyer, pay)
		return 0, err
	}

	// update data in memory
	m.remaining--
	m.nextPassID++
	m.LogID++
	p := &Pass{ID: passID, LastBuyPrice: amountToPay, SellPrice: 0, SellIndex: -1}
	m.passes[passID] = p

	defer func() {
		if err != nil {
			m.remaining++
			m.LogID--
			delete(m.passes, passID)
			// the id stays burned; refund and park the pass in escrow
			m.ledger.Transfer(m.Organizer, buyer, pay)
			m.registry.Transfer(buyer, m.Escrow, passID)
		}
	}()

	now := time.Now()
	ml := MarketLog{
		LogID:  m.LogID,
		Ts:     now.UnixNano(),
		MsgSeq: msgSeq,

		TradeLogs: []TradeLog{{
			LogIndex: 1,
			Kind:     TradeKindPrimary,
			PassID:   passID,
			Buyer:    buyer,
			Seller:   m.Organizer,
			Amount:   amountToPay,
			Royalty:  0,
			Time:     now.Unix(),
		}},
		PassLogs: []PassLog{{
			LogIndex:     2,
			ID:           passID,
			Owner:        buyer,
			LastBuyPrice: amountToPay,
			SellPrice:    0,
			SellIndex:    -1,
		}},
		SupplyLog: &SupplyLog{Remaining: m.remaining, NextPassID: m.nextPassID},
	}

	err = m.writeLog(ml)
	if err != nil {
		return 0, err
	}

	if msgSeq > 0 {
		m.LatestMsgSeq = msgSeq
	}

	m.publishTrade(ml.TradeLogs[0])

	return passID, nil
}

// SecondarySell lists the seller's pass for resale at askPrice. The
// pass moves into the market's escrow; the ask may not exceed the cap
// of lastBuyPrice*21/10.
func (m *Market) SecondarySell(seller, passID, askPrice int64) (err error) {
	defer func() {
		if err != nil {
			logger.Debugf("SecondarySell seller:%d pass:%d ask:%d rejected with err:%s", seller, passID, askPrice, err)
		} else {
			logger.Infof("SecondarySell seller:%d pass:%d ask:%d done", seller, passID, askPrice)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.secondarySell(seller, passID, askPrice, 0)
}

func (m *Market) secondarySell(seller, passID, askPrice int64, msgSeq uint64) (err error) {
	p, ok := m.passes[passID]
	if !ok {
		return ErrInvalidOwner
	}

	// a listed pass is owned by the escrow, so a second listing attempt
	// also fails here
	owner, ok := m.registry.OwnerOf(passID)
	if !ok || owner != seller {
		return ErrInvalidOwner
	}

	if askPrice <= 0 {
		return ErrInvalidAmount
	}
	if askPrice > p.LastBuyPrice*21/10 {
		return ErrPriceExceedsCap
	}

	err = m.registry.Transfer(seller, m.Escrow, passID)
	if err != nil {
		return err
	}

	// update data in memory
	idx := m.listings.Append(passID)
	p.SellPrice = askPrice
	p.SellIndex = idx
	p.Seller = seller
	m.LogID++

	defer func() {
		if err != nil {
			m.listings.Remove(idx)
			p.SellPrice = 0
			p.SellIndex = -1
			p.Seller = 0
			m.LogID--
			m.registry.Transfer(m.Escrow, seller, passID)
		}
	}()

	ml := MarketLog{
		LogID:  m.LogID,
		Ts:     time.Now().UnixNano(),
		MsgSeq: msgSeq,

		PassLogs: []PassLog{{
			LogIndex:     1,
			ID:           passID,
			Owner:        m.Escrow,
			Seller:       seller,
			LastBuyPrice: p.LastBuyPrice,
			SellPrice:    askPrice,
			SellIndex:    idx,
		}},
	}

	err = m.writeLog(ml)
	if err != nil {
		return err
	}

	if msgSeq > 0 {
		m.LatestMsgSeq = msgSeq
	}

	m.asks.ReplaceOrInsert(Ask{PassID: passID, Price: askPrice})
	m.cacheListings()
	m.publishListing(passID, seller, askPrice)

	return nil
}

// SecondaryPurchase buys a listed pass for buyer. amountToPay must
// equal the ask exactly; the organizer takes amount*royaltyPct/100 and
// the seller the rest, then the pass leaves escrow for the buyer.
func (m *Market) SecondaryPurchase(buyer, passID, amountToPay int64) (err error) {
	defer func() {
		if err != nil {
			logger.Debugf("SecondaryPurchase buyer:%d pass:%d amount:%d rejected with err:%s", buyer, passID, amountToPay, err)
		} else {
			logger.Infof("SecondaryPurchase buyer:%d pass:%d amount:%d done", buyer, passID, amountToPay)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.secondaryPurchase(buyer, passID, amountToPay, 0)
}

func (m *Market) secondaryPurchase(buyer, passID, amountToPay int64, msgSeq uint64) (err error) {
	p, ok := m.passes[passID]
	if !ok || p.SellPrice == 0 {
		return ErrNotForSale
	}
	if amountToPay != p.SellPrice {
		return ErrInvalidAmount
	}

	pay := decimal.NewFromInt(amountToPay)
	if m.ledger.Allowance(buyer, m.Escrow).LessThan(pay) {
		return ErrInsufficientAllowance
	}

	royalty := amountToPay * m.royaltyPct / 100
	sellerShare := amountToPay - royalty
	seller := p.Seller

	shareD := decimal.NewFromInt(sellerShare)
	royaltyD := decimal.NewFromInt(royalty)

	// pull the full amount into escrow first, then split; a failed leg
	// refunds from escrow
	err = m.ledger.TransferFrom(m.Escrow, buyer, m.Escrow, pay)
	if err != nil {
		return ErrSettlementTransferFailed
	}
	err = m.ledger.Transfer(m.Escrow, seller, shareD)
	if err != nil {
		m.ledger.Transfer(m.Escrow, buyer, pay)
		return ErrSettlementTransferFailed
	}
	if royalty > 0 {
		err = m.ledger.Transfer(m.Escrow, m.Organizer, royaltyD)
		if err != nil {
			m.ledger.Transfer(seller, m.Escrow, shareD)
			m.ledger.Transfer(m.Escrow, buyer, pay)
			return ErrSettlementTransferFailed
		}
	}

	err = m.registry.Transfer(m.Escrow, buyer, passID)
	if err != nil {
		m.ledger.Transfer(seller, m.Escrow, shareD)
		if royalty > 0 {
			m.ledger.Transfer(m.Organizer, m.Escrow, royaltyD)
		}
		m.ledger.Transfer(m.Escrow, buyer, pay)
		return err
	}

	// update data in memory
	oldIdx := p.SellIndex
	oldPrice := p.SellPrice
	oldLBP := p.LastBuyPrice

	movedID := m.listings.Remove(oldIdx)
	if movedID >= 0 {
		m.passes[movedID].SellIndex = oldIdx
	}
	p.SellPrice = 0
	p.SellIndex = -1
	p.Seller = 0
	p.LastBuyPrice = amountToPay
	m.LogID++

	defer func() {
		if err != nil {
			// undo the swap-remove: moved entry back to the tail, the
			// bought pass back to its slot
			if movedID >= 0 {
				m.listings.Append(movedID)
				m.listings.ids[oldIdx] = passID
				m.passes[movedID].SellIndex = int64(m.listings.Len() - 1)
			} else {
				m.listings.Append(passID)
			}
			p.SellPrice = oldPrice
			p.SellIndex = oldIdx
			p.Seller = seller
			p.LastBuyPrice = oldLBP
			m.LogID--

			m.ledger.Transfer(seller, m.Escrow, shareD)
			if royalty > 0 {
				m.ledger.Transfer(m.Organizer, m.Escrow, royaltyD)
			}
			m.ledger.Transfer(m.Escrow, buyer, pay)
			m.registry.Transfer(buyer, m.Escrow, passID)
		}
	}()

	now := time.Now()
	ml := MarketLog{
		LogID:  m.LogID,
		Ts:     now.UnixNano(),
		MsgSeq: msgSeq,

		TradeLogs: []TradeLog{{
			LogIndex: 1,
			Kind:     TradeKindSecondary,
			PassID:   passID,
			Buyer:    buyer,
			Seller:   seller,
			Amount:   amountToPay,
			Royalty:  royalty,
			Time:     now.Unix(),
		}},
		PassLogs: []PassLog{{
			LogIndex:     2,
			ID:           passID,
			Owner:        buyer,
			LastBuyPrice: amountToPay,
			SellPrice:    0,
			SellIndex:    -1,
		}},
	}
	if movedID >= 0 {
		mp := m.passes[movedID]
		ml.PassLogs = append(ml.PassLogs, PassLog{
			LogIndex:     3,
			ID:           movedID,
			Owner:        m.Escrow,
			Seller:       mp.Seller,
			LastBuyPrice: mp.LastBuyPrice,
			SellPrice:    mp.SellPrice,
			SellIndex:    mp.SellIndex,
		})
	}

	err = m.writeLog(ml)
	if err != nil {
		return err
	}

	if msgSeq > 0 {
		m.LatestMsgSeq = msgSeq
	}

	m.asks.Delete(Ask{PassID: passID, Price: oldPrice})
	m.cacheListings()
	m.publishTrade(ml.TradeLogs[0])

	return nil
}

func (m *Market) writeLog(ml MarketLog) (err error) {
	b, err := json.Marshal(ml)
	if err != nil {
		return
	}
	return m.fdb.WriteLine(string(b) + "\n")
}

// SetPrice overwrites the primary price. Organizer only.
func (m *Market) SetPrice(caller, price int64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.Organizer {
		return ErrUnauthorized
	}
	m.price = price
	logger.Infof("SetPrice done with price:%d", price)
	return nil
}

// SetRoyaltyPct overwrites the resale royalty percentage. Organizer only.
func (m *Market) SetRoyaltyPct(caller, pct int64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.Organizer {
		return ErrUnauthorized
	}
	m.royaltyPct = pct
	logger.Infof("SetRoyaltyPct done with pct:%d", pct)
	return nil
}

// SetRemaining overwrites the remaining primary supply. Organizer only.
// The change is journaled so the writer keeps the durable counter.
func (m *Market) SetRemaining(caller, remaining int64) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.Organizer {
		return ErrUnauthorized
	}

	old := m.remaining
	m.remaining = remaining
	m.LogID++

	defer func() {
		if err != nil {
			m.remaining = old
			m.LogID--
		}
	}()

	err = m.writeLog(MarketLog{
		LogID:     m.LogID,
		Ts:        time.Now().UnixNano(),
		SupplyLog: &SupplyLog{Remaining: m.remaining, NextPassID: m.nextPassID},
	})
	if err != nil {
		return err
	}

	logger.Infof("SetRemaining done with remaining:%d", remaining)
	return nil
}

// SetLedger swaps the settlement currency collaborator. Organizer only.
func (m *Market) SetLedger(caller int64, sl SettlementLedger) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.Organizer {
		return ErrUnauthorized
	}
	m.ledger = sl
	return nil
}

// SetRegistry swaps the asset registry collaborator. Organizer only.
func (m *Market) SetRegistry(caller int64, ar AssetRegistry) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.Organizer {
		return ErrUnauthorized
	}
	m.registry = ar
	return nil
}

// Ledger returns the current settlement currency collaborator.
func (m *Market) Ledger() SettlementLedger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger
}

// Registry returns the current asset registry collaborator.
func (m *Market) Registry() AssetRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// Remaining returns the passes left in the primary supply.
func (m *Market) Remaining() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remaining
}

// Price returns the fixed primary price.
func (m *Market) Price() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.price
}

// RoyaltyPct returns the resale royalty percentage.
func (m *Market) RoyaltyPct() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.royaltyPct
}

// NextPassID returns the id the next primary sale will mint.
func (m *Market) NextPassID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextPassID
}

// PassInfo returns the market record for a pass. Unknown ids return the
// zero record.
func (m *Market) PassInfo(passID int64) Pass {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.passes[passID]
	if !ok {
		return Pass{}
	}
	return *p
}

// OwnerOf resolves the registry owner of a pass. Listed passes resolve
// to the escrow account.
func (m *Market) OwnerOf(passID int64) (owner int64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.OwnerOf(passID)
}

// Listings returns the listed pass IDs in index order.
func (m *Market) Listings() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listings.IDs()
}

// AsksByPrice returns up to limit open asks, cheapest first. limit <= 0
// returns all of them.
func (m *Market) AsksByPrice(limit int) (asks []Ask) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.asks.Ascend(func(item btree.Item) bool {
		asks = append(asks, item.(Ask))
		return limit <= 0 || len(asks) < limit
	})
	return asks
}
