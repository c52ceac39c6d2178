package market

import (
	"encoding/json"
	"errors"
	"time"

	"gatepass/pkg/xetcd"
	"gatepass/pkg/xnats"

	"github.com/nats-io/nats.go"
)

// SubNats subscribes to intents from ingress via NATS
func (m *Market) SubNats() (err error) {
	natsUrl, err := xetcd.Get(xetcd.KeyMarketNats(m.Venue))
	if err != nil {
		return
	}

	nc, err := nats.Connect(natsUrl)
	if err != nil {
		return
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return
	}

	m.mu.Lock()
	if m.js == nil {
		m.js = js
	}
	m.mu.Unlock()

	ch2 := make(chan *nats.Msg, 256)
	_, err = js.ChanSubscribe(xnats.SubjectReq(m.Venue), ch2, nats.StartSequence(m.LatestMsgSeq+1), nats.AckAll())
	if err != nil {
		return
	}

	for {
		msg, ok := <-ch2
		if !ok {
			return
		}
		m.ch <- MarketMsg{N: msg}
	}
}

type ackPayload struct {
	msg *nats.Msg
	seq uint64
}

// HandleMarketMsgs handles intents from the natscli thread sequentially
func (m *Market) HandleMarketMsgs() (err error) {
	// ack msgs in batch: only the latest seq matters with AckAll
	chAck := make(chan ackPayload, 1024)

	go func() {
		var latest ackPayload
		for {
			mp := <-chAck
			if mp.seq > latest.seq {
				latest = mp
			}
			// drain whatever queued up
			l := len(chAck)
			for i := 0; i < l; i++ {
				mp = <-chAck
				if mp.seq > latest.seq {
					latest = mp
				}
			}
			err := latest.msg.Ack()
			if err != nil {
				logger.Errorf("msg(%v) ack failed with err:%s", latest.seq, err)
				continue
			}
			logger.Debugf("msg(%v) ack done", latest.seq)
		}
	}()

	for {
		ms, ok := <-m.ch
		if !ok {
			return
		}

		if ms.N != nil {
			err = m.HandleMarketReq(ms.N, chAck)
			if err != nil {
				return
			}
		}
	}
}

// isRejection reports whether err is a terminal per-request rejection
// rather than an infrastructure failure. Rejections are acked; anything
// else is left for redelivery.
func isRejection(err error) bool {
	for _, e := range []error{
		ErrSoldOut,
		ErrInvalidAmount,
		ErrInsufficientAllowance,
		ErrSettlementTransferFailed,
		ErrNotForSale,
		ErrInvalidOwner,
		ErrPriceExceedsCap,
		ErrUnauthorized,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func (m *Market) HandleMarketReq(msg *nats.Msg, chAck chan ackPayload) (err error) {
	var req xnats.MarketReq
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Errorf("Unmarshal MarketReq failed with data:%s, err:%s", msg.Data, err)
		return nil
	}

	md, err := msg.Metadata()
	if err != nil {
		return
	}
	seq := md.Sequence.Stream

	logger.Tracef("HandleMarketReq msg:%s, seq:%d", msg.Subject, seq)

	// the public API methods also advance LatestMsgSeq under the lock
	m.mu.RLock()
	latest := m.LatestMsgSeq
	m.mu.RUnlock()

	if seq <= latest {
		logger.Warningf("md.Sequence.Stream(%d) <= m.LatestMsgSeq(%d)", seq, latest)
		chAck <- ackPayload{msg: msg, seq: seq}
		return nil
	}

	m.mu.Lock()
	switch req.Type {
	case xnats.MarketReqTypePrimary:
		_, err = m.primaryPurchase(req.Account, req.Amount, seq)
	case xnats.MarketReqTypeSell:
		err = m.secondarySell(req.Account, req.PassID, req.Amount, seq)
	case xnats.MarketReqTypeBuy:
		err = m.secondaryPurchase(req.Account, req.PassID, req.Amount, seq)
	default:
		logger.Warningf("unknown MarketReq type:%s", req.Type)
	}
	m.mu.Unlock()

	if err != nil {
		if isRejection(err) {
			logger.Warningf("MarketReq type:%s account:%d rejected with err:%s", req.Type, req.Account, err)
			m.mu.Lock()
			m.LatestMsgSeq = seq
			m.mu.Unlock()
			chAck <- ackPayload{msg: msg, seq: seq}
			return nil
		}
		return
	}

	chAck <- ackPayload{msg: msg, seq: seq}

	return nil
}

func (m *Market) publishTrade(tl TradeLog) {
	if m.js == nil {
		return
	}

	ev := xnats.TradeEvent{
		Venue:   m.Venue,
		Kind:    tl.Kind,
		PassID:  tl.PassID,
		Buyer:   tl.Buyer,
		Seller:  tl.Seller,
		Amount:  tl.Amount,
		Royalty: tl.Royalty,
		Time:    tl.Time,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	_, err = m.js.PublishAsync(xnats.SubjectTrade(m.Venue), b)
	if err != nil {
		logger.Warningf("publishTrade failed with err:%s", err)
	}
}

func (m *Market) publishListing(passID, seller, askPrice int64) {
	if m.js == nil {
		return
	}

	ev := xnats.ListingEvent{
		Venue:    m.Venue,
		PassID:   passID,
		Seller:   seller,
		AskPrice: askPrice,
		Time:     time.Now().Unix(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	_, err = m.js.PublishAsync(xnats.SubjectListing(m.Venue), b)
	if err != nil {
		logger.Warningf("publishListing failed with err:%s", err)
	}
}
