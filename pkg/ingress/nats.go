package ingress

import (
	"encoding/json"
	"strings"
	"time"

	"gatepass/pkg/xetcd"
	"gatepass/pkg/xnats"

	"github.com/nats-io/nats.go"
)

// Worker is the ingress gateway: it turns caller requests into market
// intents and publishes them to the venue's JetStream subject.
type Worker struct {
	Nats map[string]nats.JetStreamContext // venue -> js
}

func New() *Worker {
	return &Worker{
		Nats: map[string]nats.JetStreamContext{},
	}
}

func (w *Worker) GetNats(venue string) (js nats.JetStreamContext, err error) {
	if w.Nats[venue] != nil {
		return w.Nats[venue], nil
	}

	natsUrl, err := xetcd.Get(xetcd.KeyMarketNats(venue))
	if err != nil {
		return
	}

	// Connect to NATS
	nc, err := nats.Connect(natsUrl)
	if err != nil {
		return
	}

	// Create JetStream Context
	js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return
	}
	w.Nats[venue] = js

	return
}

func (w *Worker) SendMarketReq(venue string, msg xnats.MarketReq) (err error) {
	venue = strings.ToUpper(venue)

	js, err := w.GetNats(venue)
	if err != nil {
		return
	}

	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, err = js.Publish(xnats.SubjectReq(venue), data)

	return
}

// SendPrimaryPurchase publishes a primary purchase intent.
func (w *Worker) SendPrimaryPurchase(venue string, account, amount int64) (err error) {
	return w.SendMarketReq(venue, xnats.MarketReq{
		Type:    xnats.MarketReqTypePrimary,
		Account: account,
		Amount:  amount,
	})
}

// SendSecondarySell publishes a listing intent.
func (w *Worker) SendSecondarySell(venue string, account, passID, askPrice int64) (err error) {
	return w.SendMarketReq(venue, xnats.MarketReq{
		Type:    xnats.MarketReqTypeSell,
		Account: account,
		PassID:  passID,
		Amount:  askPrice,
	})
}

// SendSecondaryPurchase publishes a buy intent for a listed pass.
func (w *Worker) SendSecondaryPurchase(venue string, account, passID, amount int64) (err error) {
	return w.SendMarketReq(venue, xnats.MarketReq{
		Type:    xnats.MarketReqTypeBuy,
		Account: account,
		PassID:  passID,
		Amount:  amount,
	})
}
