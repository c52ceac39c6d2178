package market

import (
	"fmt"
	"sort"
	"strings"

	"gatepass/pkg/model"

	"github.com/google/btree"
)

// LoadState rebuilds the in-memory market from MySQL: pass records,
// the listing index in SellIndex order, the ask tree, and the watermark
// counters. Call only after WaitForFiledb so the rows are current.
func (m *Market) LoadState() (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("LoadState failed with err:%s", err)
		} else {
			logger.Infof("LoadState done with passes:%d, listings:%d, remaining:%d, nextPassID:%d, latestMsgSeq:%d",
				len(m.passes), m.listings.Len(), m.remaining, m.nextPassID, m.LatestMsgSeq)
		}
	}()

	db := model.GetMySQL()

	var rows []model.Pass
	err = db.Scopes(model.PassTable(m.Venue)).Order("id asc").Find(&rows).Error
	if err != nil {
		return
	}

	m.passes = map[int64]*Pass{}
	m.listings = NewListingIndex()
	m.asks = btree.New(8)

	listed := make([]*Pass, 0)
	maxID := int64(-1)

	for _, row := range rows {
		p := &Pass{
			ID:           row.ID,
			LastBuyPrice: row.LastBuyPrice,
			SellPrice:    row.SellPrice,
			SellIndex:    row.SellIndex,
			Seller:       row.Seller,
		}
		m.passes[p.ID] = p
		if p.SellIndex >= 0 {
			listed = append(listed, p)
		}
		if row.ID > maxID {
			maxID = row.ID
		}
	}

	sort.Slice(listed, func(i, j int) bool { return listed[i].SellIndex < listed[j].SellIndex })
	for i, p := range listed {
		if p.SellIndex != int64(i) {
			return fmt.Errorf("listing index has a hole at %d (pass %d)", i, p.ID)
		}
		m.listings.Append(p.ID)
		m.asks.ReplaceOrInsert(Ask{PassID: p.ID, Price: p.SellPrice})
	}

	var lastkvs []model.Lastkv
	err = db.Model(model.Lastkv{}).Where("`app`=?", strings.ToLower(m.Name)).Find(&lastkvs).Error
	if err != nil {
		return
	}

	nextFromKv := int64(0)
	for _, item := range lastkvs {
		switch item.Key {
		case model.LASTKV_K_NATS_SEQ:
			m.LatestMsgSeq = uint64(item.Val)
		case model.LASTKV_K_REMAINING_SUPPLY:
			// the writer seeds the row with the bootstrap supply, so a
			// present row is always the current counter
			m.remaining = item.Val
		case model.LASTKV_K_NEXT_PASS_ID:
			nextFromKv = item.Val
		}
	}

	// ids start at 0 and are never reused, even across restarts
	m.nextPassID = maxID + 1
	if nextFromKv > m.nextPassID {
		m.nextPassID = nextFromKv
	}

	m.cacheListings()

	return
}
