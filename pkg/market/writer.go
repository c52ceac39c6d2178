package market

import (
	"encoding/json"
	"strings"
	"time"

	"gatepass/pkg/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FiledbToMySQL retrieves journal records in real-time and writes them to MySQL
func (m *Market) FiledbToMySQL() (err error) {
	ch := make(chan string, 1000)

	m.SavedLogID, err = m.LoadSavedLogID()
	if err != nil {
		return
	}

	// checkout lastkv rows so the writer can blind-update them later;
	// the supply row starts at the bootstrap supply, not zero
	for key, val := range map[string]int64{
		model.LASTKV_K_NATS_SEQ:         0,
		model.LASTKV_K_SAVED_LOG_ID:     0,
		model.LASTKV_K_REMAINING_SUPPLY: m.Remaining(),
		model.LASTKV_K_NEXT_PASS_ID:     0,
	} {
		_, err = m.CheckoutLastKv("", key, val)
		if err != nil {
			return
		}
	}

	go func() {
		err = m.fdb.Tailf(ch)
		if err != nil {
			close(ch)
		}
	}()

	err2 := m.fdb.Replay(ch)
	if err == nil {
		err = err2
	}

	return
}

// LoadSavedLogID reads the writer's watermark from MySQL
func (m *Market) LoadSavedLogID() (id int64, err error) {
	defer func() {
		if err != nil {
			logger.Errorf("LoadSavedLogID failed with err:%s", err)
		} else {
			logger.Infof("LoadSavedLogID done with id:%d", id)
		}
	}()

	db := model.GetMySQL()

	var kv model.Lastkv
	err = db.Model(model.Lastkv{}).
		Where(model.Lastkv{App: strings.ToLower(m.Name), Key: model.LASTKV_K_SAVED_LOG_ID}).
		Limit(1).Find(&kv).Error
	if err != nil {
		return
	}
	id = kv.Val

	return
}

func (m *Market) CheckoutLastKv(app, key string, val int64) (kv model.Lastkv, err error) {
	if app == "" {
		app = strings.ToLower(m.Name)
	}

	db := model.GetMySQL()

	kv = model.Lastkv{
		App: app,
		Key: key,
	}
	err = db.Model(model.Lastkv{}).Where(kv).Limit(1).Find(&kv).Error
	if err != nil {
		return
	}
	if kv.ID > 0 {
		return
	}

	kv.Val = val
	err = db.Model(model.Lastkv{}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app"}, {Name: "key"}},
			DoNothing: true,
		}).
		Create(&kv).Error
	if err != nil {
		return
	}

	return
}

func tradeKindToInt8(kind string) int8 {
	switch kind {
	case TradeKindPrimary:
		return model.TradeKindPrimary
	case TradeKindSecondary:
		return model.TradeKindSecondary
	}
	return 0
}

// ParseAndWriteLogs parses journal records and writes them to MySQL
func (m *Market) ParseAndWriteLogs(ss []string) (err error) {
	latestLogID := int64(0)
	latestMsgSeq := int64(0)

	newTrades := make([]model.Trade, 0)
	upsertPasses := make(map[int64]model.Pass)
	var lastSupply *SupplyLog

	// ----- Parse the last record first; if its logID is already saved, skip the batch
	ol := new(MarketLog)
	err = json.Unmarshal([]byte(ss[len(ss)-1]), ol)
	if err != nil {
		logger.Errorf("ParseAndWriteLogs failed with data:%s, err:%s", ss[len(ss)-1], err)
		return
	}
	if ol.LogID <= m.SavedLogID {
		logger.Debugf("ParseAndWriteLogs skip latestLogID:%d <= saveLogID:%d", ol.LogID, m.SavedLogID)
		return
	}

	// ----- Parse all records and cache them as variables for further processing
	for _, s := range ss {
		ol := new(MarketLog)
		err = json.Unmarshal([]byte(s), ol)
		if err != nil {
			// incomplete trailing record under heavy write load
			logger.Errorf("Unmarshal MarketLog failed with data:%s, err:%s", s, err)
			return
		}

		if ol.LogID <= m.SavedLogID {
			latestLogID = ol.LogID
			continue
		}

		if int64(ol.MsgSeq) > latestMsgSeq {
			latestMsgSeq = int64(ol.MsgSeq)
		}

		for _, tl := range ol.TradeLogs {
			newTrades = append(newTrades, model.Trade{
				LogID:    ol.LogID,
				LogIndex: tl.LogIndex,
				PassID:   tl.PassID,
				Kind:     tradeKindToInt8(tl.Kind),
				Buyer:    tl.Buyer,
				Seller:   tl.Seller,
				Amount:   decimal.NewFromInt(tl.Amount),
				Royalty:  decimal.NewFromInt(tl.Royalty),
				Time:     tl.Time,
			})
		}

		// last write per pass wins within the batch
		for _, pl := range ol.PassLogs {
			upsertPasses[pl.ID] = model.Pass{
				ID:           pl.ID,
				LogID:        ol.LogID,
				LogIndex:     pl.LogIndex,
				Owner:        pl.Owner,
				Seller:       pl.Seller,
				LastBuyPrice: pl.LastBuyPrice,
				SellPrice:    pl.SellPrice,
				SellIndex:    pl.SellIndex,
			}
		}

		if ol.SupplyLog != nil {
			lastSupply = ol.SupplyLog
		}

		latestLogID = ol.LogID
	}

	if len(newTrades) == 0 && len(upsertPasses) == 0 && lastSupply == nil {
		logger.Debugf("ParseAndWriteLogs skip because nothing new with latestLogID:%d, saveLogID:%d", latestLogID, m.SavedLogID)
		return
	}

	passRows := make([]model.Pass, 0, len(upsertPasses))
	for _, p := range upsertPasses {
		passRows = append(passRows, p)
	}

	app := strings.ToLower(m.Name)

	db := model.GetMySQL()
	err = db.Transaction(func(tx *gorm.DB) (err error) {
		// upsert lastkvs
		if latestMsgSeq > 0 {
			err = tx.Model(model.Lastkv{}).
				Where(model.Lastkv{App: app, Key: model.LASTKV_K_NATS_SEQ}).
				Updates(&model.Lastkv{Val: latestMsgSeq}).
				Error
			if err != nil {
				return
			}
		}

		err = tx.Model(model.Lastkv{}).
			Where(model.Lastkv{App: app, Key: model.LASTKV_K_SAVED_LOG_ID}).
			Updates(&model.Lastkv{Val: latestLogID}).
			Error
		if err != nil {
			return
		}

		if lastSupply != nil {
			err = tx.Model(model.Lastkv{}).
				Where(model.Lastkv{App: app, Key: model.LASTKV_K_REMAINING_SUPPLY}).
				Updates(&model.Lastkv{Val: lastSupply.Remaining}).
				Error
			if err != nil {
				return
			}
			err = tx.Model(model.Lastkv{}).
				Where(model.Lastkv{App: app, Key: model.LASTKV_K_NEXT_PASS_ID}).
				Updates(&model.Lastkv{Val: lastSupply.NextPassID}).
				Error
			if err != nil {
				return
			}
		}

		// create trades
		if len(newTrades) > 0 {
			err = tx.Scopes(model.TradeTable(m.Venue)).CreateInBatches(newTrades, len(newTrades)).Error
			if err != nil {
				return
			}
		}

		// upsert passes
		if len(passRows) > 0 {
			err = tx.Scopes(model.PassTable(m.Venue)).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					UpdateAll: true,
				}).
				CreateInBatches(passRows, len(passRows)).Error
			if err != nil {
				return
			}
		}

		return nil
	})

	if latestLogID > m.SavedLogID {
		m.SavedLogID = latestLogID
	}

	return
}

// WaitForFiledb waits for the writer to catch up with the journal
// before the service starts, i.e. SavedLogID >= the last journaled
// logID. Call alongside or before FiledbToMySQL.
func (m *Market) WaitForFiledb() (err error) {
	defer func() {
		if err != nil {
			logger.Errorf("WaitForFiledb failed with err:%s", err)
		}
	}()

	s, err := m.fdb.ReadLastLine()
	if err != nil {
		return
	}
	if s == "" {
		return nil
	}

	var ml MarketLog
	err = json.Unmarshal([]byte(s), &ml)
	if err != nil {
		return
	}

	m.LogID = ml.LogID

	for {
		savedLogID, _ := m.LoadSavedLogID()
		if savedLogID >= ml.LogID {
			logger.Infof("WaitForFiledb done with savedLogID:%d, logID:%d", savedLogID, ml.LogID)
			return
		}
		ts := time.Second
		logger.Infof("WaitForFiledb sleep:%s with savedLogID:%d, logID:%d", ts, savedLogID, ml.LogID)
		time.Sleep(ts)
	}
}
