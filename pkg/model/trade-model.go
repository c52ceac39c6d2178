package model

import (
	"github.com/shopspring/decimal"
)

// Trade model, one row per settled trade, partitioned by venue
type Trade struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	LogID    int64 `json:"logID" gorm:"omitempty; not null; default:0; uniqueindex:idx_t_log_id_index"`
	LogIndex int64 `json:"logIndex" gorm:"omitempty; not null; default:0; uniqueindex:idx_t_log_id_index"`

	PassID int64 `json:"passID" gorm:"omitempty; not null; default:0; index;"`
	Kind   int8  `json:"kind" gorm:"omitempty; not null; default:0; type:tinyint(1);"` // 1 primary, 2 secondary

	Buyer  int64 `json:"buyer" gorm:"omitempty; not null; default:0; index;"`
	Seller int64 `json:"seller" gorm:"omitempty; not null; default:0; index;"` // organizer on primary sales

	Amount  decimal.Decimal `json:"amount" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`
	Royalty decimal.Decimal `json:"royalty" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`

	Time int64 `json:"time" gorm:"omitempty; not null; default:0;"`

	Model
}

const (
	TradeKindPrimary   int8 = 1
	TradeKindSecondary int8 = 2
)
