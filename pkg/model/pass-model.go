package model

// Pass model, one row per issued pass, partitioned by venue. The row is
// the durable mirror of the market's in-memory pass record; the writer
// upserts it on every journaled mutation.
type Pass struct {
	// ids start at 0, so the column must not auto-generate
	ID int64 `json:"id" gorm:"omitempty; primaryKey; autoIncrement:false;"`

	LogID    int64 `json:"logID" gorm:"omitempty; not null; default:0; index;"`
	LogIndex int64 `json:"logIndex" gorm:"omitempty; not null; default:0;"`

	Owner  int64 `json:"owner" gorm:"omitempty; not null; default:0; index;"`
	Seller int64 `json:"seller" gorm:"omitempty; not null; default:0;"` // payout account while listed

	LastBuyPrice int64 `json:"lastBuyPrice" gorm:"omitempty; not null; default:0;"`
	SellPrice    int64 `json:"sellPrice" gorm:"omitempty; not null; default:0;"` // 0 means not listed
	SellIndex    int64 `json:"sellIndex" gorm:"omitempty; not null; default:-1;"`

	Model
}
