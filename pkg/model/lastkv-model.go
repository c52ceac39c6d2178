package model

// Lastkv model
//
// Used to record watermark values per app: the latest NATS msg seq, the
// latest journal logID written to mysql, and the remaining primary supply.
type Lastkv struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	App string `json:"app" gorm:"omitempty; not null; default:''; type:varchar(64); uniqueindex:idx_app_key;"` // e.g. market_mainhall
	Key string `json:"key" gorm:"omitempty; not null; default:''; type:varchar(64); uniqueindex:idx_app_key;"`
	Val int64  `json:"val" gorm:"omitempty; not null; default:0;"`

	Model
}

const (
	LASTKV_K_NATS_SEQ         = "nats_seq"
	LASTKV_K_SAVED_LOG_ID     = "saved_log_id"
	LASTKV_K_REMAINING_SUPPLY = "remaining_supply"
	LASTKV_K_NEXT_PASS_ID     = "next_pass_id"
)
