package model

import (
	"strings"

	"gorm.io/gorm"
)

// PassTable generates different pass table names based on the venue
func PassTable(venue string) func(tx *gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Table(strings.ToLower(venue + "_passes"))
	}
}

// TradeTable generates different trade table names based on the venue
func TradeTable(venue string) func(tx *gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Table(strings.ToLower(venue + "_trades"))
	}
}
