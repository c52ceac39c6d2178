package market

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// ListingsCacheKey is the redis key holding the venue's listing snapshot.
func ListingsCacheKey(venue string) string {
	return "market:" + strings.ToLower(venue) + ":listings"
}

// cacheListings pushes the current listing snapshot to redis so read
// traffic never touches the market lock. Best effort.
func (m *Market) cacheListings() {
	if m.rds == nil {
		return
	}

	b, err := json.Marshal(m.listings.IDs())
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = m.rds.Set(ctx, ListingsCacheKey(m.Venue), b, 0).Err()
	if err != nil {
		logger.Warningf("cacheListings failed with err:%s", err)
	}
}
