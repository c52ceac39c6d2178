// Package registry is an in-memory unique-asset registry: one owner per
// asset ID, mint-once, transfer between accounts. The market consumes it
// as an external collaborator and treats it as the sole source of truth
// for pass ownership.
package registry

import (
	"errors"
	"sync"
)

var (
	ErrAssetExists   = errors.New("asset exists")
	ErrAssetUnknown  = errors.New("asset unknown")
	ErrNotAssetOwner = errors.New("not asset owner")
)

type Registry struct {
	mu sync.Mutex

	owners   map[int64]int64 // assetID -> owner
	holdings map[int64]int64 // owner -> asset count
}

func New() *Registry {
	return &Registry{
		owners:   map[int64]int64{},
		holdings: map[int64]int64{},
	}
}

// Mint records a brand-new asset owned by to. Fails when the ID was
// already minted.
func (r *Registry) Mint(to, assetID int64) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[assetID]; ok {
		return ErrAssetExists
	}

	r.owners[assetID] = to
	r.holdings[to]++
	return
}

// Transfer moves the asset from one account to another. The from account
// must be the current owner of record.
func (r *Registry) Transfer(from, to, assetID int64) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[assetID]
	if !ok {
		return ErrAssetUnknown
	}
	if owner != from {
		return ErrNotAssetOwner
	}

	r.owners[assetID] = to
	r.holdings[from]--
	r.holdings[to]++
	return
}

// OwnerOf returns the owner of record, and whether the asset exists.
func (r *Registry) OwnerOf(assetID int64) (owner int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok = r.owners[assetID]
	return
}

// BalanceOf returns how many assets the account currently holds.
func (r *Registry) BalanceOf(owner int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.holdings[owner]
}
