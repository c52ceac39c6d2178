package market

// ListingIndex tracks which passes are currently listed for sale.
// Each entry's position is mirrored in the owning pass's SellIndex, so
// a pass resolves to its entry in O(1) without scanning.
type ListingIndex struct {
	ids []int64
}

func NewListingIndex() *ListingIndex {
	return &ListingIndex{ids: []int64{}}
}

// Append adds a pass ID and returns its position.
func (x *ListingIndex) Append(passID int64) (index int64) {
	x.ids = append(x.ids, passID)
	return int64(len(x.ids) - 1)
}

// Remove deletes the entry at index by moving the last entry into the
// vacated slot and shrinking by one, so the index never holds holes.
// It returns the pass ID that moved, or -1 when the removed entry was
// already last. The caller must patch the moved pass's SellIndex.
func (x *ListingIndex) Remove(index int64) (movedID int64) {
	last := int64(len(x.ids) - 1)

	movedID = -1
	if index != last {
		movedID = x.ids[last]
		x.ids[index] = movedID
	}

	x.ids = x.ids[:last]
	return movedID
}

func (x *ListingIndex) Len() int {
	return len(x.ids)
}

// At returns the pass ID stored at index.
func (x *ListingIndex) At(index int64) int64 {
	return x.ids[index]
}

// IDs returns a copy of the listed pass IDs in index order.
func (x *ListingIndex) IDs() []int64 {
	ids := make([]int64, len(x.ids))
	copy(ids, x.ids)
	return ids
}
