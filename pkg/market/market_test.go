package market_test

import (
	"path"
	"sync"
	"testing"

	"gatepass/pkg/ledger"
	"gatepass/pkg/market"
	"gatepass/pkg/registry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	organizer = int64(1)
	escrow    = int64(2)
	alice     = int64(11)
	bob       = int64(12)
	carol     = int64(13)
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func newMarket(t *testing.T, supply, price, royaltyPct int64) (*market.Market, *ledger.Ledger, *registry.Registry) {
	t.Helper()

	sl := ledger.New()
	ar := registry.New()

	m, err := market.New(market.Config{
		Venue:       "TESTHALL",
		Organizer:   organizer,
		Escrow:      escrow,
		Supply:      supply,
		Price:       price,
		RoyaltyPct:  royaltyPct,
		JournalPath: path.Join(t.TempDir(), "market.log"),
	}, sl, ar)
	require.Nil(t, err)

	return m, sl, ar
}

func fund(t *testing.T, sl *ledger.Ledger, account, amount int64) {
	t.Helper()
	require.Nil(t, sl.Mint(account, d(amount)))
	sl.Approve(account, escrow, d(amount))
}

func TestPrimaryPurchase(t *testing.T) {
	m, sl, ar := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	require.Equal(t, int64(0), passID)

	owner, ok := ar.OwnerOf(passID)
	require.True(t, ok)
	require.Equal(t, alice, owner)

	assert.Equal(t, int64(999), m.Remaining())
	assert.Equal(t, int64(1), m.NextPassID())
	assert.True(t, sl.BalanceOf(organizer).Equal(d(10)))
	assert.True(t, sl.BalanceOf(alice).Equal(d(90)))

	p := m.PassInfo(passID)
	assert.Equal(t, int64(10), p.LastBuyPrice)
	assert.Equal(t, int64(0), p.SellPrice)
	assert.Equal(t, int64(-1), p.SellIndex)
}

func TestPrimaryIssuesSequentialIDs(t *testing.T) {
	m, sl, ar := newMarket(t, 5, 10, 1)
	fund(t, sl, alice, 100)

	// the full supply issues exactly 0..N-1 in order
	for want := int64(0); want < 5; want++ {
		passID, err := m.PrimaryPurchase(alice, 10)
		require.Nil(t, err)
		require.Equal(t, want, passID)

		owner, ok := ar.OwnerOf(passID)
		require.True(t, ok)
		require.Equal(t, alice, owner)
	}

	_, err := m.PrimaryPurchase(alice, 10)
	require.ErrorIs(t, err, market.ErrSoldOut)
	assert.Equal(t, int64(5), m.NextPassID())
}

func TestPrimarySoldOut(t *testing.T) {
	m, sl, _ := newMarket(t, 2, 10, 1)
	fund(t, sl, alice, 100)

	_, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	_, err = m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)

	_, err = m.PrimaryPurchase(alice, 10)
	require.ErrorIs(t, err, market.ErrSoldOut)
	assert.Equal(t, int64(0), m.Remaining())
}

func TestPrimaryInvalidAmount(t *testing.T) {
	m, sl, _ := newMarket(t, 10, 10, 1)
	fund(t, sl, alice, 100)

	_, err := m.PrimaryPurchase(alice, 9)
	require.ErrorIs(t, err, market.ErrInvalidAmount)
	_, err = m.PrimaryPurchase(alice, 11)
	require.ErrorIs(t, err, market.ErrInvalidAmount)

	assert.Equal(t, int64(10), m.Remaining())
	assert.True(t, sl.BalanceOf(alice).Equal(d(100)))
}

func TestPrimaryInsufficientAllowance(t *testing.T) {
	m, sl, _ := newMarket(t, 10, 10, 1)

	// no allowance at all
	_, err := m.PrimaryPurchase(alice, 10)
	require.ErrorIs(t, err, market.ErrInsufficientAllowance)

	// allowance below the price
	require.Nil(t, sl.Mint(alice, d(100)))
	sl.Approve(alice, escrow, d(9))
	_, err = m.PrimaryPurchase(alice, 10)
	require.ErrorIs(t, err, market.ErrInsufficientAllowance)
}

func TestPrimarySettlementTransferFailed(t *testing.T) {
	m, sl, ar := newMarket(t, 10, 10, 1)

	// allowance covers the price but the balance does not
	require.Nil(t, sl.Mint(alice, d(5)))
	sl.Approve(alice, escrow, d(100))

	_, err := m.PrimaryPurchase(alice, 10)
	require.ErrorIs(t, err, market.ErrSettlementTransferFailed)

	// nothing changed
	assert.Equal(t, int64(10), m.Remaining())
	assert.Equal(t, int64(0), m.NextPassID())
	assert.True(t, sl.BalanceOf(alice).Equal(d(5)))
	_, ok := ar.OwnerOf(0)
	assert.False(t, ok)
}

func TestSecondarySellAndBuy(t *testing.T) {
	m, sl, ar := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)
	fund(t, sl, bob, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)

	err = m.SecondarySell(alice, passID, 11)
	require.Nil(t, err)

	// the pass sits in escrow while listed
	owner, ok := ar.OwnerOf(passID)
	require.True(t, ok)
	require.Equal(t, escrow, owner)
	require.Equal(t, []int64{passID}, m.Listings())

	p := m.PassInfo(passID)
	assert.Equal(t, int64(11), p.SellPrice)
	assert.Equal(t, int64(0), p.SellIndex)
	assert.Equal(t, alice, p.Seller)

	err = m.SecondaryPurchase(bob, passID, 11)
	require.Nil(t, err)

	// 11*1/100 truncates to zero royalty, the seller gets all of it
	assert.True(t, sl.BalanceOf(alice).Equal(d(101)), "alice: %s", sl.BalanceOf(alice))
	assert.True(t, sl.BalanceOf(organizer).Equal(d(10)), "organizer: %s", sl.BalanceOf(organizer))
	assert.True(t, sl.BalanceOf(bob).Equal(d(89)), "bob: %s", sl.BalanceOf(bob))
	assert.True(t, sl.BalanceOf(escrow).Equal(d(0)), "escrow: %s", sl.BalanceOf(escrow))

	owner, ok = ar.OwnerOf(passID)
	require.True(t, ok)
	require.Equal(t, bob, owner)
	require.Empty(t, m.Listings())

	p = m.PassInfo(passID)
	assert.Equal(t, int64(11), p.LastBuyPrice)
	assert.Equal(t, int64(0), p.SellPrice)
	assert.Equal(t, int64(-1), p.SellIndex)
	assert.Equal(t, int64(0), p.Seller)
}

func TestRoyaltySplit(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 100, 10)
	fund(t, sl, alice, 100)
	fund(t, sl, bob, 200)

	passID, err := m.PrimaryPurchase(alice, 100)
	require.Nil(t, err)

	require.Nil(t, m.SecondarySell(alice, passID, 150))
	require.Nil(t, m.SecondaryPurchase(bob, passID, 150))

	// 150*10/100 = 15 to the organizer, 135 to the seller
	assert.True(t, sl.BalanceOf(alice).Equal(d(135)))
	assert.True(t, sl.BalanceOf(organizer).Equal(d(115)))
	assert.True(t, sl.BalanceOf(bob).Equal(d(50)))
	assert.True(t, sl.BalanceOf(escrow).Equal(d(0)))
}

func TestPriceCap(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 11, 1)
	fund(t, sl, alice, 100)

	passID, err := m.PrimaryPurchase(alice, 11)
	require.Nil(t, err)

	// cap is 11*21/10 = 23
	err = m.SecondarySell(alice, passID, 24)
	require.ErrorIs(t, err, market.ErrPriceExceedsCap)
	require.Empty(t, m.Listings())

	err = m.SecondarySell(alice, passID, 23)
	require.Nil(t, err)
}

func TestSellInvalidOwner(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)

	// not the owner
	err = m.SecondarySell(bob, passID, 11)
	require.ErrorIs(t, err, market.ErrInvalidOwner)

	// unknown pass
	err = m.SecondarySell(alice, 999, 11)
	require.ErrorIs(t, err, market.ErrInvalidOwner)

	// double listing: the escrow owns it now
	require.Nil(t, m.SecondarySell(alice, passID, 11))
	err = m.SecondarySell(alice, passID, 12)
	require.ErrorIs(t, err, market.ErrInvalidOwner)
}

func TestBuyNotForSale(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)
	fund(t, sl, bob, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)

	err = m.SecondaryPurchase(bob, passID, 10)
	require.ErrorIs(t, err, market.ErrNotForSale)

	err = m.SecondaryPurchase(bob, 999, 10)
	require.ErrorIs(t, err, market.ErrNotForSale)
}

func TestBuyInvalidAmount(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)
	fund(t, sl, bob, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	require.Nil(t, m.SecondarySell(alice, passID, 12))

	err = m.SecondaryPurchase(bob, passID, 11)
	require.ErrorIs(t, err, market.ErrInvalidAmount)
	err = m.SecondaryPurchase(bob, passID, 13)
	require.ErrorIs(t, err, market.ErrInvalidAmount)

	// still listed, nothing moved
	require.Equal(t, []int64{passID}, m.Listings())
	assert.True(t, sl.BalanceOf(bob).Equal(d(100)))
}

func TestBuyInsufficientAllowance(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	require.Nil(t, m.SecondarySell(alice, passID, 12))

	require.Nil(t, sl.Mint(bob, d(100)))
	sl.Approve(bob, escrow, d(11))

	err = m.SecondaryPurchase(bob, passID, 12)
	require.ErrorIs(t, err, market.ErrInsufficientAllowance)
	require.Equal(t, []int64{passID}, m.Listings())
}

func TestListingSwapRemove(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)
	fund(t, sl, bob, 100)

	var ids []int64
	for i := 0; i < 3; i++ {
		passID, err := m.PrimaryPurchase(alice, 10)
		require.Nil(t, err)
		require.Nil(t, m.SecondarySell(alice, passID, 12))
		ids = append(ids, passID)
	}
	require.Equal(t, ids, m.Listings())

	// buying the first entry moves the last one into its slot
	require.Nil(t, m.SecondaryPurchase(bob, ids[0], 12))
	require.Equal(t, []int64{ids[2], ids[1]}, m.Listings())
	assert.Equal(t, int64(0), m.PassInfo(ids[2]).SellIndex)
	assert.Equal(t, int64(1), m.PassInfo(ids[1]).SellIndex)

	// buying the tail entry shrinks in place
	require.Nil(t, m.SecondaryPurchase(bob, ids[1], 12))
	require.Equal(t, []int64{ids[2]}, m.Listings())
	assert.Equal(t, int64(0), m.PassInfo(ids[2]).SellIndex)

	require.Nil(t, m.SecondaryPurchase(bob, ids[2], 12))
	require.Empty(t, m.Listings())
}

func TestRelistAfterBuy(t *testing.T) {
	m, sl, ar := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)
	fund(t, sl, bob, 100)
	fund(t, sl, carol, 100)

	passID, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	require.Nil(t, m.SecondarySell(alice, passID, 20))
	require.Nil(t, m.SecondaryPurchase(bob, passID, 20))

	// the cap follows the new last buy price, 20*21/10 = 42
	err = m.SecondarySell(bob, passID, 43)
	require.ErrorIs(t, err, market.ErrPriceExceedsCap)
	require.Nil(t, m.SecondarySell(bob, passID, 42))
	require.Nil(t, m.SecondaryPurchase(carol, passID, 42))

	owner, ok := ar.OwnerOf(passID)
	require.True(t, ok)
	assert.Equal(t, carol, owner)
	assert.Equal(t, int64(42), m.PassInfo(passID).LastBuyPrice)
}

func TestAdminSetters(t *testing.T) {
	m, _, _ := newMarket(t, 1000, 10, 1)

	require.ErrorIs(t, m.SetPrice(alice, 20), market.ErrUnauthorized)
	require.ErrorIs(t, m.SetRoyaltyPct(alice, 5), market.ErrUnauthorized)
	require.ErrorIs(t, m.SetRemaining(alice, 5), market.ErrUnauthorized)

	require.Nil(t, m.SetPrice(organizer, 20))
	require.Nil(t, m.SetRoyaltyPct(organizer, 5))
	require.Nil(t, m.SetRemaining(organizer, 5))

	assert.Equal(t, int64(20), m.Price())
	assert.Equal(t, int64(5), m.RoyaltyPct())
	assert.Equal(t, int64(5), m.Remaining())

	sl2 := ledger.New()
	require.ErrorIs(t, m.SetLedger(alice, sl2), market.ErrUnauthorized)
	require.Nil(t, m.SetLedger(organizer, sl2))
	assert.Equal(t, market.SettlementLedger(sl2), m.Ledger())

	ar2 := registry.New()
	require.Nil(t, m.SetRegistry(organizer, ar2))
	assert.Equal(t, market.AssetRegistry(ar2), m.Registry())
}

func TestSetRemainingSellsOut(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)

	require.Nil(t, m.SetRemaining(organizer, 1))

	_, err := m.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	_, err = m.PrimaryPurchase(alice, 10)
	require.ErrorIs(t, err, market.ErrSoldOut)
}

func TestAsksByPrice(t *testing.T) {
	m, sl, _ := newMarket(t, 1000, 10, 1)
	fund(t, sl, alice, 100)

	prices := []int64{15, 12, 20}
	var ids []int64
	for _, price := range prices {
		passID, err := m.PrimaryPurchase(alice, 10)
		require.Nil(t, err)
		require.Nil(t, m.SecondarySell(alice, passID, price))
		ids = append(ids, passID)
	}

	asks := m.AsksByPrice(0)
	require.Len(t, asks, 3)
	assert.Equal(t, market.Ask{PassID: ids[1], Price: 12}, asks[0])
	assert.Equal(t, market.Ask{PassID: ids[0], Price: 15}, asks[1])
	assert.Equal(t, market.Ask{PassID: ids[2], Price: 20}, asks[2])

	asks = m.AsksByPrice(2)
	require.Len(t, asks, 2)
	assert.Equal(t, int64(12), asks[0].Price)
}

func TestPassInfoUnknown(t *testing.T) {
	m, _, _ := newMarket(t, 1000, 10, 1)

	p := m.PassInfo(999)
	assert.Equal(t, market.Pass{}, p)

	_, ok := m.OwnerOf(999)
	assert.False(t, ok)
}

func TestConcurrentOpsAndReads(t *testing.T) {
	m, sl, _ := newMarket(t, 100, 10, 1)
	for _, account := range []int64{alice, bob, carol} {
		fund(t, sl, account, 1000)
	}

	var wg sync.WaitGroup
	for _, account := range []int64{alice, bob, carol} {
		wg.Add(1)
		go func(account int64) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				passID, err := m.PrimaryPurchase(account, 10)
				if err != nil {
					continue
				}
				if m.SecondarySell(account, passID, 12) == nil {
					_ = m.SecondaryPurchase(account, passID, 12)
				}
			}
		}(account)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = m.Remaining()
			_ = m.Listings()
			_ = m.AsksByPrice(0)
			_ = m.PassInfo(0)
		}
	}()

	wg.Wait()

	require.Equal(t, int64(40), m.Remaining())
	require.Empty(t, m.Listings())
}

func TestJournalRestoresLogID(t *testing.T) {
	journal := path.Join(t.TempDir(), "market.log")

	sl := ledger.New()
	ar := registry.New()
	cfg := market.Config{
		Venue:       "TESTHALL",
		Organizer:   organizer,
		Escrow:      escrow,
		Supply:      1000,
		Price:       10,
		RoyaltyPct:  1,
		JournalPath: journal,
	}

	m1, err := market.New(cfg, sl, ar)
	require.Nil(t, err)
	fund(t, sl, alice, 100)

	passID, err := m1.PrimaryPurchase(alice, 10)
	require.Nil(t, err)
	require.Nil(t, m1.SecondarySell(alice, passID, 12))
	require.Equal(t, int64(2), m1.LogID)

	m2, err := market.New(cfg, sl, ar)
	require.Nil(t, err)
	assert.Equal(t, int64(2), m2.LogID)
}
