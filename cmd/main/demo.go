package main

import (
	"fmt"
	"path/filepath"

	"gatepass/pkg/config"
	"gatepass/pkg/ledger"
	"gatepass/pkg/market"
	"gatepass/pkg/registry"

	"github.com/shopspring/decimal"
)

// runDemo runs a scripted end-to-end scenario in-process: primary
// sale, listing, capped resale, and prints every account along the way.
func runDemo() (err error) {
	mc := config.Shared.Market

	var (
		alice = int64(101)
		bob   = int64(102)
	)

	sl := ledger.New()
	ar := registry.New()

	for _, account := range []int64{alice, bob} {
		err = sl.Mint(account, decimal.NewFromInt(mc.Price*10))
		if err != nil {
			return
		}
		sl.Approve(account, mc.Escrow, decimal.NewFromInt(mc.Price*10))
	}

	m, err := market.New(market.Config{
		Venue:       fVenue,
		Organizer:   mc.Organizer,
		Escrow:      mc.Escrow,
		Supply:      mc.Supply,
		Price:       mc.Price,
		RoyaltyPct:  mc.RoyaltyPct,
		JournalPath: filepath.Join(config.Shared.DataDir, "filedb", "demo.log"),
	}, sl, ar)
	if err != nil {
		return
	}

	printBalances := func(stage string) {
		fmt.Printf("%-24s alice:%s bob:%s organizer:%s escrow:%s\n",
			stage,
			sl.BalanceOf(alice), sl.BalanceOf(bob),
			sl.BalanceOf(mc.Organizer), sl.BalanceOf(mc.Escrow))
	}

	printBalances("start")

	passID, err := m.PrimaryPurchase(alice, mc.Price)
	if err != nil {
		return
	}
	fmt.Printf("alice bought pass %d at the primary price %d, %d remaining\n", passID, mc.Price, m.Remaining())
	printBalances("after primary")

	askCap := m.PassInfo(passID).LastBuyPrice * 21 / 10
	err = m.SecondarySell(alice, passID, askCap+1)
	fmt.Printf("alice tried to list pass %d at %d: %s\n", passID, askCap+1, err)

	err = m.SecondarySell(alice, passID, askCap)
	if err != nil {
		return
	}
	fmt.Printf("alice listed pass %d at the cap %d, open asks: %v\n", passID, askCap, m.AsksByPrice(0))

	err = m.SecondaryPurchase(bob, passID, askCap)
	if err != nil {
		return
	}
	owner, _ := m.OwnerOf(passID)
	fmt.Printf("bob bought pass %d at %d, owner is now %d\n", passID, askCap, owner)
	printBalances("after secondary")

	fmt.Printf("pass record: %+v\n", m.PassInfo(passID))

	return nil
}
