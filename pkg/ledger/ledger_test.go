package ledger_test

import (
	"testing"

	"gatepass/pkg/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func TestMintAndBalance(t *testing.T) {
	l := ledger.New()

	err := l.Mint(1, d(1000))
	require.Nil(t, err)
	require.True(t, l.BalanceOf(1).Equal(d(1000)))

	err = l.Mint(1, d(-1))
	require.Equal(t, ledger.ErrNegativeAmount, err)
}

func TestTransferFrom(t *testing.T) {
	l := ledger.New()
	require.Nil(t, l.Mint(1, d(100)))

	// no allowance yet
	err := l.TransferFrom(99, 1, 2, d(10))
	require.Equal(t, ledger.ErrInsufficientAllowance, err)
	require.True(t, l.BalanceOf(1).Equal(d(100)))

	l.Approve(1, 99, d(30))
	require.True(t, l.Allowance(1, 99).Equal(d(30)))

	err = l.TransferFrom(99, 1, 2, d(10))
	require.Nil(t, err)
	require.True(t, l.BalanceOf(1).Equal(d(90)))
	require.True(t, l.BalanceOf(2).Equal(d(10)))
	require.True(t, l.Allowance(1, 99).Equal(d(20)))

	// allowance left but over balance
	l.Approve(1, 99, d(1000))
	err = l.TransferFrom(99, 1, 2, d(500))
	require.Equal(t, ledger.ErrInsufficientBalance, err)
	require.True(t, l.BalanceOf(1).Equal(d(90)))
	require.True(t, l.Allowance(1, 99).Equal(d(1000)))
}

func TestTransferFromZeroAmount(t *testing.T) {
	l := ledger.New()

	// zero pull from an account that never approved anyone
	err := l.TransferFrom(99, 1, 2, d(0))
	require.Nil(t, err)
	require.True(t, l.BalanceOf(1).Equal(d(0)))
	require.True(t, l.BalanceOf(2).Equal(d(0)))
	require.True(t, l.Allowance(1, 99).Equal(d(0)))

	// zero pull leaves an existing allowance untouched
	require.Nil(t, l.Mint(1, d(10)))
	l.Approve(1, 99, d(5))
	err = l.TransferFrom(99, 1, 2, d(0))
	require.Nil(t, err)
	require.True(t, l.Allowance(1, 99).Equal(d(5)))
}

func TestTransfer(t *testing.T) {
	l := ledger.New()
	require.Nil(t, l.Mint(5, d(7)))

	err := l.Transfer(5, 6, d(3))
	require.Nil(t, err)
	require.True(t, l.BalanceOf(5).Equal(d(4)))
	require.True(t, l.BalanceOf(6).Equal(d(3)))

	err = l.Transfer(5, 6, d(100))
	require.Equal(t, ledger.ErrInsufficientBalance, err)
}
