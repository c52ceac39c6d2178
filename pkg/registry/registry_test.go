package registry_test

import (
	"testing"

	"gatepass/pkg/registry"

	"github.com/stretchr/testify/require"
)

func TestMint(t *testing.T) {
	r := registry.New()

	err := r.Mint(1, 0)
	require.Nil(t, err)

	owner, ok := r.OwnerOf(0)
	require.True(t, ok)
	require.Equal(t, int64(1), owner)
	require.Equal(t, int64(1), r.BalanceOf(1))

	err = r.Mint(2, 0)
	require.Equal(t, registry.ErrAssetExists, err)
}

func TestTransfer(t *testing.T) {
	r := registry.New()
	require.Nil(t, r.Mint(1, 0))

	err := r.Transfer(2, 3, 0)
	require.Equal(t, registry.ErrNotAssetOwner, err)

	err = r.Transfer(1, 2, 0)
	require.Nil(t, err)

	owner, ok := r.OwnerOf(0)
	require.True(t, ok)
	require.Equal(t, int64(2), owner)
	require.Equal(t, int64(0), r.BalanceOf(1))
	require.Equal(t, int64(1), r.BalanceOf(2))

	err = r.Transfer(1, 2, 42)
	require.Equal(t, registry.ErrAssetUnknown, err)
}

func TestOwnerOfUnknown(t *testing.T) {
	r := registry.New()

	_, ok := r.OwnerOf(7)
	require.False(t, ok)
}
