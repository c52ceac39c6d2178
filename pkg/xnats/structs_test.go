package xnats_test

import (
	"testing"

	"gatepass/pkg/xnats"

	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	require.Equal(t, "MARKET.MAINHALL.Req", xnats.SubjectReq("MAINHALL"))
	require.Equal(t, "MARKET.MAINHALL.Trade", xnats.SubjectTrade("MAINHALL"))
	require.Equal(t, "MARKET.MAINHALL.Listing", xnats.SubjectListing("MAINHALL"))
}
