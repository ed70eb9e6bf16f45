package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkorolev/deribot/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func lvl(action domain.PriceLevelAction, price, amount string) domain.PriceLevelChange {
	return domain.PriceLevelChange{Action: action, Price: d(price), Amount: d(amount)}
}

func TestBestAskIsMinimum(t *testing.T) {
	b := New()
	b.Apply(domain.SideAsk, []domain.PriceLevelChange{
		lvl(domain.LevelNew, "300", "1"),
		lvl(domain.LevelNew, "100", "1"),
		lvl(domain.LevelNew, "200", "1"),
	})

	best, ok := b.Best(domain.SideAsk)
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("100")))
}

func TestBestBidIsMaximum(t *testing.T) {
	b := New()
	b.Apply(domain.SideBid, []domain.PriceLevelChange{
		lvl(domain.LevelNew, "100", "1"),
		lvl(domain.LevelNew, "300", "1"),
		lvl(domain.LevelNew, "200", "1"),
	})

	best, ok := b.Best(domain.SideBid)
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("300")))
}

func TestChangeOverwritesAmount(t *testing.T) {
	b := New()
	regressed := b.ApplyUpdate(domain.BookUpdate{
		ChangeID: 1,
		Bids:     []domain.PriceLevelChange{lvl(domain.LevelNew, "100", "5")},
		Asks:     []domain.PriceLevelChange{lvl(domain.LevelNew, "110", "3")},
	})
	assert.False(t, regressed)

	b.ApplyUpdate(domain.BookUpdate{
		ChangeID: 2,
		Bids:     []domain.PriceLevelChange{lvl(domain.LevelChange, "100", "8")},
	})

	bid, ok := b.Best(domain.SideBid)
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(d("100")))
	assert.True(t, bid.Amount.Equal(d("8")))

	ask, ok := b.Best(domain.SideAsk)
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(d("110")))
	assert.True(t, ask.Amount.Equal(d("3")))

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("10")))
}

func TestDeleteAbsentPriceIsNoop(t *testing.T) {
	b := New()
	b.Apply(domain.SideAsk, []domain.PriceLevelChange{lvl(domain.LevelNew, "110", "3")})
	b.Apply(domain.SideAsk, []domain.PriceLevelChange{lvl(domain.LevelDelete, "999", "0")})

	best, ok := b.Best(domain.SideAsk)
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("110")))
	assert.Equal(t, 1, b.Depth(domain.SideAsk))
}

func TestDeleteRemovesLevel(t *testing.T) {
	b := New()
	b.Apply(domain.SideBid, []domain.PriceLevelChange{
		lvl(domain.LevelNew, "100", "1"),
		lvl(domain.LevelNew, "90", "1"),
	})
	b.Apply(domain.SideBid, []domain.PriceLevelChange{lvl(domain.LevelDelete, "100", "0")})

	best, ok := b.Best(domain.SideBid)
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("90")))
}

func TestSpreadNoneWhenSideEmpty(t *testing.T) {
	b := New()
	_, ok := b.Spread()
	assert.False(t, ok)

	b.Apply(domain.SideBid, []domain.PriceLevelChange{lvl(domain.LevelNew, "100", "1")})
	_, ok = b.Spread()
	assert.False(t, ok)
}

func TestCrossedBookSpreadIsNegative(t *testing.T) {
	b := New()
	b.Apply(domain.SideBid, []domain.PriceLevelChange{lvl(domain.LevelNew, "120", "1")})
	b.Apply(domain.SideAsk, []domain.PriceLevelChange{lvl(domain.LevelNew, "110", "1")})

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.IsNegative())
}

func TestNthLevels(t *testing.T) {
	b := New()
	b.Apply(domain.SideAsk, []domain.PriceLevelChange{
		lvl(domain.LevelNew, "110", "1"),
		lvl(domain.LevelNew, "111", "2"),
		lvl(domain.LevelNew, "112", "3"),
	})
	b.Apply(domain.SideBid, []domain.PriceLevelChange{
		lvl(domain.LevelNew, "100", "1"),
		lvl(domain.LevelNew, "99", "2"),
		lvl(domain.LevelNew, "98", "3"),
	})

	second, ok := b.Nth(domain.SideAsk, 1)
	require.True(t, ok)
	assert.True(t, second.Price.Equal(d("111")))

	secondBid, ok := b.Nth(domain.SideBid, 1)
	require.True(t, ok)
	assert.True(t, secondBid.Price.Equal(d("99")))

	_, ok = b.Nth(domain.SideAsk, 3)
	assert.False(t, ok)
}

func TestTopN(t *testing.T) {
	b := New()
	b.Apply(domain.SideBid, []domain.PriceLevelChange{
		lvl(domain.LevelNew, "100", "1"),
		lvl(domain.LevelNew, "101", "2"),
		lvl(domain.LevelNew, "99", "3"),
	})

	top := b.TopN(domain.SideBid, 2)
	require.Len(t, top, 2)
	assert.True(t, top[0].Price.Equal(d("101")))
	assert.True(t, top[1].Price.Equal(d("100")))

	all := b.TopN(domain.SideBid, 10)
	assert.Len(t, all, 3)

	assert.Empty(t, b.TopN(domain.SideBid, -1))
}

func TestChangeIDRegressionDetected(t *testing.T) {
	b := New()
	assert.False(t, b.ApplyUpdate(domain.BookUpdate{ChangeID: 10}))
	assert.False(t, b.ApplyUpdate(domain.BookUpdate{ChangeID: 10}))
	assert.True(t, b.ApplyUpdate(domain.BookUpdate{ChangeID: 9}))
	assert.Equal(t, int64(9), b.LastChangeID())
}
