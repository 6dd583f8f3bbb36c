package robot

import (
	"testing"
	"time"

	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(t *testing.T, items ...order.Item) order.Order {
	t.Helper()
	o, err := order.New(order.ID{Screen: 0, Seq: 1}, items)
	require.NoError(t, err)
	return o
}

// TestManagerServesAscendingFlavorOrder verifies only the lowest unserved
// flavor's token is taken, whatever order tokens arrive in.
func TestManagerServesAscendingFlavorOrder(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t,
		order.Item{Flavor: flavor.Lemon, Qty: 100},
		order.Item{Flavor: flavor.Chocolate, Qty: 100},
	))

	// Lemon is needed, but chocolate comes first in serve order.
	assert.Equal(t, decideForward, m.offer(flavor.Token{Flavor: flavor.Lemon, Remaining: 500, Version: 1}))
	assert.Equal(t, decideServe, m.offer(flavor.Token{Flavor: flavor.Chocolate, Remaining: 500, Version: 1}))

	m.hold(flavor.Token{Flavor: flavor.Chocolate, Remaining: 500, Version: 1})
	tok, id, done := m.finishScoop()
	assert.Equal(t, uint32(400), tok.Remaining)
	assert.Equal(t, order.ID{Screen: 0, Seq: 1}, id)
	assert.False(t, done)

	// Now lemon is next.
	assert.Equal(t, decideServe, m.offer(flavor.Token{Flavor: flavor.Lemon, Remaining: 500, Version: 1}))
}

// TestManagerForwardsWhileServing verifies a scooping robot never takes a
// second token.
func TestManagerForwardsWhileServing(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t,
		order.Item{Flavor: flavor.Chocolate, Qty: 100},
		order.Item{Flavor: flavor.Mint, Qty: 100},
	))

	m.hold(flavor.Token{Flavor: flavor.Chocolate, Remaining: 500, Version: 1})
	assert.Equal(t, decideForward, m.offer(flavor.Token{Flavor: flavor.Mint, Remaining: 500, Version: 1}))
}

// TestManagerIdleForwardsEverything verifies tokens flow through an idle
// robot untouched.
func TestManagerIdleForwardsEverything(t *testing.T) {
	m := newManager(time.Millisecond)
	assert.Equal(t, decideForward, m.offer(flavor.Token{Flavor: flavor.Vanilla, Remaining: 10, Version: 1}))
}

// TestManagerAbortsOnInsufficientStock verifies a short token kills the
// order with the flavor-scoped reason.
func TestManagerAbortsOnInsufficientStock(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t, order.Item{Flavor: flavor.Strawberry, Qty: 250}))

	tok := flavor.Token{Flavor: flavor.Strawberry, Remaining: 100, Version: 4}
	require.Equal(t, decideAbort, m.offer(tok))

	id, reason := m.abort(flavor.Strawberry)
	assert.Equal(t, order.ID{Screen: 0, Seq: 1}, id)
	assert.Contains(t, reason, "Strawberry")
	assert.False(t, m.busy())
}

// TestManagerDepletedTokenAborts verifies a depleted (zero remaining)
// token aborts orders needing that flavor.
func TestManagerDepletedTokenAborts(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t, order.Item{Flavor: flavor.Mint, Qty: 1}))
	assert.Equal(t, decideAbort, m.offer(flavor.Token{Flavor: flavor.Mint, Remaining: 0, Version: 9}))
}

// TestManagerCompletion verifies the full serve cycle of a two-item
// order.
func TestManagerCompletion(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t,
		order.Item{Flavor: flavor.Chocolate, Qty: 200},
		order.Item{Flavor: flavor.Vanilla, Qty: 100},
	))

	d := m.hold(flavor.Token{Flavor: flavor.Chocolate, Remaining: 1000, Version: 1})
	assert.Equal(t, 2*time.Millisecond, d)
	_, _, done := m.finishScoop()
	require.False(t, done)

	m.hold(flavor.Token{Flavor: flavor.Vanilla, Remaining: 1000, Version: 1})
	tok, _, done := m.finishScoop()
	assert.True(t, done)
	assert.Equal(t, uint32(900), tok.Remaining)
	assert.False(t, m.busy())
}

// TestManagerShutdownMidScoopReversesDecrement verifies shutdown while a
// scoop is in flight restores the token's stock before release.
func TestManagerShutdownMidScoopReversesDecrement(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t, order.Item{Flavor: flavor.Lemon, Qty: 300}))
	m.hold(flavor.Token{Flavor: flavor.Lemon, Remaining: 1000, Version: 1})

	tok, release, id, unfinished := m.shutdownRelease()
	require.True(t, release)
	assert.Equal(t, uint32(1000), tok.Remaining)
	assert.Greater(t, tok.Version, uint64(2))
	assert.True(t, unfinished)
	assert.Equal(t, order.ID{Screen: 0, Seq: 1}, id)
}

// TestManagerShutdownBetweenItemsKeepsDecrement verifies shutdown between
// scoops releases nothing (the served decrement already left with the
// forwarded token) but still reports the unfinished order.
func TestManagerShutdownBetweenItemsKeepsDecrement(t *testing.T) {
	m := newManager(time.Millisecond)
	m.begin(testOrder(t,
		order.Item{Flavor: flavor.Chocolate, Qty: 100},
		order.Item{Flavor: flavor.Mint, Qty: 100},
	))
	m.hold(flavor.Token{Flavor: flavor.Chocolate, Remaining: 500, Version: 1})
	_, _, done := m.finishScoop()
	require.False(t, done)

	_, release, _, unfinished := m.shutdownRelease()
	assert.False(t, release)
	assert.True(t, unfinished)
}

// TestManagerShutdownIdle verifies an idle shutdown reports nothing.
func TestManagerShutdownIdle(t *testing.T) {
	m := newManager(time.Millisecond)
	_, release, _, unfinished := m.shutdownRelease()
	assert.False(t, release)
	assert.False(t, unfinished)
}
