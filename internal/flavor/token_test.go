package flavor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokenServe verifies that serving decrements stock and bumps the
// version so later observations outrank earlier ones.
func TestTokenServe(t *testing.T) {
	tok := NewToken(Vanilla, 10)
	require.True(t, tok.CanServe(2))

	tok.Serve(2)
	assert.Equal(t, uint32(8), tok.Remaining)
	assert.Equal(t, uint64(2), tok.Version)
	assert.False(t, tok.Depleted())
}

// TestTokenServeExceeding verifies that over-serving panics instead of
// wrapping the unsigned counter around.
func TestTokenServeExceeding(t *testing.T) {
	tok := NewToken(Mint, 1)
	assert.False(t, tok.CanServe(2))
	assert.Panics(t, func() { tok.Serve(2) })
}

// TestTokenDepletedKeepsIdentity verifies a fully served token still
// identifies its flavor; depleted tokens continue to circulate.
func TestTokenDepletedKeepsIdentity(t *testing.T) {
	tok := NewToken(Lemon, 3)
	tok.Serve(3)
	assert.True(t, tok.Depleted())
	assert.Equal(t, Lemon, tok.Flavor)
	assert.True(t, tok.CanServe(0))
}

// TestTokenRestock verifies shutdown reversal restores the stock and still
// advances the version.
func TestTokenRestock(t *testing.T) {
	tok := NewToken(Chocolate, 10)
	tok.Serve(4)
	v := tok.Version
	tok.Restock(4)
	assert.Equal(t, uint32(10), tok.Remaining)
	assert.Greater(t, tok.Version, v)
}

// TestRebuildPicksHighestVersion verifies probe reconstruction prefers the
// freshest observation regardless of trace order.
func TestRebuildPicksHighestVersion(t *testing.T) {
	trace := []ProbeEntry{
		{ID: 0, Version: 3, Remaining: 7},
		{ID: 1, Version: 5, Remaining: 4},
		{ID: 2, Version: 4, Remaining: 2},
	}
	tok := Rebuild(Strawberry, trace)
	assert.Equal(t, Strawberry, tok.Flavor)
	assert.Equal(t, uint32(4), tok.Remaining)
	assert.Equal(t, uint64(6), tok.Version)
}

// TestRebuildTieBreaksLowestRemaining verifies that among equal versions
// the most pessimistic remaining wins, preserving quantity conservation.
func TestRebuildTieBreaksLowestRemaining(t *testing.T) {
	trace := []ProbeEntry{
		{ID: 0, Version: 9, Remaining: 6},
		{ID: 1, Version: 9, Remaining: 5},
		{ID: 2, Version: 2, Remaining: 1},
	}
	tok := Rebuild(Mint, trace)
	assert.Equal(t, uint32(5), tok.Remaining)
	assert.Equal(t, uint64(10), tok.Version)
}

// TestRebuildSingleEntry covers the single-robot ring: the originator's own
// entry is the whole trace.
func TestRebuildSingleEntry(t *testing.T) {
	tok := Rebuild(Vanilla, []ProbeEntry{{ID: 2, Version: 0, Remaining: 4000}})
	assert.Equal(t, uint32(4000), tok.Remaining)
	assert.Equal(t, uint64(1), tok.Version)
}

// TestLedgerObserve verifies the ledger keeps the newest version and
// ignores stale re-deliveries.
func TestLedgerObserve(t *testing.T) {
	l := NewLedger()

	_, ok := l.Last(Vanilla)
	assert.False(t, ok)

	l.Observe(Token{Flavor: Vanilla, Remaining: 10, Version: 1})
	l.Observe(Token{Flavor: Vanilla, Remaining: 8, Version: 2})
	l.Observe(Token{Flavor: Vanilla, Remaining: 10, Version: 1}) // stale

	obs, ok := l.Last(Vanilla)
	require.True(t, ok)
	assert.Equal(t, uint64(2), obs.Version)
	assert.Equal(t, uint32(8), obs.Remaining)
}

// TestLedgerEntry verifies probe contributions: a recorded observation when
// one exists, otherwise version zero with the initial quantity.
func TestLedgerEntry(t *testing.T) {
	l := NewLedger()
	l.Observe(Token{Flavor: Mint, Remaining: 3, Version: 7})

	e := l.Entry(1, Mint, 4000)
	assert.Equal(t, ProbeEntry{ID: 1, Version: 7, Remaining: 3}, e)

	e = l.Entry(1, Lemon, 4000)
	assert.Equal(t, ProbeEntry{ID: 1, Version: 0, Remaining: 4000}, e)
}

// TestParseRoundTrip verifies name parsing for every flavor in the
// enumeration plus the unknown-name error.
func TestParseRoundTrip(t *testing.T) {
	for _, id := range All() {
		parsed, err := Parse(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}

	_, err := Parse("Bubblegum")
	assert.Error(t, err)
}
