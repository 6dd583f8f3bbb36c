package screen

import (
	"net"
	"testing"
	"time"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
	"github.com/dreamware/gelato/internal/ring"
	"github.com/dreamware/gelato/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests drive the screen's handlers directly (no Run loop, no real
// listeners); links are real ring links over in-memory pipes so every
// outbound message can be observed from the far end.

func screenConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.PaymentFailureProbability = 0
	return cfg
}

// farEnd attaches a link pair and returns the screen-side link plus the
// far side's inbox for observation.
func farEnd(t *testing.T, s *Screen, peer ring.Peer) (*ring.Link, chan ring.Event) {
	t.Helper()
	a, b := net.Pipe()
	near := ring.Attach(a, peer, s.inbox)
	farInbox := make(chan ring.Event, 64)
	far := ring.Attach(b, ring.Peer{Role: ring.RolePeerScreen, ID: s.id}, farInbox)
	t.Cleanup(func() {
		near.Close()
		far.Close()
	})
	return near, farInbox
}

func expectMessage[T wire.Message](t *testing.T, inbox chan ring.Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-inbox:
			if in, ok := ev.(ring.Inbound); ok {
				if m, ok := in.Msg.(T); ok {
					return m
				}
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return *new(T)
		}
	}
}

func screenOrder(t *testing.T, screen int, seq uint64, items ...order.Item) order.Order {
	t.Helper()
	o, err := order.New(order.ID{Screen: screen, Seq: seq}, items)
	require.NoError(t, err)
	return o
}

// TestScreenCaptureMirrorsAndRequestsLeader verifies phase one: a
// captured order is mirrored to the successor, and with no leader link a
// connection request goes around the ring.
func TestScreenCaptureMirrorsAndRequestsLeader(t *testing.T) {
	cfg := screenConfig(t)
	o := screenOrder(t, 0, 1, order.Item{Flavor: flavor.Vanilla, Qty: 250})
	s := New(cfg, 0, []order.Order{o})

	succ, succInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 1})
	s.succ, s.succID = succ, 1

	s.captureNext()

	backup := expectMessage[wire.TakeMyBackup](t, succInbox)
	require.Len(t, backup.Orders, 1)
	assert.Equal(t, order.Captured, backup.Orders[0].State)
	assert.NotEmpty(t, backup.Orders[0].CaptureRef)

	req := expectMessage[wire.RequestRobotLeaderConnection](t, succInbox)
	assert.Equal(t, 0, req.Screen)

	assert.Equal(t, 1, s.gw.Held())
}

// TestScreenSubmitsOnLeaderConnect verifies captured orders flow to the
// leader as soon as its link lands, moving to the preparing state.
func TestScreenSubmitsOnLeaderConnect(t *testing.T) {
	cfg := screenConfig(t)
	o := screenOrder(t, 0, 1, order.Item{Flavor: flavor.Mint, Qty: 250})
	s := New(cfg, 0, []order.Order{o})

	succ, _ := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 1})
	s.succ, s.succID = succ, 1
	s.captureNext()

	leader, leaderInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerLeader, ID: 2})
	s.adoptLeaderLink(2, leader)

	sub := expectMessage[wire.PrepareNewOrder](t, leaderInbox)
	assert.Equal(t, o.ID, sub.Order.ID)
	assert.Equal(t, order.Preparing, s.pending[o.ID].State)
}

// TestScreenSettleConfirmed verifies phase three on success: the payment
// settles and the order leaves the pending set and the mirrored backup.
func TestScreenSettleConfirmed(t *testing.T) {
	cfg := screenConfig(t)
	o := screenOrder(t, 0, 1, order.Item{Flavor: flavor.Mint, Qty: 250})
	s := New(cfg, 0, []order.Order{o})

	succ, succInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 1})
	s.succ, s.succID = succ, 1
	s.captureNext()
	leader, _ := farEnd(t, s, ring.Peer{Role: ring.RolePeerLeader, ID: 2})
	s.adoptLeaderLink(2, leader)

	s.settle(o.ID, false, "")

	assert.Empty(t, s.pending)
	assert.Equal(t, 0, s.gw.Held())

	// The last mirror must show an empty backup.
	var last wire.TakeMyBackup
	got := false
	deadline := time.After(2 * time.Second)
	for !got {
		select {
		case ev := <-succInbox:
			if in, ok := ev.(ring.Inbound); ok {
				if m, ok := in.Msg.(wire.TakeMyBackup); ok && len(m.Orders) == 0 {
					last, got = m, true
				}
			}
		case <-deadline:
			t.Fatal("never saw an empty mirrored backup")
		}
	}
	assert.Equal(t, 0, last.Owner)
}

// TestScreenSettleVoided verifies phase three on abort: the payment is
// voided with the reason.
func TestScreenSettleVoided(t *testing.T) {
	cfg := screenConfig(t)
	o := screenOrder(t, 0, 1, order.Item{Flavor: flavor.Strawberry, Qty: 250})
	s := New(cfg, 0, []order.Order{o})
	s.captureNext()
	require.Equal(t, 1, s.gw.Held())

	s.settle(o.ID, true, "insufficient stock: Strawberry")

	assert.Empty(t, s.pending)
	assert.Equal(t, 0, s.gw.Held())
}

// TestScreenDeclinedCaptureNeverSubmits verifies a declined payment
// voids the order before the leader ever sees it.
func TestScreenDeclinedCaptureNeverSubmits(t *testing.T) {
	cfg := screenConfig(t)
	o := screenOrder(t, 0, 1, order.Item{Flavor: flavor.Vanilla, Qty: 250})
	s := New(cfg, 0, []order.Order{o})
	s.gw.roll = func() float64 { return 0 }
	s.gw.failureProbability = 1

	s.captureNext()

	assert.Empty(t, s.pending)
	assert.Equal(t, 0, s.gw.Held())
}

// TestScreenZeroItemOrderConfirmsImmediately verifies the boundary rule:
// nothing to prepare means instant confirmation.
func TestScreenZeroItemOrderConfirmsImmediately(t *testing.T) {
	cfg := screenConfig(t)
	o := screenOrder(t, 0, 1)
	s := New(cfg, 0, []order.Order{o})

	s.captureNext()

	assert.Empty(t, s.pending)
	assert.Equal(t, 0, s.gw.Held())
}

// TestScreenAdoption verifies takeover: the dead predecessor's mirrored
// orders join the pending set tagged with their origin, the merged set is
// re-mirrored, and the leader hears AdoptOrders.
func TestScreenAdoption(t *testing.T) {
	cfg := screenConfig(t)
	s := New(cfg, 1, nil)

	succ, succInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 0})
	s.succ, s.succID = succ, 0
	leader, leaderInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerLeader, ID: 2})
	s.adoptLeaderLink(2, leader)

	adopted := screenOrder(t, 0, 3, order.Item{Flavor: flavor.Lemon, Qty: 250})
	pred, _ := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 0})
	s.handleMessage(wire.TakeMyBackup{
		Owner: 0,
		Orders: []order.Pending{
			{Order: adopted, State: order.Preparing, CaptureRef: "ref-0"},
		},
	}, pred)

	s.handlePeerLost(ring.PeerLost{Peer: ring.Peer{Role: ring.RolePeerScreen, ID: 0}, Link: pred})

	// Adopted order is pending here, with its origin recorded.
	p, ok := s.pending[adopted.ID]
	require.True(t, ok)
	require.NotNil(t, p.Order.AdoptedFrom)
	assert.Equal(t, 0, *p.Order.AdoptedFrom)
	assert.Equal(t, 1, s.gw.Held())

	// The merged set was re-mirrored and the leader redirected.
	backup := expectMessage[wire.TakeMyBackup](t, succInbox)
	assert.Equal(t, 1, backup.Owner)
	require.Len(t, backup.Orders, 1)

	redirect := expectMessage[wire.AdoptOrders](t, leaderInbox)
	assert.Equal(t, wire.AdoptOrders{OldScreen: 0, NewScreen: 1}, redirect)

	// The leader's eventual result settles the adopted order here.
	s.settle(adopted.ID, false, "")
	assert.Equal(t, 0, s.gw.Held())
}

// TestScreenAdoptionWithoutLeaderQueuesRedirect verifies AdoptOrders
// waits for a leader link and a connection request goes out instead.
func TestScreenAdoptionWithoutLeaderQueuesRedirect(t *testing.T) {
	cfg := screenConfig(t)
	s := New(cfg, 1, nil)

	succ, succInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 0})
	s.succ, s.succID = succ, 0

	adopted := screenOrder(t, 0, 1, order.Item{Flavor: flavor.Mint, Qty: 250})
	pred, _ := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 0})
	s.handleMessage(wire.TakeMyBackup{
		Owner:  0,
		Orders: []order.Pending{{Order: adopted, State: order.Captured, CaptureRef: "ref-1"}},
	}, pred)
	s.handlePeerLost(ring.PeerLost{Peer: ring.Peer{Role: ring.RolePeerScreen, ID: 0}, Link: pred})

	req := expectMessage[wire.RequestRobotLeaderConnection](t, succInbox)
	assert.Equal(t, 1, req.Screen)
	assert.Equal(t, []int{0}, s.adoptions)

	// When the leader finally connects, the redirect and the adopted
	// captured order both go out.
	leader, leaderInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerLeader, ID: 2})
	s.adoptLeaderLink(2, leader)

	redirect := expectMessage[wire.AdoptOrders](t, leaderInbox)
	assert.Equal(t, 0, redirect.OldScreen)
	sub := expectMessage[wire.PrepareNewOrder](t, leaderInbox)
	assert.Equal(t, adopted.ID, sub.Order.ID)
	assert.Empty(t, s.adoptions)
}

// TestScreenRelaysLeaderRequests verifies ring relay semantics for
// connection requests.
func TestScreenRelaysLeaderRequests(t *testing.T) {
	cfg := screenConfig(t)
	s := New(cfg, 1, nil)

	succ, succInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerScreen, ID: 2})
	s.succ, s.succID = succ, 2

	// Without a leader link the request continues around the ring.
	s.relayLeaderRequest(wire.RequestRobotLeaderConnection{Screen: 0})
	fwd := expectMessage[wire.RequestRobotLeaderConnection](t, succInbox)
	assert.Equal(t, 0, fwd.Screen)

	// A request about this very screen dies here.
	s.relayLeaderRequest(wire.RequestRobotLeaderConnection{Screen: 1})

	// With a leader link the request goes up instead.
	leader, leaderInbox := farEnd(t, s, ring.Peer{Role: ring.RolePeerLeader, ID: 2})
	s.adoptLeaderLink(2, leader)
	s.relayLeaderRequest(wire.RequestRobotLeaderConnection{Screen: 0})
	up := expectMessage[wire.RequestRobotLeaderConnection](t, leaderInbox)
	assert.Equal(t, 0, up.Screen)
}

// TestScreenStrayResultIgnored verifies results for unknown orders do not
// crash or touch the gateway.
func TestScreenStrayResultIgnored(t *testing.T) {
	cfg := screenConfig(t)
	s := New(cfg, 0, nil)
	s.settle(order.ID{Screen: 0, Seq: 42}, false, "")
	assert.Empty(t, s.pending)
}
