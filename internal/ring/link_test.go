package ring

import (
	"net"
	"testing"
	"time"

	"github.com/dreamware/gelato/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePair attaches links to both ends of an in-memory connection.
func pipePair(t *testing.T) (*Link, chan Event, *Link, chan Event) {
	t.Helper()
	a, b := net.Pipe()
	inboxA := make(chan Event, 16)
	inboxB := make(chan Event, 16)
	la := Attach(a, Peer{Role: RolePeerRobot, ID: 1}, inboxA)
	lb := Attach(b, Peer{Role: RolePeerRobot, ID: 0}, inboxB)
	t.Cleanup(func() {
		la.Close()
		lb.Close()
	})
	return la, inboxA, lb, inboxB
}

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for link event")
		return nil
	}
}

// TestLinkDelivery verifies messages cross a link in order and arrive
// tagged with the peer identity.
func TestLinkDelivery(t *testing.T) {
	la, _, _, inboxB := pipePair(t)

	la.Send(wire.JoinRing{ID: 1})
	la.Send(wire.NewLeader{Leader: 2, Epoch: 1})

	ev := recvEvent(t, inboxB).(Inbound)
	assert.Equal(t, wire.JoinRing{ID: 1}, ev.Msg)
	assert.Equal(t, 0, ev.From.ID)

	ev = recvEvent(t, inboxB).(Inbound)
	assert.Equal(t, wire.NewLeader{Leader: 2, Epoch: 1}, ev.Msg)
}

// TestLinkPeerLostOnClose verifies the far side learns about a closed
// connection as exactly one PeerLost event.
func TestLinkPeerLostOnClose(t *testing.T) {
	la, _, _, inboxB := pipePair(t)

	la.Close()

	ev := recvEvent(t, inboxB)
	lost, ok := ev.(PeerLost)
	require.True(t, ok, "expected PeerLost, got %T", ev)
	assert.Equal(t, 0, lost.Peer.ID)

	select {
	case extra := <-inboxB:
		t.Fatalf("unexpected second event %T", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestLinkProtocolViolationCloses verifies a malformed frame closes the
// link and surfaces as PeerLost rather than a bogus message.
func TestLinkProtocolViolationCloses(t *testing.T) {
	a, b := net.Pipe()
	inboxB := make(chan Event, 16)
	lb := Attach(b, Peer{Role: RolePeerScreen, ID: 0}, inboxB)
	t.Cleanup(lb.Close)

	go func() {
		_, _ = a.Write([]byte("{\"type\":\"Nonsense\"}\n"))
	}()

	ev := recvEvent(t, inboxB)
	_, ok := ev.(PeerLost)
	assert.True(t, ok, "expected PeerLost, got %T", ev)
}

// TestLinkSendAfterCloseDoesNotPanic verifies queued sends on a dead link
// are dropped silently, per the cancellation model.
func TestLinkSendAfterCloseDoesNotPanic(t *testing.T) {
	la, _, _, _ := pipePair(t)
	la.Close()
	assert.NotPanics(t, func() {
		la.Send(wire.JoinRing{ID: 9})
	})
}

// TestLinkIdentify verifies late identification retags subsequent events.
func TestLinkIdentify(t *testing.T) {
	a, b := net.Pipe()
	inboxB := make(chan Event, 16)
	la := Attach(a, Peer{Role: RolePeerRobot, ID: 1}, inboxA(t))
	lb := Attach(b, Peer{Role: RolePeerRobot, ID: -1}, inboxB)
	t.Cleanup(func() {
		la.Close()
		lb.Close()
	})

	lb.Identify(Peer{Role: RolePeerRobot, ID: 4})
	la.Send(wire.SetNextRobot{ID: 4})

	ev := recvEvent(t, inboxB).(Inbound)
	assert.Equal(t, 4, ev.From.ID)
}

func inboxA(t *testing.T) chan Event {
	t.Helper()
	return make(chan Event, 16)
}

// TestListenAndServe verifies the reuse-bound listener accepts real
// loopback connections and frames flow end to end.
func TestListenAndServe(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	inbox := make(chan Event, 16)
	go Serve(ln, func(conn net.Conn) {
		Attach(conn, Peer{Role: RolePeerRobot, ID: -1}, inbox)
	})

	conn, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	client := Attach(conn, Peer{Role: RolePeerRobot, ID: 0}, make(chan Event, 16))
	t.Cleanup(client.Close)

	client.Send(wire.JoinRing{ID: 3})

	ev := recvEvent(t, inbox).(Inbound)
	assert.Equal(t, wire.JoinRing{ID: 3}, ev.Msg)
}

// TestDialRetryGivesUp verifies the bounded retry loop reports the last
// error for an address nobody is listening on.
func TestDialRetryGivesUp(t *testing.T) {
	_, err := DialRetry("127.0.0.1:1", 10*time.Millisecond, 2)
	assert.Error(t, err)
}
