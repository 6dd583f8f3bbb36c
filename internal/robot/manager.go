package robot

import (
	"fmt"
	"time"

	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
)

// manager is a robot's order-preparation state: at most one in-flight
// order, its unserved items in ascending flavor order, and the token
// currently held while scooping. Owned by the node goroutine.
//
// Items are always served lowest flavor first. Holding only the token for
// the next unserved item means no robot ever waits on one token while
// holding another, so circular waits across orders cannot form.
type manager struct {
	scoopTime time.Duration // per 100 g

	current *order.Order
	items   []order.Item
	serving bool
	held    flavor.Token
	heldQty uint32
}

func newManager(scoopTime time.Duration) *manager {
	return &manager{scoopTime: scoopTime}
}

// busy reports whether an order is in flight.
func (m *manager) busy() bool { return m.current != nil }

// begin installs a new order. The caller guarantees the manager is idle.
func (m *manager) begin(o order.Order) {
	m.current = &o
	m.items = o.SortedItems()
	m.serving = false
}

// tokenDecision is what offer decided about a passing token.
type tokenDecision int

const (
	// decideForward: not needed right now; pass it on unchanged.
	decideForward tokenDecision = iota
	// decideServe: this is the next needed flavor and it has stock; hold
	// it and scoop.
	decideServe
	// decideAbort: this is the next needed flavor but stock is short;
	// the order dies with InsufficientStock.
	decideAbort
)

// offer inspects a passing token against the current order. It only ever
// wants the token for the lowest unserved flavor, and only while not
// already scooping another.
func (m *manager) offer(t flavor.Token) tokenDecision {
	if m.current == nil || m.serving || len(m.items) == 0 {
		return decideForward
	}
	next := m.items[0]
	if t.Flavor != next.Flavor {
		return decideForward
	}
	if !t.CanServe(next.Qty) {
		return decideAbort
	}
	return decideServe
}

// hold consumes the next item's quantity from the token and starts the
// scoop. It returns how long the scoop takes; the node posts itself a
// completion event after that long.
func (m *manager) hold(t flavor.Token) time.Duration {
	qty := m.items[0].Qty
	t.Serve(qty)
	m.held = t
	m.heldQty = qty
	m.serving = true
	return m.serveDuration(qty)
}

func (m *manager) serveDuration(qty uint32) time.Duration {
	d := time.Duration(qty/100) * m.scoopTime
	if d <= 0 {
		d = m.scoopTime
	}
	return d
}

// finishScoop completes the in-progress item. It returns the updated token
// to release clockwise, the order id, and whether the order is now fully
// served.
func (m *manager) finishScoop() (flavor.Token, order.ID, bool) {
	tok := m.held
	id := m.current.ID
	m.serving = false
	m.heldQty = 0
	m.items = m.items[1:]
	done := len(m.items) == 0
	if done {
		m.current = nil
	}
	return tok, id, done
}

// abort clears the in-flight order and returns its id with the
// order-scoped failure reason.
func (m *manager) abort(f flavor.ID) (order.ID, string) {
	id := m.current.ID
	m.current = nil
	m.items = nil
	m.serving = false
	return id, insufficientStock(f)
}

// shutdownRelease winds the manager down for process shutdown. If a scoop
// is mid-flight its decrement is reversed (the serve never happened) and
// the token must be released; the unfinished order id, if any, is reported
// so the leader can re-queue it.
func (m *manager) shutdownRelease() (flavor.Token, bool, order.ID, bool) {
	var tok flavor.Token
	releaseToken := false
	if m.serving {
		tok = m.held
		tok.Restock(m.heldQty)
		releaseToken = true
	}
	var id order.ID
	unfinished := m.current != nil
	if unfinished {
		id = m.current.ID
	}
	m.current = nil
	m.items = nil
	m.serving = false
	return tok, releaseToken, id, unfinished
}

// insufficientStock renders the order-scoped abort reason for a flavor.
func insufficientStock(f flavor.ID) string {
	return fmt.Sprintf("insufficient stock: %s", f)
}
