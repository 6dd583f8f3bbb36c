package robot

import (
	"time"

	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/wire"
)

// probeState tracks one flavor's in-flight recovery from this robot's
// point of view.
type probeState struct {
	// originated is true when this robot started the probe.
	originated bool
	// tokenSeen gates regeneration: if the real token shows up while the
	// probe circulates, the probe was a false alarm and must not emit a
	// second token.
	tokenSeen bool
}

// tokenService owns a robot's view of every circulating token: the
// observation ledger, the per-flavor loss timers, and in-flight probe
// state. All methods run on the node goroutine; only the timer callbacks
// cross goroutines, and they do nothing but post an event back to the
// node.
type tokenService struct {
	self    int
	timeout time.Duration
	initial func(flavor.ID) uint32
	expired func(flavor.ID) // posts a timeout event to the node mailbox

	ledger *flavor.Ledger
	timers map[flavor.ID]*time.Timer
	probes map[flavor.ID]*probeState
}

func newTokenService(self int, timeout time.Duration, initial func(flavor.ID) uint32, expired func(flavor.ID)) *tokenService {
	return &tokenService{
		self:    self,
		timeout: timeout,
		initial: initial,
		expired: expired,
		ledger:  flavor.NewLedger(),
		timers:  make(map[flavor.ID]*time.Timer),
		probes:  make(map[flavor.ID]*probeState),
	}
}

// startTimers arms the loss timer for every flavor. Called once the robot
// is part of a ring.
func (ts *tokenService) startTimers() {
	for _, f := range flavor.All() {
		ts.resetTimer(f)
	}
}

// stopTimers disarms everything during shutdown.
func (ts *tokenService) stopTimers() {
	for _, t := range ts.timers {
		t.Stop()
	}
}

func (ts *tokenService) resetTimer(f flavor.ID) {
	if t, ok := ts.timers[f]; ok {
		t.Reset(ts.timeout)
		return
	}
	ts.timers[f] = time.AfterFunc(ts.timeout, func() { ts.expired(f) })
}

// observe records a sighted token, feeds the loss timer, and marks any
// in-flight probe for the flavor as a false alarm.
func (ts *tokenService) observe(t flavor.Token) {
	ts.ledger.Observe(t)
	ts.resetTimer(t.Flavor)
	if p, ok := ts.probes[t.Flavor]; ok {
		p.tokenSeen = true
	}
}

// timerExpired starts (or restarts) recovery for a flavor whose token has
// not been seen for a full timeout. The returned probe is sent clockwise.
// The timer is re-armed so a lost probe is itself retried.
func (ts *tokenService) timerExpired(f flavor.ID) wire.TokenProbe {
	ts.probes[f] = &probeState{originated: true}
	ts.resetTimer(f)
	return wire.TokenProbe{
		Flavor: f,
		Trace:  []flavor.ProbeEntry{ts.ledger.Entry(ts.self, f, ts.initial(f))},
	}
}

// probeAction is what handleProbe decided.
type probeAction int

const (
	// probeForward: append our observation and pass it clockwise.
	probeForward probeAction = iota
	// probeEmit: the probe came home with no token sighted; emit the
	// rebuilt token.
	probeEmit
	// probeDrop: suppressed (stale return, or a lower-id originator
	// while our own probe is out).
	probeDrop
)

// handleProbe processes an incoming probe for one flavor.
//
// Rules, in order: a probe of our own returning home either emits the
// rebuilt token (no sighting during the round) or is abandoned; while our
// own probe is out, a concurrent probe from a higher-id originator takes
// over (ours is cancelled and theirs forwarded) and one from a lower-id
// originator is dropped; otherwise we append our last observation and
// forward.
func (ts *tokenService) handleProbe(p wire.TokenProbe) (wire.TokenProbe, flavor.Token, probeAction) {
	f := p.Flavor
	originator := p.Trace[0].ID
	state := ts.probes[f]

	if originator == ts.self {
		if state == nil || !state.originated {
			// Stale return of a probe we already abandoned.
			return wire.TokenProbe{}, flavor.Token{}, probeDrop
		}
		delete(ts.probes, f)
		ts.resetTimer(f)
		if state.tokenSeen {
			// The token was merely slow; no regeneration.
			return wire.TokenProbe{}, flavor.Token{}, probeDrop
		}
		return wire.TokenProbe{}, flavor.Rebuild(f, p.Trace), probeEmit
	}

	if state != nil && state.originated {
		if originator < ts.self {
			// Our probe outranks this one.
			return wire.TokenProbe{}, flavor.Token{}, probeDrop
		}
		// Theirs outranks ours; cede to it.
		delete(ts.probes, f)
	}

	grown := wire.TokenProbe{
		Flavor: f,
		Trace: append(append([]flavor.ProbeEntry(nil), p.Trace...),
			ts.ledger.Entry(ts.self, f, ts.initial(f))),
	}
	return grown, flavor.Token{}, probeForward
}
