package robot

import (
	"log"
	"sort"

	"github.com/emirpasic/gods/lists/doublylinkedlist"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/order"
	"github.com/dreamware/gelato/internal/wire"
)

// Sender is the outbound half of a link, abstracted so leader logic can be
// exercised against recording fakes.
type Sender interface {
	Send(m wire.Message)
}

// Leader is the dispatch state machine run by the elected robot. All
// methods execute on the leader actor's goroutine; the struct holds no
// locks because nothing else touches it.
//
// Durability model: after every state mutation the full snapshot is
// broadcast to all registered workers before any screen is acknowledged.
// There is no quorum — the design trades bandwidth for simplicity and
// survives as long as one follower saw the last snapshot.
type Leader struct {
	id    int
	epoch uint64
	cfg   *config.Config

	// queue holds orders waiting for a worker, oldest first. Work stolen
	// from a dead robot goes back at the head so it is retried first.
	queue    *doublylinkedlist.List
	assigned map[int]order.Order

	workers map[int]Sender
	idle    []int
	lastRR  int // last robot assigned to, for round-robin rotation

	screens      map[int]Sender
	knownScreens map[int]bool
	screenIndex  map[int]int
	parked       []order.ParkedResult

	// pendingWorkers are robots that held assignments in an inherited
	// snapshot and have not re-registered with this leader yet. Their
	// work is re-queued if they fail to show up within the registration
	// grace period, and kept assigned if they do — a robot that survived
	// a leader crash finishes its order and reports here.
	pendingWorkers map[int]bool
}

// NewLeader creates the dispatch state for a robot that just won (or
// bootstrapped) the leadership at the given epoch.
func NewLeader(cfg *config.Config, id int, epoch uint64) *Leader {
	return &Leader{
		id:             id,
		epoch:          epoch,
		cfg:            cfg,
		queue:          doublylinkedlist.New(),
		assigned:       make(map[int]order.Order),
		workers:        make(map[int]Sender),
		screens:        make(map[int]Sender),
		knownScreens:   make(map[int]bool),
		screenIndex:    make(map[int]int),
		pendingWorkers: make(map[int]bool),
		lastRR:         -1,
	}
}

// LeaderFromSnapshot reconstructs dispatch state from the crashed leader's
// last replicated snapshot. The new leader's own assignment, if any, goes
// to the head of the queue (its worker half aborted the order on
// promotion); other assignments stay put pending re-registration.
func LeaderFromSnapshot(cfg *config.Config, id int, epoch uint64, snap order.LeaderSnapshot) *Leader {
	l := NewLeader(cfg, id, epoch)
	for _, o := range snap.Queued {
		l.queue.Add(o.Clone())
	}
	for r, o := range snap.Assigned {
		if r == id {
			l.queue.Prepend(o.Clone())
			continue
		}
		l.assigned[r] = o.Clone()
		l.pendingWorkers[r] = true
	}
	for k, v := range snap.ScreenIndex {
		l.screenIndex[k] = v
	}
	for _, s := range snap.Screens {
		l.knownScreens[s] = true
	}
	l.parked = append(l.parked, snap.Parked...)
	return l
}

// Epoch returns the election epoch this leader serves.
func (l *Leader) Epoch() uint64 { return l.epoch }

// KnownScreens returns the screens this leader should hold links to,
// sorted. Used on startup to re-open connections from a snapshot.
func (l *Leader) KnownScreens() []int {
	ids := make([]int, 0, len(l.knownScreens))
	for s := range l.knownScreens {
		ids = append(ids, s)
	}
	sort.Ints(ids)
	return ids
}

// RegisterWorker records a worker robot's link. A worker with no inherited
// assignment becomes idle immediately; one with an inherited assignment is
// left to finish it and report.
func (l *Leader) RegisterWorker(r int, s Sender) {
	l.workers[r] = s
	delete(l.pendingWorkers, r)
	if _, busy := l.assigned[r]; !busy {
		l.addIdle(r)
	}
	log.Printf("leader[%d] worker %d registered (%d idle)", l.id, r, len(l.idle))
	l.dispatch()
	l.replicate()
}

// RegisterScreen records a screen link and flushes any parked results now
// deliverable to it.
func (l *Leader) RegisterScreen(id int, s Sender) {
	l.screens[id] = s
	l.knownScreens[id] = true
	log.Printf("leader[%d] screen %d connected", l.id, id)
	l.replicate()
	l.flushParked()
}

// AcceptOrder queues a submitted order and dispatches if a worker is
// free.
func (l *Leader) AcceptOrder(o order.Order) {
	log.Printf("leader[%d] accepted order %s from screen %d", l.id, o.ID, o.Screen)
	l.queue.Add(o)
	l.dispatch()
	l.replicate()
}

// OnOrderComplete marks a worker's order served, replicates, and then
// notifies the owning screen. Replication strictly precedes the screen
// acknowledgment.
func (l *Leader) OnOrderComplete(r int, id order.ID) {
	o, ok := l.assigned[r]
	if !ok || o.ID != id {
		log.Printf("leader[%d] stray completion %s from robot %d", l.id, id, r)
		return
	}
	delete(l.assigned, r)
	l.addIdle(r)
	log.Printf("leader[%d] order %s completed by robot %d", l.id, id, r)
	l.dispatch()
	l.replicate()
	l.notifyScreen(order.ParkedResult{OrderID: id, Screen: o.Screen})
}

// OnOrderNotFinished handles a worker's failure report. A shutdown reason
// re-queues the order at the head (the work is sound, the worker is
// going away); any other reason is order-scoped and aborts it.
func (l *Leader) OnOrderNotFinished(r int, id order.ID, reason string) {
	o, ok := l.assigned[r]
	if !ok || o.ID != id {
		log.Printf("leader[%d] stray failure report %s from robot %d", l.id, id, r)
		return
	}
	delete(l.assigned, r)

	if reason == wire.ReasonShutdown {
		log.Printf("leader[%d] robot %d shutting down, re-queueing order %s", l.id, r, id)
		l.queue.Prepend(o)
		l.dispatch()
		l.replicate()
		return
	}

	l.addIdle(r)
	log.Printf("leader[%d] order %s aborted by robot %d: %s", l.id, id, r, reason)
	l.dispatch()
	l.replicate()
	l.notifyScreen(order.ParkedResult{OrderID: id, Screen: o.Screen, Aborted: true, Reason: reason})
}

// OnRobotLost steals a dead robot's assignment back. Removal from the
// assignment map precedes re-insertion into the queue, so no snapshot
// ever shows the order in both places.
func (l *Leader) OnRobotLost(r int) {
	delete(l.workers, r)
	delete(l.pendingWorkers, r)
	l.removeIdle(r)
	if o, ok := l.assigned[r]; ok {
		delete(l.assigned, r)
		l.queue.Prepend(o)
		log.Printf("leader[%d] robot %d lost, re-queueing order %s", l.id, r, o.ID)
	} else {
		log.Printf("leader[%d] robot %d lost", l.id, r)
	}
	l.dispatch()
	l.replicate()
}

// OnScreenLost drops a dead screen's link. No orders move — the successor
// screen announces itself with AdoptOrders when ready.
func (l *Leader) OnScreenLost(s int) {
	delete(l.screens, s)
	delete(l.knownScreens, s)
	log.Printf("leader[%d] screen %d lost", l.id, s)
	l.replicate()
}

// OnAdoptOrders redirects a dead screen's results to its successor and
// flushes anything already parked for it.
func (l *Leader) OnAdoptOrders(oldScreen, newScreen int) {
	if oldScreen == newScreen {
		return
	}
	l.screenIndex[oldScreen] = newScreen
	log.Printf("leader[%d] screen %d adopts orders of screen %d", l.id, newScreen, oldScreen)
	l.replicate()
	l.flushParked()
}

// RequeueUnregistered returns inherited assignments whose robots never
// re-registered within the grace period to the head of the queue.
func (l *Leader) RequeueUnregistered() {
	moved := false
	for r := range l.pendingWorkers {
		if o, ok := l.assigned[r]; ok {
			delete(l.assigned, r)
			l.queue.Prepend(o)
			log.Printf("leader[%d] robot %d never re-registered, re-queueing order %s", l.id, r, o.ID)
			moved = true
		}
	}
	l.pendingWorkers = make(map[int]bool)
	if moved {
		l.dispatch()
		l.replicate()
	}
}

// Snapshot renders the replicated state.
func (l *Leader) Snapshot() order.LeaderSnapshot {
	queued := make([]order.Order, 0, l.queue.Size())
	it := l.queue.Iterator()
	for it.Next() {
		queued = append(queued, it.Value().(order.Order))
	}
	snap := order.LeaderSnapshot{
		Leader:      l.id,
		Epoch:       l.epoch,
		Queued:      queued,
		Assigned:    make(map[int]order.Order, len(l.assigned)),
		ScreenIndex: make(map[int]int, len(l.screenIndex)),
		Screens:     l.KnownScreens(),
		Parked:      append([]order.ParkedResult(nil), l.parked...),
	}
	for r, o := range l.assigned {
		snap.Assigned[r] = o
	}
	for k, v := range l.screenIndex {
		snap.ScreenIndex[k] = v
	}
	return snap.Clone()
}

// dispatch hands queued orders to idle workers, round-robin across ids.
func (l *Leader) dispatch() {
	for l.queue.Size() > 0 && len(l.idle) > 0 {
		v, _ := l.queue.Get(0)
		l.queue.Remove(0)
		o := v.(order.Order)

		r := l.pickWorker()
		l.assigned[r] = o
		log.Printf("leader[%d] assigning order %s to robot %d", l.id, o.ID, r)
		l.workers[r].Send(wire.PrepareOrder{Order: o})
	}
}

// pickWorker pops the next idle robot clockwise from the last assignment.
func (l *Leader) pickWorker() int {
	pos := 0
	for i, r := range l.idle {
		if r > l.lastRR {
			pos = i
			break
		}
	}
	r := l.idle[pos]
	l.idle = append(l.idle[:pos], l.idle[pos+1:]...)
	l.lastRR = r
	return r
}

func (l *Leader) addIdle(r int) {
	for _, id := range l.idle {
		if id == r {
			return
		}
	}
	l.idle = append(l.idle, r)
	sort.Ints(l.idle)
}

func (l *Leader) removeIdle(r int) {
	for i, id := range l.idle {
		if id == r {
			l.idle = append(l.idle[:i], l.idle[i+1:]...)
			return
		}
	}
}

// replicate broadcasts the snapshot to every registered worker. Called
// after each mutation and always before the corresponding screen
// acknowledgment.
func (l *Leader) replicate() {
	snap := l.Snapshot()
	for _, w := range l.workers {
		w.Send(wire.LeaderBackup{Snapshot: snap})
	}
}

// notifyScreen delivers one terminal result, following takeover
// redirections; unreachable screens get the result parked for later.
func (l *Leader) notifyScreen(res order.ParkedResult) {
	target := l.route(res.Screen)
	s, ok := l.screens[target]
	if !ok {
		log.Printf("leader[%d] screen %d unreachable, parking result for order %s", l.id, target, res.OrderID)
		l.parked = append(l.parked, res)
		l.replicate()
		return
	}
	s.Send(resultMessage(res))
}

// flushParked retries parked results against the current screen links.
func (l *Leader) flushParked() {
	var kept []order.ParkedResult
	for _, res := range l.parked {
		target := l.route(res.Screen)
		if s, ok := l.screens[target]; ok {
			log.Printf("leader[%d] delivering parked result for order %s to screen %d", l.id, res.OrderID, target)
			s.Send(resultMessage(res))
			continue
		}
		kept = append(kept, res)
	}
	if len(kept) != len(l.parked) {
		l.parked = kept
		l.replicate()
	}
}

func (l *Leader) route(screen int) int {
	cur := screen
	for i := 0; i <= len(l.screenIndex); i++ {
		next, ok := l.screenIndex[cur]
		if !ok || next == cur {
			return cur
		}
		cur = next
	}
	return cur
}

func resultMessage(res order.ParkedResult) wire.Message {
	if res.Aborted {
		return wire.OrderAborted{OrderID: res.OrderID, Reason: res.Reason}
	}
	return wire.OrderPrepared{OrderID: res.OrderID}
}
