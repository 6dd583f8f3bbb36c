package robot

import (
	"log"
	"net"
	"time"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
	"github.com/dreamware/gelato/internal/ring"
	"github.com/dreamware/gelato/internal/wire"
)

// nodeEvent is the node's internal mailbox traffic: timer expiries, scoop
// completions, dial results, and ring messages looped back to self when
// the robot is alone.
type nodeEvent interface{ nodeEvent() }

type evTokenTimeout struct{ flavor flavor.ID }
type evScoopDone struct{}
type evForwardToken struct{ token flavor.Token }
type evSelfDeliver struct{ msg wire.Message }
type evLeaderDialed struct {
	leader int
	conn   net.Conn
	err    error
}
type evElectionCheck struct{}
type evShutdown struct{ done chan struct{} }

func (evTokenTimeout) nodeEvent()  {}
func (evScoopDone) nodeEvent()     {}
func (evForwardToken) nodeEvent()  {}
func (evSelfDeliver) nodeEvent()   {}
func (evLeaderDialed) nodeEvent()  {}
func (evElectionCheck) nodeEvent() {}
func (evShutdown) nodeEvent()      {}

// Node is one robot: a single-goroutine actor owning every link the robot
// participates in. State is never locked — all mutation happens on the
// run loop.
type Node struct {
	id  int
	cfg *config.Config

	links net.Listener
	inbox chan ring.Event
	local chan nodeEvent

	next   *ring.Link
	nextID int // own id once confirmed alone, -1 while unknown
	prev   *ring.Link

	leaderID   int // -1 until a leader is known
	epoch      uint64
	leaderLink *ring.Link
	reports    []wire.Message // results waiting for a leader link

	elect  *elector
	tokens *tokenService
	mgr    *manager
	backup *order.LeaderSnapshot

	leader *LeaderActor
}

// NewNode builds a robot node for the given id.
func NewNode(cfg *config.Config, id int) *Node {
	n := &Node{
		id:       id,
		cfg:      cfg,
		inbox:    make(chan ring.Event, 256),
		local:    make(chan nodeEvent, 256),
		nextID:   -1,
		leaderID: -1,
		elect:    newElector(id),
		mgr:      newManager(cfg.ScoopTime),
	}
	n.tokens = newTokenService(id, cfg.TokenTimeout, cfg.InitialQty, func(f flavor.ID) {
		n.post(evTokenTimeout{flavor: f})
	})
	return n
}

// post delivers an internal event without ever blocking the run loop:
// handlers post to their own mailbox, so a full channel falls back to an
// async send.
func (n *Node) post(ev nodeEvent) {
	select {
	case n.local <- ev:
	default:
		go func() { n.local <- ev }()
	}
}

// Run joins the ring and processes events until Shutdown. It returns only
// after a clean shutdown.
func (n *Node) Run() error {
	ln, err := ring.Listen(n.cfg.RobotAddr(n.id))
	if err != nil {
		return err
	}
	n.links = ln
	go ring.Serve(ln, func(conn net.Conn) {
		// The first message identifies the peer and its role.
		ring.Attach(conn, ring.Peer{Role: ring.RolePeerRobot, ID: -1}, n.inbox)
	})

	n.join()
	n.tokens.startTimers()

	for {
		select {
		case ev := <-n.inbox:
			if n.handleRing(ev) {
				return nil
			}
		case ev := <-n.local:
			if n.handleLocal(ev) {
				return nil
			}
		}
	}
}

// Shutdown asks the node to wind down cleanly and waits for it.
func (n *Node) Shutdown() {
	done := make(chan struct{})
	n.post(evShutdown{done: done})
	<-done
}

// join scans the well-known addresses for both neighbors. Alone, the node
// self-proclaims leadership and mints the flavor tokens.
func (n *Node) join() {
	n.dialNext(true)
	n.dialPrev()
	if n.next == nil && n.prev != nil {
		n.nextID = -1 // a neighbor exists; retry the outgoing side on demand
	}

	if n.next == nil && n.prev == nil {
		log.Printf("robot[%d] alone in the ring, taking leadership", n.id)
		n.nextID = n.id
		n.adoptLeader(n.id, 0, false)
		for _, f := range flavor.All() {
			tok := flavor.NewToken(f, n.cfg.InitialQty(f))
			n.post(evSelfDeliver{msg: wire.Token{Token: tok}})
		}
		return
	}

	// A populated ring answers JoinRing with the sitting leader. If the
	// answer never comes (neighbors are joining too), elect one.
	time.AfterFunc(4*n.cfg.ReconnectBackoff, func() { n.post(evElectionCheck{}) })
}

// dialNext connects to the first live robot clockwise. join is true only
// for the initial splice, which announces with JoinRing (and gets the
// sitting leader back) instead of SetPreviousRobot.
func (n *Node) dialNext(join bool) {
	for i := 1; i < n.cfg.MaxRobots; i++ {
		target := (n.id + i) % n.cfg.MaxRobots
		conn, err := ring.Dial(n.cfg.RobotAddr(target))
		if err != nil {
			continue
		}
		if n.next != nil {
			n.next.Close()
		}
		n.next = ring.Attach(conn, ring.Peer{Role: ring.RolePeerRobot, ID: target}, n.inbox)
		n.nextID = target
		if join {
			n.next.Send(wire.JoinRing{ID: n.id})
		} else {
			n.next.Send(wire.SetPreviousRobot{ID: n.id})
		}
		log.Printf("robot[%d] next neighbor is robot %d", n.id, target)
		return
	}
	n.next = nil
	n.nextID = n.id // nobody else is alive
}

// dialPrev connects to the first live robot counter-clockwise and
// announces this node as its next neighbor.
func (n *Node) dialPrev() {
	for i := 1; i < n.cfg.MaxRobots; i++ {
		target := (n.id - i + n.cfg.MaxRobots*2) % n.cfg.MaxRobots
		conn, err := ring.Dial(n.cfg.RobotAddr(target))
		if err != nil {
			continue
		}
		link := ring.Attach(conn, ring.Peer{Role: ring.RolePeerRobot, ID: target}, n.inbox)
		link.Send(wire.SetNextRobot{ID: n.id})
		if n.prev != nil {
			n.prev.Close()
		}
		n.prev = link
		log.Printf("robot[%d] previous neighbor is robot %d", n.id, target)
		return
	}
}

// ringSend passes a message clockwise, repairing the outgoing link first
// if it is down. Alone, the message loops back to self so ring algorithms
// keep working in a one-robot ring.
func (n *Node) ringSend(m wire.Message) {
	if n.next == nil && n.nextID != n.id {
		n.dialNext(false)
	}
	if n.next != nil {
		n.next.Send(m)
		return
	}
	n.post(evSelfDeliver{msg: m})
}

func (n *Node) handleRing(ev ring.Event) (stop bool) {
	switch e := ev.(type) {
	case ring.Inbound:
		n.handleMessage(e.Msg, e.Link)
	case ring.PeerLost:
		n.handlePeerLost(e)
	}
	return false
}

func (n *Node) handlePeerLost(e ring.PeerLost) {
	switch e.Link {
	case n.next:
		lost := n.nextID
		n.next = nil
		n.nextID = -1
		log.Printf("robot[%d] next neighbor %d lost, reconnecting", n.id, lost)
		n.dialNext(false)
		if n.elect.inFlight() {
			// The dead neighbor may have taken an election with it.
			n.ringSend(n.elect.start())
		}
	case n.prev:
		// The dead robot's previous neighbor dials us; nothing to do.
		log.Printf("robot[%d] previous neighbor lost", n.id)
		n.prev = nil
	case n.leaderLink:
		n.leaderLink = nil
		if n.leaderID == n.id {
			return // own leader actor going away during shutdown
		}
		log.Printf("robot[%d] leader %d lost, starting election", n.id, n.leaderID)
		n.startElection()
	}
}

func (n *Node) handleMessage(msg wire.Message, link *ring.Link) {
	switch m := msg.(type) {
	case wire.JoinRing:
		n.adoptPrev(link, m.ID, true)
	case wire.SetPreviousRobot:
		n.adoptPrev(link, m.ID, false)
	case wire.SetNextRobot:
		if n.next != nil && n.next != link {
			n.next.Close()
		}
		link.Identify(ring.Peer{Role: ring.RolePeerRobot, ID: m.ID})
		n.next = link
		n.nextID = m.ID
		log.Printf("robot[%d] next neighbor is now robot %d", n.id, m.ID)
	case wire.Election:
		n.handleElection(m)
	case wire.NewLeader:
		n.adoptLeader(m.Leader, m.Epoch, true)
	case wire.LeaderBackup:
		snap := m.Snapshot
		n.backup = &snap
		n.elect.noteBackup()
	case wire.PrepareOrder:
		if n.mgr.busy() {
			log.Printf("robot[%d] already preparing, refusing order %s", n.id, m.Order.ID)
			n.sendLeader(wire.OrderNotFinished{OrderID: m.Order.ID, Reason: wire.ReasonShutdown})
			return
		}
		log.Printf("robot[%d] preparing order %s", n.id, m.Order.ID)
		n.mgr.begin(m.Order)
	case wire.Token:
		n.handleToken(m.Token)
	case wire.TokenProbe:
		n.handleProbe(m)
	default:
		if link != nil {
			log.Printf("robot[%d] unexpected %T on %s link, closing", n.id, m, link.Peer())
			link.Close()
		}
	}
}

// adoptPrev installs link as the incoming ring link. JoinRing (a fresh
// splice) additionally gets the sitting leader back so joiners skip an
// election.
func (n *Node) adoptPrev(link *ring.Link, id int, joined bool) {
	if n.prev != nil && n.prev != link {
		n.prev.Close()
	}
	link.Identify(ring.Peer{Role: ring.RolePeerRobot, ID: id})
	n.prev = link
	log.Printf("robot[%d] previous neighbor is now robot %d", n.id, id)
	if joined && n.leaderID >= 0 {
		link.Send(wire.NewLeader{Leader: n.leaderID, Epoch: n.epoch})
	}
}

func (n *Node) handleElection(m wire.Election) {
	grown, winner, outcome := n.elect.observe(m)
	switch outcome {
	case electionForward:
		n.ringSend(grown)
	case electionWon:
		log.Printf("robot[%d] election finished, winner is robot %d", n.id, winner)
		n.adoptLeader(winner, n.epoch+1, true)
	case electionDrop:
		log.Printf("robot[%d] suppressing election from originator %d", n.id, m.Originator)
	}
}

// adoptLeader installs a leader for a new epoch: it updates the local
// pointers, forwards the announcement clockwise (the epoch check stops it
// once it has circled), and either starts the leader role or connects to
// the winner.
func (n *Node) adoptLeader(leader int, epoch uint64, forward bool) {
	if n.leaderID >= 0 && epoch <= n.epoch {
		return // already adopted; this stops ring circulation
	}
	n.leaderID = leader
	n.epoch = epoch
	n.elect.reset()
	log.Printf("robot[%d] leader is robot %d at epoch %d", n.id, leader, epoch)

	if forward {
		n.ringSend(wire.NewLeader{Leader: leader, Epoch: epoch})
	}

	if leader == n.id {
		n.becomeLeader(epoch)
	} else if n.leader != nil {
		n.leader.Stop()
		n.leader = nil
	}
	n.connectLeader(leader)
}

// becomeLeader starts the leader actor in this process. Any in-flight
// order is abandoned (the inherited snapshot re-queues it) and a held
// token goes back to the ring with its decrement reversed.
func (n *Node) becomeLeader(epoch uint64) {
	if n.leader != nil {
		n.leader.Stop()
		n.leader = nil
	}
	if n.mgr.busy() {
		tok, release, id, _ := n.mgr.shutdownRelease()
		log.Printf("robot[%d] abandoning order %s to serve as leader", n.id, id)
		if release {
			n.ringSend(wire.Token{Token: tok})
		}
	}

	actor, err := StartLeaderActor(n.cfg, n.id, epoch, n.backup)
	if err != nil {
		log.Printf("robot[%d] cannot serve as leader: %v", n.id, err)
		return
	}
	n.leader = actor
}

// connectLeader registers this node as a worker with the leader, over
// loopback when the leader lives in this very process.
func (n *Node) connectLeader(leader int) {
	addr := n.cfg.LeaderAddr(leader)
	backoff := n.cfg.ReconnectBackoff
	go func() {
		conn, err := ring.DialRetry(addr, backoff, 5)
		n.post(evLeaderDialed{leader: leader, conn: conn, err: err})
	}()
}

func (n *Node) handleToken(t flavor.Token) {
	n.tokens.observe(t)
	switch n.mgr.offer(t) {
	case decideServe:
		d := n.mgr.hold(t)
		time.AfterFunc(d, func() { n.post(evScoopDone{}) })
	case decideAbort:
		id, reason := n.mgr.abort(t.Flavor)
		log.Printf("robot[%d] aborting order %s: %s", n.id, id, reason)
		n.sendLeader(wire.OrderNotFinished{OrderID: id, Reason: reason})
		n.forwardToken(t)
	case decideForward:
		n.forwardToken(t)
	}
}

// forwardToken passes a token on after the configured hop pause, so an
// idle ring does not spin tokens at CPU speed.
func (n *Node) forwardToken(t flavor.Token) {
	time.AfterFunc(n.cfg.TokenHopDelay, func() { n.post(evForwardToken{token: t}) })
}

func (n *Node) handleProbe(m wire.TokenProbe) {
	grown, rebuilt, action := n.tokens.handleProbe(m)
	switch action {
	case probeForward:
		n.ringSend(grown)
	case probeEmit:
		log.Printf("robot[%d] token for %s rebuilt at version %d with %d remaining",
			n.id, rebuilt.Flavor, rebuilt.Version, rebuilt.Remaining)
		n.handleToken(rebuilt)
	case probeDrop:
	}
}

// sendLeader delivers a worker report, parking it if no leader link is up;
// parked reports flush as soon as a leader registration completes.
func (n *Node) sendLeader(m wire.Message) {
	if n.leaderLink == nil {
		n.reports = append(n.reports, m)
		return
	}
	n.leaderLink.Send(m)
}

func (n *Node) handleLocal(ev nodeEvent) (stop bool) {
	switch e := ev.(type) {
	case evTokenTimeout:
		log.Printf("robot[%d] token for %s presumed lost, probing", n.id, e.flavor)
		n.ringSend(n.tokens.timerExpired(e.flavor))
	case evScoopDone:
		if !n.mgr.serving {
			break // the order was abandoned mid-scoop
		}
		tok, id, done := n.mgr.finishScoop()
		n.tokens.observe(tok)
		n.ringSend(wire.Token{Token: tok})
		if done {
			log.Printf("robot[%d] order %s complete", n.id, id)
			n.sendLeader(wire.OrderComplete{OrderID: id})
		}
	case evForwardToken:
		n.ringSend(wire.Token{Token: e.token})
	case evSelfDeliver:
		n.handleMessage(e.msg, nil)
	case evLeaderDialed:
		n.finishLeaderDial(e)
	case evElectionCheck:
		if n.leaderID < 0 && !n.elect.inFlight() {
			log.Printf("robot[%d] no leader announced, starting election", n.id)
			n.startElection()
		}
	case evShutdown:
		n.shutdown()
		close(e.done)
		return true
	}
	return false
}

func (n *Node) finishLeaderDial(e evLeaderDialed) {
	if e.leader != n.leaderID {
		if e.conn != nil {
			_ = e.conn.Close()
		}
		return // a newer leader was adopted while dialing
	}
	if e.err != nil {
		log.Printf("robot[%d] cannot reach leader %d: %v", n.id, e.leader, e.err)
		n.startElection()
		return
	}
	if n.leaderLink != nil {
		n.leaderLink.Close()
	}
	n.leaderLink = ring.Attach(e.conn, ring.Peer{Role: ring.RolePeerLeader, ID: e.leader}, n.inbox)
	n.leaderLink.Send(wire.JoinRing{ID: n.id})
	for _, m := range n.reports {
		n.leaderLink.Send(m)
	}
	n.reports = nil
}

func (n *Node) startElection() {
	if n.elect.inFlight() {
		return
	}
	n.ringSend(n.elect.start())
}

// shutdown releases the held token (reversing an uncompleted scoop),
// reports any unfinished order so the leader re-queues it, and tears the
// links down.
func (n *Node) shutdown() {
	log.Printf("robot[%d] shutting down", n.id)
	n.tokens.stopTimers()

	tok, release, id, unfinished := n.mgr.shutdownRelease()
	if release {
		n.ringSend(wire.Token{Token: tok})
	}
	if unfinished && n.leaderLink != nil {
		n.leaderLink.Send(wire.OrderNotFinished{OrderID: id, Reason: wire.ReasonShutdown})
	}

	// Let queued frames drain before the links drop.
	time.Sleep(200 * time.Millisecond)

	if n.leader != nil {
		n.leader.Stop()
	}
	_ = n.links.Close()
	for _, l := range []*ring.Link{n.next, n.prev, n.leaderLink} {
		if l != nil {
			l.Close()
		}
	}
}
