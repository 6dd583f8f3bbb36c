package screen

import (
	"log"
	"net"
	"sort"
	"time"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/order"
	"github.com/dreamware/gelato/internal/ring"
	"github.com/dreamware/gelato/internal/wire"
)

// screenEvent is the screen actor's internal mailbox traffic.
type screenEvent interface{ screenEvent() }

type evCaptureNext struct{}
type evLeaderRetry struct{}
type evShutdown struct{ done chan struct{} }

func (evCaptureNext) screenEvent() {}
func (evLeaderRetry) screenEvent() {}
func (evShutdown) screenEvent()    {}

// Screen is one screen process: a single-goroutine actor owning the ring
// links to its neighbors, the link from the robot leader, and the payment
// state of every order it is responsible for.
type Screen struct {
	id  int
	cfg *config.Config

	ln    net.Listener
	inbox chan ring.Event
	local chan screenEvent

	succ   *ring.Link
	succID int
	pred   *ring.Link

	leaderID   int
	leaderLink *ring.Link

	gw      *PaymentGateway
	waiting []order.Order
	pending map[order.ID]*order.Pending

	// backups holds predecessors' mirrored order sets, keyed by owner.
	// Normally only the direct predecessor's is present.
	backups map[int][]order.Pending

	// adoptions not yet announced to the leader (no link at the time).
	adoptions []int
}

// New builds a screen that will work through the given orders.
func New(cfg *config.Config, id int, orders []order.Order) *Screen {
	return &Screen{
		id:       id,
		cfg:      cfg,
		inbox:    make(chan ring.Event, 256),
		local:    make(chan screenEvent, 64),
		succID:   -1,
		leaderID: -1,
		gw:       NewPaymentGateway(cfg.PaymentFailureProbability),
		waiting:  orders,
		pending:  make(map[order.ID]*order.Pending),
		backups:  make(map[int][]order.Pending),
	}
}

// Run joins the screen ring and processes orders and events until
// Shutdown.
func (s *Screen) Run() error {
	ln, err := ring.Listen(s.cfg.ScreenAddr(s.id))
	if err != nil {
		return err
	}
	s.ln = ln
	go ring.Serve(ln, func(conn net.Conn) {
		// The first message identifies the peer: NewLeader marks the
		// robot leader, anything else the ring predecessor.
		ring.Attach(conn, ring.Peer{Role: ring.RolePeerScreen, ID: -1}, s.inbox)
	})

	s.dialSuccessor()
	s.post(evCaptureNext{})

	for {
		select {
		case ev := <-s.inbox:
			s.handleRing(ev)
		case ev := <-s.local:
			if s.handleLocal(ev) {
				return nil
			}
		}
	}
}

// Shutdown winds the screen down and waits for the run loop to exit.
func (s *Screen) Shutdown() {
	done := make(chan struct{})
	s.post(evShutdown{done: done})
	<-done
}

func (s *Screen) post(ev screenEvent) {
	select {
	case s.local <- ev:
	default:
		go func() { s.local <- ev }()
	}
}

// dialSuccessor connects to the nearest live screen clockwise and
// introduces itself by mirroring its current backup.
func (s *Screen) dialSuccessor() {
	for i := 1; i < s.cfg.MaxScreens; i++ {
		target := (s.id + i) % s.cfg.MaxScreens
		conn, err := ring.Dial(s.cfg.ScreenAddr(target))
		if err != nil {
			continue
		}
		if s.succ != nil {
			s.succ.Close()
		}
		s.succ = ring.Attach(conn, ring.Peer{Role: ring.RolePeerScreen, ID: target}, s.inbox)
		s.succID = target
		log.Printf("screen[%d] backing up to screen %d", s.id, target)
		s.mirror()
		return
	}
	s.succ = nil
	s.succID = -1
}

// mirror pushes the full pending set to the successor. Called after every
// change so the successor's copy is never stale.
func (s *Screen) mirror() {
	if s.succ == nil {
		return
	}
	s.succ.Send(wire.TakeMyBackup{Owner: s.id, Orders: s.pendingList()})
}

// pendingList renders the pending set deterministically ordered.
func (s *Screen) pendingList() []order.Pending {
	list := make([]order.Pending, 0, len(s.pending))
	for _, p := range s.pending {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].Order.ID, list[j].Order.ID
		if a.Screen != b.Screen {
			return a.Screen < b.Screen
		}
		return a.Seq < b.Seq
	})
	return list
}

func (s *Screen) handleRing(ev ring.Event) {
	switch e := ev.(type) {
	case ring.Inbound:
		s.handleMessage(e.Msg, e.Link)
	case ring.PeerLost:
		s.handlePeerLost(e)
	}
}

func (s *Screen) handleMessage(msg wire.Message, link *ring.Link) {
	switch m := msg.(type) {
	case wire.NewLeader:
		s.adoptLeaderLink(m.Leader, link)
	case wire.TakeMyBackup:
		link.Identify(ring.Peer{Role: ring.RolePeerScreen, ID: m.Owner})
		if s.pred != nil && s.pred != link {
			s.pred.Close()
		}
		s.pred = link
		s.backups[m.Owner] = m.Orders
	case wire.RequestRobotLeaderConnection:
		s.relayLeaderRequest(m)
	case wire.OrderPrepared:
		s.settle(m.OrderID, false, "")
	case wire.OrderAborted:
		s.settle(m.OrderID, true, m.Reason)
	default:
		log.Printf("screen[%d] unexpected %T from %s, closing link", s.id, m, link.Peer())
		link.Close()
	}
}

// adoptLeaderLink installs the connection the robot leader dialed in.
func (s *Screen) adoptLeaderLink(leader int, link *ring.Link) {
	link.Identify(ring.Peer{Role: ring.RolePeerLeader, ID: leader})
	if s.leaderLink != nil && s.leaderLink != link {
		s.leaderLink.Close()
	}
	s.leaderLink = link
	s.leaderID = leader
	log.Printf("screen[%d] connected to leader robot %d", s.id, leader)

	// Announce adoptions that happened while no leader was reachable,
	// then submit captured orders that never went out.
	for _, owner := range s.adoptions {
		s.leaderLink.Send(wire.AdoptOrders{OldScreen: owner, NewScreen: s.id})
	}
	s.adoptions = nil
	s.submitCaptured()
}

// submitCaptured sends every order still in the captured state to the
// leader, moving it to preparing.
func (s *Screen) submitCaptured() {
	if s.leaderLink == nil {
		return
	}
	changed := false
	for _, p := range s.pending {
		if p.State != order.Captured {
			continue
		}
		s.leaderLink.Send(wire.PrepareNewOrder{Order: p.Order})
		p.State = order.Preparing
		changed = true
		log.Printf("screen[%d] submitted order %s", s.id, p.Order.ID)
	}
	if changed {
		s.mirror()
	}
}

// relayLeaderRequest walks a connection request around the ring until a
// screen with a leader link forwards it up. A request that loops all the
// way back to its subject dies quietly.
func (s *Screen) relayLeaderRequest(m wire.RequestRobotLeaderConnection) {
	if m.Screen == s.id {
		return
	}
	if s.leaderLink != nil {
		s.leaderLink.Send(m)
		return
	}
	if s.succ != nil {
		s.succ.Send(m)
	}
}

// settle finishes phase three of an order's 2PC: confirm the payment on
// success, void it on abort.
func (s *Screen) settle(id order.ID, aborted bool, reason string) {
	p, ok := s.pending[id]
	if !ok {
		log.Printf("screen[%d] result for unknown order %s ignored", s.id, id)
		return
	}
	if aborted {
		p.State = order.Voided
		if err := s.gw.Void(p.CaptureRef, reason); err != nil {
			log.Printf("screen[%d] %v", s.id, err)
		}
		log.Printf("screen[%d] order %s voided: %s", s.id, id, reason)
	} else {
		p.State = order.Confirmed
		if err := s.gw.Confirm(p.CaptureRef); err != nil {
			log.Printf("screen[%d] %v", s.id, err)
		}
		log.Printf("screen[%d] order %s confirmed", s.id, id)
	}
	delete(s.pending, id)
	s.mirror()
	s.checkDrained()
}

func (s *Screen) checkDrained() {
	if len(s.waiting) == 0 && len(s.pending) == 0 {
		log.Printf("screen[%d] all orders settled", s.id)
	}
}

func (s *Screen) handlePeerLost(e ring.PeerLost) {
	switch e.Link {
	case s.pred:
		s.pred = nil
		s.adoptFrom(e.Peer.ID)
	case s.succ:
		log.Printf("screen[%d] successor %d lost, reconnecting", s.id, s.succID)
		s.succ = nil
		s.succID = -1
		s.dialSuccessor()
	case s.leaderLink:
		log.Printf("screen[%d] leader link lost", s.id)
		s.leaderLink = nil
		s.leaderID = -1
		// A new leader re-dials screens it knows from the snapshot; ask
		// through the ring if that never happens.
		time.AfterFunc(4*s.cfg.ReconnectBackoff, func() { s.post(evLeaderRetry{}) })
	}
}

// adoptFrom promotes a dead predecessor's mirrored orders into this
// screen's own pending set and redirects the leader's notifications here.
func (s *Screen) adoptFrom(owner int) {
	orders, ok := s.backups[owner]
	if !ok || owner < 0 {
		log.Printf("screen[%d] predecessor lost with no backup to adopt", s.id)
		return
	}
	delete(s.backups, owner)
	log.Printf("screen[%d] adopting %d orders from dead screen %d", s.id, len(orders), owner)

	for i := range orders {
		p := orders[i]
		from := owner
		p.Order.AdoptedFrom = &from
		s.gw.Adopt(p.CaptureRef, p.Order.ID)
		s.pending[p.Order.ID] = &p
	}

	// Re-mirror immediately so a second failure loses nothing, then
	// tell the leader where the orders now live.
	s.mirror()
	if s.leaderLink != nil {
		s.leaderLink.Send(wire.AdoptOrders{OldScreen: owner, NewScreen: s.id})
	} else {
		s.adoptions = append(s.adoptions, owner)
		s.requestLeaderConnection()
	}
	s.submitCaptured()
}

func (s *Screen) requestLeaderConnection() {
	if s.succ == nil {
		return
	}
	s.succ.Send(wire.RequestRobotLeaderConnection{Screen: s.id})
}

func (s *Screen) handleLocal(ev screenEvent) (stop bool) {
	switch e := ev.(type) {
	case evCaptureNext:
		s.captureNext()
	case evLeaderRetry:
		if s.leaderLink == nil {
			s.requestLeaderConnection()
			time.AfterFunc(4*s.cfg.ReconnectBackoff, func() { s.post(evLeaderRetry{}) })
		}
	case evShutdown:
		s.shutdown()
		close(e.done)
		return true
	}
	return false
}

// captureNext runs phase one for the next waiting order: capture payment,
// void on decline, and hand successful captures to the work phase.
func (s *Screen) captureNext() {
	if len(s.waiting) == 0 {
		s.checkDrained()
		return
	}
	o := s.waiting[0]
	s.waiting = s.waiting[1:]

	ref, err := s.gw.Capture(o)
	if err != nil {
		log.Printf("screen[%d] order %s voided: %v", s.id, o.ID, err)
		s.post(evCaptureNext{})
		return
	}

	if len(o.Items) == 0 {
		// Nothing to prepare; settle right away.
		if err := s.gw.Confirm(ref); err != nil {
			log.Printf("screen[%d] %v", s.id, err)
		}
		log.Printf("screen[%d] order %s confirmed", s.id, o.ID)
		s.post(evCaptureNext{})
		return
	}

	s.pending[o.ID] = &order.Pending{Order: o, State: order.Captured, CaptureRef: ref}
	s.mirror()
	if s.leaderLink != nil {
		s.submitCaptured()
	} else {
		s.requestLeaderConnection()
	}
	s.post(evCaptureNext{})
}

func (s *Screen) shutdown() {
	log.Printf("screen[%d] shutting down", s.id)
	time.Sleep(200 * time.Millisecond)
	_ = s.ln.Close()
	for _, l := range []*ring.Link{s.succ, s.pred, s.leaderLink} {
		if l != nil {
			l.Close()
		}
	}
}
