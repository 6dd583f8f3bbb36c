package robot

import (
	"log"
	"net"
	"time"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/order"
	"github.com/dreamware/gelato/internal/ring"
	"github.com/dreamware/gelato/internal/wire"
)

// leaderEvent is the leader actor's internal mailbox traffic.
type leaderEvent interface{ leaderEvent() }

type evScreenDialed struct {
	screen int
	conn   net.Conn
	err    error
}

type evGraceExpired struct{}

func (evScreenDialed) leaderEvent() {}
func (evGraceExpired) leaderEvent() {}

// LeaderActor runs the Leader state machine on its own goroutine: it owns
// the leader listener, the worker links that register over it, and the
// links it dials out to screens.
type LeaderActor struct {
	l   *Leader
	cfg *config.Config

	ln      net.Listener
	inbox   chan ring.Event
	local   chan leaderEvent
	stop    chan struct{}
	stopped chan struct{}

	links   map[*ring.Link]bool
	dialing map[int]bool // screens with a dial in flight
}

// StartLeaderActor binds the leader port and starts serving the
// leadership. snap is nil at bootstrap and the inherited snapshot after an
// election win.
func StartLeaderActor(cfg *config.Config, id int, epoch uint64, snap *order.LeaderSnapshot) (*LeaderActor, error) {
	var l *Leader
	if snap != nil {
		l = LeaderFromSnapshot(cfg, id, epoch, *snap)
	} else {
		l = NewLeader(cfg, id, epoch)
	}

	ln, err := ring.Listen(cfg.LeaderAddr(id))
	if err != nil {
		return nil, err
	}

	a := &LeaderActor{
		l:       l,
		cfg:     cfg,
		ln:      ln,
		inbox:   make(chan ring.Event, 256),
		local:   make(chan leaderEvent, 64),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		links:   make(map[*ring.Link]bool),
		dialing: make(map[int]bool),
	}

	go ring.Serve(ln, func(conn net.Conn) {
		a.inbox <- ring.Inbound{
			From: ring.Peer{Role: ring.RolePeerWorker, ID: -1},
			Msg:  nil,
			Link: ring.Attach(conn, ring.Peer{Role: ring.RolePeerWorker, ID: -1}, a.inbox),
		}
	})

	go a.run(snap)
	return a, nil
}

// Stop shuts the leader actor down and waits for its goroutine to exit.
func (a *LeaderActor) Stop() {
	close(a.stop)
	<-a.stopped
}

func (a *LeaderActor) run(snap *order.LeaderSnapshot) {
	defer close(a.stopped)
	defer a.teardown()

	log.Printf("leader[%d] serving epoch %d", a.l.id, a.l.epoch)

	// Re-open the screen links the previous leader held; a leader with
	// no snapshot dials every screen id once, and screens that were not
	// up yet are reached later through connection requests relayed
	// through the screen ring.
	if snap != nil {
		for _, s := range a.l.KnownScreens() {
			a.dialScreen(s)
		}
	} else {
		for s := 0; s < a.cfg.MaxScreens; s++ {
			a.dialScreen(s)
		}
	}

	// Workers holding inherited assignments get one registration grace
	// period before their work is stolen back.
	grace := time.AfterFunc(4*a.cfg.ReconnectBackoff, func() {
		select {
		case a.local <- evGraceExpired{}:
		case <-a.stop:
		}
	})
	defer grace.Stop()

	for {
		select {
		case <-a.stop:
			return
		case ev := <-a.inbox:
			a.handleRing(ev)
		case ev := <-a.local:
			a.handleLocal(ev)
		}
	}
}

func (a *LeaderActor) teardown() {
	_ = a.ln.Close()
	for link := range a.links {
		link.Close()
	}
}

func (a *LeaderActor) handleRing(ev ring.Event) {
	switch e := ev.(type) {
	case ring.Inbound:
		if e.Msg == nil {
			// Listener hand-off of a fresh, unidentified link.
			a.links[e.Link] = true
			return
		}
		a.handleMessage(e)
	case ring.PeerLost:
		delete(a.links, e.Link)
		switch e.Peer.Role {
		case ring.RolePeerWorker:
			if e.Peer.ID >= 0 {
				a.l.OnRobotLost(e.Peer.ID)
			}
		case ring.RolePeerScreen:
			if e.Peer.ID >= 0 {
				a.l.OnScreenLost(e.Peer.ID)
			}
		}
	}
}

func (a *LeaderActor) handleMessage(e ring.Inbound) {
	a.links[e.Link] = true
	switch m := e.Msg.(type) {
	case wire.JoinRing:
		e.Link.Identify(ring.Peer{Role: ring.RolePeerWorker, ID: m.ID})
		a.l.RegisterWorker(m.ID, e.Link)
	case wire.OrderComplete:
		a.l.OnOrderComplete(e.From.ID, m.OrderID)
	case wire.OrderNotFinished:
		a.l.OnOrderNotFinished(e.From.ID, m.OrderID, m.Reason)
	case wire.PrepareNewOrder:
		a.l.AcceptOrder(m.Order)
	case wire.AdoptOrders:
		a.l.OnAdoptOrders(m.OldScreen, m.NewScreen)
	case wire.RequestRobotLeaderConnection:
		a.dialScreen(m.Screen)
	default:
		log.Printf("leader[%d] unexpected %T from %s, closing link", a.l.id, m, e.From)
		e.Link.Close()
		delete(a.links, e.Link)
	}
}

func (a *LeaderActor) handleLocal(ev leaderEvent) {
	switch e := ev.(type) {
	case evScreenDialed:
		delete(a.dialing, e.screen)
		if e.err != nil {
			log.Printf("leader[%d] could not reach screen %d: %v", a.l.id, e.screen, e.err)
			return
		}
		link := ring.Attach(e.conn, ring.Peer{Role: ring.RolePeerScreen, ID: e.screen}, a.inbox)
		a.links[link] = true
		link.Send(wire.NewLeader{Leader: a.l.id, Epoch: a.l.epoch})
		a.l.RegisterScreen(e.screen, link)
	case evGraceExpired:
		a.l.RequeueUnregistered()
	}
}

// dialScreen opens a link to one screen unless one is already up or being
// dialed. The dial happens off the actor goroutine; only the result comes
// back through the mailbox.
func (a *LeaderActor) dialScreen(s int) {
	if s < 0 || s >= a.cfg.MaxScreens {
		return
	}
	if _, up := a.l.screens[s]; up || a.dialing[s] {
		return
	}
	a.dialing[s] = true
	addr := a.cfg.ScreenAddr(s)
	backoff := a.cfg.ReconnectBackoff
	go func() {
		conn, err := ring.DialRetry(addr, backoff, 3)
		select {
		case a.local <- evScreenDialed{screen: s, conn: conn, err: err}:
		case <-a.stop:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}
