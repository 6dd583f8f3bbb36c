package ring

import (
	"bufio"
	"bytes"
	"log"
	"net"
	"sync"

	"github.com/dreamware/gelato/internal/wire"
)

// Role tags what kind of peer sits on the far side of a link.
type Role int

const (
	// RolePeerRobot is a neighbor on the robot ring.
	RolePeerRobot Role = iota
	// RolePeerScreen is a neighbor on the screen ring.
	RolePeerScreen
	// RolePeerLeader is the robot leader (from a worker's or screen's
	// point of view).
	RolePeerLeader
	// RolePeerWorker is a worker robot (from the leader's point of view).
	RolePeerWorker
)

func (r Role) String() string {
	switch r {
	case RolePeerRobot:
		return "robot"
	case RolePeerScreen:
		return "screen"
	case RolePeerLeader:
		return "leader"
	case RolePeerWorker:
		return "worker"
	}
	return "peer"
}

// Peer identifies the far side of a link. ID may be -1 until the peer has
// introduced itself with its first message.
type Peer struct {
	Role Role
	ID   int
}

// Event is what a link delivers to its owner's inbox: either Inbound or
// PeerLost.
type Event interface {
	event()
}

// Inbound carries one received message.
type Inbound struct {
	From Peer
	Msg  wire.Message
	Link *Link
}

// PeerLost reports a closed or failed link. It is delivered exactly once
// per link, after which no further Inbound events arrive from it.
type PeerLost struct {
	Peer Peer
	Link *Link
}

func (Inbound) event()  {}
func (PeerLost) event() {}

// outboundDepth bounds queued writes per link. A full queue drops the
// frame: by then the peer is either dead (PeerLost is coming) or so far
// behind that ring progress matters more than this frame.
const outboundDepth = 64

// Link owns one TCP connection. Send may be called only by the owning
// actor; events are delivered to the inbox passed at attach time.
type Link struct {
	peer   Peer
	conn   net.Conn
	out    chan []byte
	inbox  chan<- Event
	closed sync.Once
	mu     sync.Mutex // guards peer identity updates vs event delivery
}

// Attach wraps an established connection and starts its reader and writer.
// Events flow into inbox until the connection dies; the owner must keep
// draining inbox or the reader will stall (per-link FIFO backpressure).
func Attach(conn net.Conn, peer Peer, inbox chan<- Event) *Link {
	l := &Link{
		peer:  peer,
		conn:  conn,
		out:   make(chan []byte, outboundDepth),
		inbox: inbox,
	}
	go l.readLoop()
	go l.writeLoop()
	return l
}

// Peer returns the current peer identity.
func (l *Link) Peer() Peer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peer
}

// Identify fills in the peer identity once the far side has introduced
// itself (listeners attach links before the first message names the peer).
func (l *Link) Identify(peer Peer) {
	l.mu.Lock()
	l.peer = peer
	l.mu.Unlock()
}

// Send queues one message. It never blocks: a dead or saturated link drops
// the frame, and the owner learns about death through PeerLost.
func (l *Link) Send(m wire.Message) {
	data, err := wire.Marshal(m)
	if err != nil {
		log.Printf("link[%s]: dropping unencodable message: %v", l.Peer(), err)
		return
	}
	defer func() {
		// Sending on a closed out channel panics; the link is dead and
		// the frame is dropped, which is the documented behavior.
		_ = recover()
	}()
	select {
	case l.out <- data:
	default:
		log.Printf("link[%s]: outbound queue full, dropping %T", l.Peer(), m)
	}
}

// Close tears the link down without emitting PeerLost. Used when the owner
// replaces a link deliberately (ring splice, leader handover).
func (l *Link) Close() {
	l.closed.Do(func() {
		close(l.out)
		_ = l.conn.Close()
	})
}

// fail tears the link down and reports PeerLost to the owner.
func (l *Link) fail() {
	emit := false
	l.closed.Do(func() {
		close(l.out)
		_ = l.conn.Close()
		emit = true
	})
	if emit {
		l.inbox <- PeerLost{Peer: l.Peer(), Link: l}
	}
}

func (l *Link) readLoop() {
	r := bufio.NewReaderSize(l.conn, 64<<10)
	for {
		frame, err := r.ReadBytes('\n')
		if err != nil {
			l.fail()
			return
		}
		frame = bytes.TrimSuffix(frame, []byte("\n"))
		if len(frame) == 0 {
			continue
		}
		if len(frame) > wire.MaxFrame {
			log.Printf("link[%s]: oversized frame, closing", l.Peer())
			l.fail()
			return
		}
		msg, err := wire.Unmarshal(frame)
		if err != nil {
			// Protocol violation: close the offending link.
			log.Printf("link[%s]: %v, closing", l.Peer(), err)
			l.fail()
			return
		}
		l.inbox <- Inbound{From: l.Peer(), Msg: msg, Link: l}
	}
}

func (l *Link) writeLoop() {
	for data := range l.out {
		if _, err := l.conn.Write(append(data, '\n')); err != nil {
			l.fail()
			// Drain remaining queued frames so senders never block.
			for range l.out {
			}
			return
		}
	}
}

func (p Peer) String() string {
	return p.Role.String() + "-" + itoa(p.ID)
}

func itoa(n int) string {
	if n < 0 {
		return "?"
	}
	b := [8]byte{}
	i := len(b)
	for {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return string(b[i:])
}
