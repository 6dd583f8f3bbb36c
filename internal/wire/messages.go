package wire

import (
	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
)

// Message is implemented by every frame that crosses a link.
type Message interface {
	messageType() string
}

// Robot <-> Robot messages.

// JoinRing announces a newcomer. On the ring port it splices the sender in
// as the receiver's new previous neighbor (the receiver answers with the
// current NewLeader); on the leader port it registers the sender as a
// worker.
type JoinRing struct {
	ID int `json:"id"`
}

// SetNextRobot is sent by a robot dialing counter-clockwise: "I am your
// next neighbor now". The receiver adopts the connection as its outgoing
// ring link.
type SetNextRobot struct {
	ID int `json:"id"`
}

// SetPreviousRobot is sent by a robot dialing clockwise during ring
// repair: "I am your previous neighbor now". The receiver adopts the
// connection as its incoming ring link.
type SetPreviousRobot struct {
	ID int `json:"id"`
}

// Candidate is one election participant: its id plus whether it holds a
// replica of the previous leader's snapshot. The winner must hold one, so
// the bit travels with the id.
type Candidate struct {
	ID        int  `json:"id"`
	HasBackup bool `json:"has_backup"`
}

// Election circulates clockwise collecting candidates; it terminates when
// it returns to a robot already on the list. Originator orders concurrent
// elections: a robot drops an incoming Election whose originator is lower
// than one it has already propagated.
type Election struct {
	Originator int         `json:"originator"`
	Candidates []Candidate `json:"candidates"`
}

// NewLeader announces the election result. A robot that already knows a
// leader adopts it only when the epoch exceeds its own, which also stops
// the message once it has gone all the way around. The leader also uses it as its hello when dialing
// screens.
type NewLeader struct {
	Leader int    `json:"leader"`
	Epoch  uint64 `json:"epoch"`
}

// LeaderBackup replicates the leader's snapshot to a follower.
type LeaderBackup struct {
	Snapshot order.LeaderSnapshot `json:"snapshot"`
}

// PrepareOrder assigns an order to a worker robot.
type PrepareOrder struct {
	Order order.Order `json:"order"`
}

// OrderComplete reports a fully served order back to the leader.
type OrderComplete struct {
	OrderID order.ID `json:"order_id"`
}

// OrderNotFinished reports an order the worker could not finish. Reason
// ReasonShutdown means the worker is going away and the order should be
// re-queued; any other reason is order-scoped and aborts it.
type OrderNotFinished struct {
	OrderID order.ID `json:"order_id"`
	Reason  string   `json:"reason"`
}

// Token carries a flavor token one hop clockwise.
type Token struct {
	flavor.Token
}

// TokenProbe circulates after a suspected token loss, collecting each
// robot's last observation of the flavor.
type TokenProbe struct {
	Flavor flavor.ID           `json:"flavor"`
	Trace  []flavor.ProbeEntry `json:"trace"`
}

// Screen <-> Screen messages.

// TakeMyBackup mirrors a screen's full pending-order set to its ring
// successor. It replaces any previous backup held for the same owner.
type TakeMyBackup struct {
	Owner  int             `json:"owner"`
	Orders []order.Pending `json:"orders"`
}

// RequestRobotLeaderConnection asks, hop by hop around the screen ring,
// for the robot leader to dial back the named screen.
type RequestRobotLeaderConnection struct {
	Screen int `json:"screen"`
}

// Screen <-> Leader messages.

// PrepareNewOrder submits a payment-captured order to the leader.
type PrepareNewOrder struct {
	Order order.Order `json:"order"`
}

// OrderPrepared tells the owning screen its order was fully served.
type OrderPrepared struct {
	OrderID order.ID `json:"order_id"`
}

// OrderAborted tells the owning screen its order failed, with the reason.
type OrderAborted struct {
	OrderID order.ID `json:"order_id"`
	Reason  string   `json:"reason"`
}

// AdoptOrders redirects a dead screen's pending notifications to the
// successor that took its orders over.
type AdoptOrders struct {
	OldScreen int `json:"old_screen"`
	NewScreen int `json:"new_screen"`
}

// ReasonShutdown is the OrderNotFinished reason for a voluntary worker
// shutdown; the leader re-queues instead of aborting.
const ReasonShutdown = "shutdown"

func (JoinRing) messageType() string                     { return "JoinRing" }
func (SetNextRobot) messageType() string                 { return "SetNextRobot" }
func (SetPreviousRobot) messageType() string             { return "SetPreviousRobot" }
func (Election) messageType() string                     { return "Election" }
func (NewLeader) messageType() string                    { return "NewLeader" }
func (LeaderBackup) messageType() string                 { return "LeaderBackup" }
func (PrepareOrder) messageType() string                 { return "PrepareOrder" }
func (OrderComplete) messageType() string                { return "OrderComplete" }
func (OrderNotFinished) messageType() string             { return "OrderNotFinished" }
func (Token) messageType() string                        { return "Token" }
func (TokenProbe) messageType() string                   { return "TokenProbe" }
func (TakeMyBackup) messageType() string                 { return "TakeMyBackup" }
func (RequestRobotLeaderConnection) messageType() string { return "RequestRobotLeaderConnection" }
func (PrepareNewOrder) messageType() string              { return "PrepareNewOrder" }
func (OrderPrepared) messageType() string                { return "OrderPrepared" }
func (OrderAborted) messageType() string                 { return "OrderAborted" }
func (AdoptOrders) messageType() string                  { return "AdoptOrders" }
