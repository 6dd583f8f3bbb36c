// Package screen implements the screen process: the order intake side of
// the system and one member of the screen ring.
//
// A screen reads orders from its orders file, captures payment for each
// through the (simulated) payment gateway, submits captured orders to the
// robot leader, and settles or voids the payment when the leader reports
// the outcome. That capture → prepare → confirm/void bracket is the
// per-order two-phase commit; a payment is only ever settled after the
// order was actually served.
//
// Screens form a unidirectional ring for fault tolerance only: each
// screen mirrors its full pending-order set to its successor on every
// change. When a screen dies (detected as TCP close, like everywhere
// else), its successor promotes the mirrored orders into its own pending
// set, tells the leader to redirect notifications with AdoptOrders, and
// finishes the payment phase for them. Takeover is one hop deep by
// design: the adopter immediately re-mirrors the merged set, so its own
// successor can absorb both sets if it dies too.
package screen
