// Package order defines orders, their identifiers, and the two state
// machines an order moves through: the leader's dispatch states and the
// originating screen's payment states.
//
// An order is identified by (screen, seq), unique across the cluster
// because seq is allocated by the owning screen. The same order value
// travels unchanged from screen to leader to worker robot; only the state
// attached to it differs per side.
//
// The package also defines LeaderSnapshot, the value the leader replicates
// to every follower after each mutation, and Pending, the screen-side
// record mirrored to a screen's ring successor as its backup.
package order
