// Package robot implements the robot process: ring membership, leader
// election, the circulating flavor-token service, per-robot order
// preparation, and the leader role.
//
// A robot is a single process hosting one Node actor. The node owns every
// TCP link the robot participates in (previous and next ring neighbors,
// plus the link to the current leader) and processes all events on one
// goroutine, so no state in the node is ever locked.
//
//	        clockwise ──────────▶
//	   ┌────────┐   ┌────────┐   ┌────────┐
//	   │ robot0 │──▶│ robot1 │──▶│ robot2 │──┐
//	   └────────┘   └────────┘   └────────┘  │
//	        ▲─────────────────────────────────┘
//	            tokens, elections, probes
//
// When a node wins an election it additionally starts a Leader actor in
// the same process. The leader runs on its own goroutine with its own
// listener; every robot, the leader's own node included, registers with it
// over TCP, so dispatch is uniform regardless of where the leader lives.
//
// Failure handling is entirely event driven: a broken next link makes the
// node re-dial clockwise, a broken leader link starts an election, and a
// token unseen for the configured timeout starts probe-based recovery.
package robot
