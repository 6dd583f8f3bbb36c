// Package ring is the framed TCP transport both rings are built on.
//
// A Link wraps one TCP connection: a reader goroutine turns newline-framed
// JSON into wire messages delivered to the owning actor's inbox, and a
// writer goroutine drains an outbound queue. Peer death is signalled
// solely by the connection closing or erroring — TCP delivers a prompt
// local close for OS-level failure and process crash, so no heartbeat
// exists anywhere in the system. When a link dies, exactly one PeerLost
// event reaches the inbox and any queued outbound frames are dropped.
//
// Every link is owned by the task on one side; the remote view is
// reconstructed purely from received messages. Delivery is FIFO per link
// and nothing in the system relies on ordering across links.
package ring
