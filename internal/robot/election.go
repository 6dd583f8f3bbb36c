package robot

import "github.com/dreamware/gelato/internal/wire"

// elector tracks one robot's view of ring elections. It is owned by the
// node goroutine and never locked.
//
// A candidate is eligible to win only if it holds a replica of the
// previous leader's snapshot; among eligible candidates the highest id
// wins. At bootstrap nobody holds a snapshot, so the highest id wins
// outright. Concurrent elections are collapsed by originator id: a robot
// that has already propagated an election drops incoming elections with a
// lower originator.
type elector struct {
	self      int
	hasBackup bool

	// originator of the election most recently propagated, or -1 when no
	// election is in flight from this robot's point of view.
	originator int
}

func newElector(self int) *elector {
	return &elector{self: self, originator: -1}
}

// noteBackup records that this robot holds a leader snapshot replica and
// is therefore eligible to win.
func (e *elector) noteBackup() { e.hasBackup = true }

// inFlight reports whether this robot has propagated an election that has
// not resolved yet.
func (e *elector) inFlight() bool { return e.originator >= 0 }

// reset clears election state once a NewLeader announcement lands.
func (e *elector) reset() { e.originator = -1 }

// start opens a new election with this robot as the only candidate.
func (e *elector) start() wire.Election {
	e.originator = e.self
	return wire.Election{
		Originator: e.self,
		Candidates: []wire.Candidate{{ID: e.self, HasBackup: e.hasBackup}},
	}
}

// electionOutcome is what observe decided to do with an incoming election.
type electionOutcome int

const (
	// electionForward: the candidate list grew; pass it clockwise.
	electionForward electionOutcome = iota
	// electionWon: the election came full circle; the winner is decided.
	electionWon
	// electionDrop: suppressed in favor of a higher-originator election.
	electionDrop
)

// observe processes an incoming election message. For electionForward the
// returned message is the grown election to send clockwise; for
// electionWon the returned winner is the elected robot id.
func (e *elector) observe(msg wire.Election) (wire.Election, int, electionOutcome) {
	for _, c := range msg.Candidates {
		if c.ID == e.self {
			// Full circle: this robot already appended itself, so every
			// live robot is on the list.
			return wire.Election{}, chooseWinner(msg.Candidates), electionWon
		}
	}

	if e.inFlight() && msg.Originator < e.originator {
		return wire.Election{}, 0, electionDrop
	}

	if msg.Originator > e.originator {
		e.originator = msg.Originator
	}
	grown := wire.Election{
		Originator: msg.Originator,
		Candidates: append(append([]wire.Candidate(nil), msg.Candidates...),
			wire.Candidate{ID: e.self, HasBackup: e.hasBackup}),
	}
	return grown, 0, electionForward
}

// chooseWinner picks the highest-id candidate holding a leader backup,
// falling back to the highest id overall when nobody holds one.
func chooseWinner(candidates []wire.Candidate) int {
	winner := -1
	winnerBackup := false
	for _, c := range candidates {
		switch {
		case c.HasBackup && !winnerBackup:
			winner, winnerBackup = c.ID, true
		case c.HasBackup == winnerBackup && c.ID > winner:
			winner = c.ID
		}
	}
	return winner
}
