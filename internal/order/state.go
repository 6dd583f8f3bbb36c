package order

// LeaderState is where an order sits in the leader's dispatch machine.
type LeaderState int

const (
	Queued LeaderState = iota
	Assigned
	Completed
	Aborted
)

// String returns the state name for logs.
func (s LeaderState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Assigned:
		return "assigned"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// ScreenState is where an order sits in the originating screen's payment
// machine. Captured means payment is held but the order has not reached
// the leader yet; Preparing means it has.
type ScreenState int

const (
	Captured ScreenState = iota
	Preparing
	Confirmed
	Voided
)

// String returns the state name for logs.
func (s ScreenState) String() string {
	switch s {
	case Captured:
		return "captured"
	case Preparing:
		return "preparing"
	case Confirmed:
		return "confirmed"
	case Voided:
		return "voided"
	}
	return "unknown"
}

// Pending is a screen's record of one non-terminal order: the order, its
// payment state, and the gateway capture reference needed to settle or
// void it. Pending records are what a screen mirrors to its ring
// successor, so a successor inheriting them can finish the payment phase.
type Pending struct {
	Order      Order       `json:"order"`
	State      ScreenState `json:"state"`
	CaptureRef string      `json:"capture_ref,omitempty"`
}
