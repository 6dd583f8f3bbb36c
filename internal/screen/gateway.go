package screen

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/google/uuid"

	"github.com/dreamware/gelato/internal/order"
)

// ErrCaptureDeclined is returned when the simulated card processor
// declines a capture. The order is voided before it ever reaches the
// leader.
var ErrCaptureDeclined = errors.New("payment capture declined")

// PaymentGateway simulates the payment processor: captures fail with a
// configured probability, successful captures get a reference that later
// settles (confirm) or releases (void) the held payment.
//
// Owned by the screen goroutine; no locking.
type PaymentGateway struct {
	failureProbability float64
	roll               func() float64
	captures           map[string]order.ID
}

// NewPaymentGateway builds a gateway with the configured decline
// probability.
func NewPaymentGateway(failureProbability float64) *PaymentGateway {
	return &PaymentGateway{
		failureProbability: failureProbability,
		roll:               rand.Float64,
		captures:           make(map[string]order.ID),
	}
}

// Capture attempts to hold payment for an order. On success it returns
// the capture reference the eventual settle or void must present.
func (g *PaymentGateway) Capture(o order.Order) (string, error) {
	if g.roll() < g.failureProbability {
		return "", ErrCaptureDeclined
	}
	ref := uuid.NewString()
	g.captures[ref] = o.ID
	log.Printf("gateway: captured payment for order %s (ref %s)", o.ID, ref)
	return ref, nil
}

// Adopt registers a capture made by a dead predecessor screen, so this
// screen can settle or void it on the predecessor's behalf.
func (g *PaymentGateway) Adopt(ref string, id order.ID) {
	if ref == "" {
		return
	}
	g.captures[ref] = id
}

// Confirm settles a held capture.
func (g *PaymentGateway) Confirm(ref string) error {
	id, ok := g.captures[ref]
	if !ok {
		return fmt.Errorf("confirm: unknown capture ref %s", ref)
	}
	delete(g.captures, ref)
	log.Printf("gateway: settled payment for order %s", id)
	return nil
}

// Void releases a held capture.
func (g *PaymentGateway) Void(ref, reason string) error {
	id, ok := g.captures[ref]
	if !ok {
		return fmt.Errorf("void: unknown capture ref %s", ref)
	}
	delete(g.captures, ref)
	log.Printf("gateway: voided payment for order %s: %s", id, reason)
	return nil
}

// Held reports how many captures are outstanding.
func (g *PaymentGateway) Held() int { return len(g.captures) }
