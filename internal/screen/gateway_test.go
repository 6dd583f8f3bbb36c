package screen

import (
	"testing"

	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayOrder(t *testing.T) order.Order {
	t.Helper()
	o, err := order.New(order.ID{Screen: 0, Seq: 1}, []order.Item{{Flavor: flavor.Vanilla, Qty: 250}})
	require.NoError(t, err)
	return o
}

// TestGatewayCaptureAndConfirm verifies the happy 2PC path: capture holds
// the payment, confirm settles and releases the reference.
func TestGatewayCaptureAndConfirm(t *testing.T) {
	g := NewPaymentGateway(0)

	ref, err := g.Capture(gatewayOrder(t))
	require.NoError(t, err)
	require.NotEmpty(t, ref)
	assert.Equal(t, 1, g.Held())

	require.NoError(t, g.Confirm(ref))
	assert.Equal(t, 0, g.Held())

	// A second settle of the same capture must fail.
	assert.Error(t, g.Confirm(ref))
}

// TestGatewayCaptureDeclined verifies a decline holds nothing.
func TestGatewayCaptureDeclined(t *testing.T) {
	g := NewPaymentGateway(1)
	g.roll = func() float64 { return 0.5 }

	_, err := g.Capture(gatewayOrder(t))
	assert.ErrorIs(t, err, ErrCaptureDeclined)
	assert.Equal(t, 0, g.Held())
}

// TestGatewayVoid verifies voiding releases the capture.
func TestGatewayVoid(t *testing.T) {
	g := NewPaymentGateway(0)
	ref, err := g.Capture(gatewayOrder(t))
	require.NoError(t, err)

	require.NoError(t, g.Void(ref, "insufficient stock: Vanilla"))
	assert.Equal(t, 0, g.Held())
	assert.Error(t, g.Void(ref, "again"))
}

// TestGatewayAdopt verifies an inherited capture settles under the
// adopting screen's gateway.
func TestGatewayAdopt(t *testing.T) {
	g := NewPaymentGateway(0)
	g.Adopt("ref-from-dead-screen", order.ID{Screen: 0, Seq: 7})
	assert.Equal(t, 1, g.Held())
	assert.NoError(t, g.Confirm("ref-from-dead-screen"))

	// Blank refs (never-captured backups) are ignored.
	g.Adopt("", order.ID{Screen: 0, Seq: 8})
	assert.Equal(t, 0, g.Held())
}

// TestGatewayUniqueRefs verifies each capture gets its own reference.
func TestGatewayUniqueRefs(t *testing.T) {
	g := NewPaymentGateway(0)
	a, err := g.Capture(gatewayOrder(t))
	require.NoError(t, err)
	b, err := g.Capture(gatewayOrder(t))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
