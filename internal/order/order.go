package order

import (
	"fmt"
	"sort"

	"github.com/dreamware/gelato/internal/flavor"
)

// Standard serving sizes in grams. A kilo splits across up to four
// flavors, smaller sizes across proportionally fewer.
const (
	Kilo    = 1000
	Half    = Kilo / 2
	Quarter = Kilo / 4
)

// ID identifies an order: the owning screen plus a screen-local sequence
// number. The pair is unique cluster-wide without any coordination.
type ID struct {
	Screen int    `json:"screen"`
	Seq    uint64 `json:"seq"`
}

// String renders the id in "screen/seq" form for logs.
func (id ID) String() string { return fmt.Sprintf("%d/%d", id.Screen, id.Seq) }

// Item is one required flavor with its quantity in grams.
type Item struct {
	Flavor flavor.ID `json:"flavor"`
	Qty    uint32    `json:"qty"`
}

// Order is the unit of work the cluster processes. Items never contain the
// same flavor twice. AdoptedFrom is set only after a screen takeover, and
// records the dead screen the order was inherited from.
type Order struct {
	ID          ID     `json:"order_id"`
	Screen      int    `json:"screen"`
	Items       []Item `json:"items"`
	AdoptedFrom *int   `json:"adopted_from,omitempty"`
}

// New builds an order after validating that no flavor repeats and every
// flavor is a member of the enumeration.
func New(id ID, items []Item) (Order, error) {
	seen := make(map[flavor.ID]bool, len(items))
	for _, it := range items {
		if !it.Flavor.Valid() {
			return Order{}, fmt.Errorf("order %s: invalid flavor %d", id, int(it.Flavor))
		}
		if seen[it.Flavor] {
			return Order{}, fmt.Errorf("order %s: duplicate flavor %s", id, it.Flavor)
		}
		seen[it.Flavor] = true
	}
	return Order{ID: id, Screen: id.Screen, Items: items}, nil
}

// SortedItems returns the items in ascending flavor order, the fixed
// deterministic order robots serve them in.
func (o Order) SortedItems() []Item {
	items := make([]Item, len(o.Items))
	copy(items, o.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].Flavor < items[j].Flavor })
	return items
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	c := o
	c.Items = make([]Item, len(o.Items))
	copy(c.Items, o.Items)
	if o.AdoptedFrom != nil {
		from := *o.AdoptedFrom
		c.AdoptedFrom = &from
	}
	return c
}

// split divides a total quantity evenly over the given flavors, with the
// shop's size rules capping how many flavors each size admits.
func split(id ID, total uint32, max int, flavors []flavor.ID) (Order, error) {
	if len(flavors) == 0 || len(flavors) > max {
		return Order{}, fmt.Errorf("order %s: size takes 1 to %d flavors, got %d", id, max, len(flavors))
	}
	per := total / uint32(len(flavors))
	items := make([]Item, len(flavors))
	for i, f := range flavors {
		items[i] = Item{Flavor: f, Qty: per}
	}
	return New(id, items)
}

// NewCone builds a single-flavor cone order (a quarter kilo).
func NewCone(id ID, f flavor.ID) (Order, error) {
	return New(id, []Item{{Flavor: f, Qty: Quarter}})
}

// NewQuarter builds a quarter-kilo order split over up to two flavors.
func NewQuarter(id ID, flavors []flavor.ID) (Order, error) {
	return split(id, Quarter, 2, flavors)
}

// NewHalf builds a half-kilo order split over up to three flavors.
func NewHalf(id ID, flavors []flavor.ID) (Order, error) {
	return split(id, Half, 3, flavors)
}

// NewKilo builds a kilo order split over up to four flavors.
func NewKilo(id ID, flavors []flavor.ID) (Order, error) {
	return split(id, Kilo, 4, flavors)
}
