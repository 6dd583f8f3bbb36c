package screen

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
)

// orderLine is one line of the orders file. Either a sized order naming
// flavors:
//
//	{"size":"half","flavors":["Chocolate","Mint"]}
//
// or explicit items:
//
//	{"items":[{"flavor":1,"qty":250}]}
type orderLine struct {
	Size    string       `json:"size,omitempty"`
	Flavors []string     `json:"flavors,omitempty"`
	Items   []order.Item `json:"items,omitempty"`
}

// ReadOrders loads the orders file for a screen, assigning each order its
// (screen, seq) identity in file order. Malformed lines are logged and
// skipped; a missing file is an error; an empty file yields no orders.
func ReadOrders(path string, screenID int) ([]order.Order, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("orders file: %w", err)
	}
	defer f.Close()

	var orders []order.Order
	seq := uint64(0)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		seq++
		o, err := parseLine(raw, order.ID{Screen: screenID, Seq: seq})
		if err != nil {
			log.Printf("orders file %s:%d: skipping: %v", path, lineNo, err)
			seq--
			continue
		}
		orders = append(orders, o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("orders file: %w", err)
	}
	return orders, nil
}

func parseLine(raw string, id order.ID) (order.Order, error) {
	var line orderLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return order.Order{}, err
	}

	if line.Size == "" {
		return order.New(id, line.Items)
	}

	flavors := make([]flavor.ID, 0, len(line.Flavors))
	for _, name := range line.Flavors {
		f, err := flavor.Parse(name)
		if err != nil {
			return order.Order{}, err
		}
		flavors = append(flavors, f)
	}

	switch strings.ToLower(line.Size) {
	case "cone":
		if len(flavors) != 1 {
			return order.Order{}, fmt.Errorf("a cone takes exactly one flavor, got %d", len(flavors))
		}
		return order.NewCone(id, flavors[0])
	case "quarter":
		return order.NewQuarter(id, flavors)
	case "half":
		return order.NewHalf(id, flavors)
	case "kilo":
		return order.NewKilo(id, flavors)
	}
	return order.Order{}, fmt.Errorf("unknown size %q", line.Size)
}
