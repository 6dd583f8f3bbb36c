package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dreamware/gelato/internal/flavor"
	"github.com/dreamware/gelato/internal/order"
)

// EnvConfigPath names the environment variable that points at the cluster
// configuration file. When unset, DefaultPath is tried and compiled
// defaults are used if it does not exist.
const EnvConfigPath = "GELATO_CONFIG"

// DefaultPath is the configuration file looked for when GELATO_CONFIG is
// unset.
const DefaultPath = "gelato.yaml"

// DefaultInitialQty is the stock every flavor starts with unless the
// configuration file overrides it.
const DefaultInitialQty uint32 = 4000

// Config is the cluster-wide configuration. Every process must load the
// same values; addressing and timers are derived from them.
type Config struct {
	// MaxRobots and MaxScreens bound the id spaces. A joining process
	// scans exactly this many well-known addresses.
	MaxRobots  int `koanf:"max_robots"`
	MaxScreens int `koanf:"max_screens"`

	// Flavors maps flavor names to initial quantities in grams. Names
	// must belong to the flavor enumeration.
	Flavors map[string]uint32 `koanf:"flavors"`

	// TokenTimeout is how long a robot waits without observing a
	// flavor's token before starting recovery. Zero derives a default
	// from the ring size and serve time.
	TokenTimeout time.Duration `koanf:"token_timeout"`

	// ReconnectBackoff is the pause between reconnection attempts when
	// dialing a peer that is not up yet.
	ReconnectBackoff time.Duration `koanf:"reconnect_backoff"`

	// ScoopTime is how long serving 100 g takes. It paces preparation
	// and feeds the TokenTimeout default.
	ScoopTime time.Duration `koanf:"scoop_time"`

	// TokenHopDelay is the pause a robot inserts before forwarding a
	// token it does not need, so an idle ring does not spin.
	TokenHopDelay time.Duration `koanf:"token_hop_delay"`

	// PaymentFailureProbability is the chance a payment capture is
	// declined by the simulated gateway.
	PaymentFailureProbability float64 `koanf:"payment_failure_probability"`

	RobotBasePort  int `koanf:"robot_base_port"`
	LeaderBasePort int `koanf:"leader_base_port"`
	ScreenBasePort int `koanf:"screen_base_port"`
}

func defaults() map[string]interface{} {
	flavors := make(map[string]interface{}, flavor.Count())
	for _, f := range flavor.All() {
		flavors[f.String()] = DefaultInitialQty
	}
	return map[string]interface{}{
		"max_robots":                  5,
		"max_screens":                 3,
		"flavors":                     flavors,
		"token_timeout":               "0s",
		"reconnect_backoff":           "400ms",
		"scoop_time":                  "20ms",
		"token_hop_delay":             "25ms",
		"payment_failure_probability": 0.1,
		"robot_base_port":             8070,
		"leader_base_port":            8170,
		"screen_base_port":            8270,
	}
}

// Load reads the configuration from path. An empty path falls back to
// GELATO_CONFIG, then DefaultPath; only an explicitly named file is
// required to exist. The returned configuration is validated and has all
// derived defaults filled in.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath
		}
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.fillDerived()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRobots < 1 {
		return fmt.Errorf("config: max_robots must be at least 1, got %d", c.MaxRobots)
	}
	if c.MaxScreens < 1 {
		return fmt.Errorf("config: max_screens must be at least 1, got %d", c.MaxScreens)
	}
	for name := range c.Flavors {
		if _, err := flavor.Parse(name); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.PaymentFailureProbability < 0 || c.PaymentFailureProbability > 1 {
		return fmt.Errorf("config: payment_failure_probability must be in [0,1], got %v", c.PaymentFailureProbability)
	}
	if c.ScoopTime <= 0 {
		return fmt.Errorf("config: scoop_time must be positive, got %v", c.ScoopTime)
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("config: reconnect_backoff must be positive, got %v", c.ReconnectBackoff)
	}
	bases := map[int]string{}
	for _, p := range []struct {
		base int
		role string
	}{
		{c.RobotBasePort, "robot_base_port"},
		{c.LeaderBasePort, "leader_base_port"},
		{c.ScreenBasePort, "screen_base_port"},
	} {
		if p.base < 1 || p.base > 65535-c.MaxRobots {
			return fmt.Errorf("config: %s %d out of range", p.role, p.base)
		}
		if other, dup := bases[p.base]; dup {
			return fmt.Errorf("config: %s and %s share base port %d", p.role, other, p.base)
		}
		bases[p.base] = p.role
	}
	return nil
}

// fillDerived computes the TokenTimeout default: a full circulation is at
// most MaxRobots hops, each potentially a full kilo serve, padded 5x.
func (c *Config) fillDerived() {
	if c.TokenTimeout == 0 {
		serve := c.ScoopTime * time.Duration(order.Kilo/100)
		c.TokenTimeout = time.Duration(c.MaxRobots) * 5 * serve
	}
}

// InitialQty returns the starting stock for a flavor.
func (c *Config) InitialQty(f flavor.ID) uint32 {
	if qty, ok := c.Flavors[f.String()]; ok {
		return qty
	}
	return DefaultInitialQty
}

// RobotAddr returns the ring address robot id binds and is dialed on.
func (c *Config) RobotAddr(id int) string {
	return fmt.Sprintf("127.0.0.1:%d", c.RobotBasePort+id)
}

// LeaderAddr returns the address robot id serves leader duties on when it
// holds the leadership.
func (c *Config) LeaderAddr(id int) string {
	return fmt.Sprintf("127.0.0.1:%d", c.LeaderBasePort+id)
}

// ScreenAddr returns the address screen id binds and is dialed on.
func (c *Config) ScreenAddr(id int) string {
	return fmt.Sprintf("127.0.0.1:%d", c.ScreenBasePort+id)
}
