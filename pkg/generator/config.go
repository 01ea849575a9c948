package generator

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"

	"github.com/pingcap/isocheck/pkg/isolation"
)

// Config tunes the synthetic workload.
type Config struct {
	Level        isolation.Level `toml:"-"`
	Transactions int             `toml:"transactions"`
	Objects      int             `toml:"objects"`
	Connections  int             `toml:"connections"`

	AbortRate          float64 `toml:"abort-rate"`
	WriteRate          float64 `toml:"write-rate"`
	PredicateReadRate  float64 `toml:"predicate-read-rate"`
	PredicateWriteRate float64 `toml:"predicate-write-rate"`
	ForUpdate          bool    `toml:"for-update"`

	// MinOps and MaxOps bound the number of operation slots per transaction.
	MinOps int `toml:"min-ops"`
	MaxOps int `toml:"max-ops"`

	// Seed pins the generated plans; zero draws one from the clock.
	Seed int64 `toml:"seed"`

	Nemesis         string        `toml:"nemesis"`
	NemesisInterval time.Duration `toml:"nemesis-interval"`
}

// DefaultConfig mirrors the historical defaults of the workload.
func DefaultConfig() Config {
	return Config{
		Transactions:       100,
		Objects:            16,
		Connections:        5,
		AbortRate:          0.15,
		WriteRate:          0.33,
		PredicateReadRate:  0.1,
		PredicateWriteRate: 0.05,
		MinOps:             3,
		MaxOps:             10,
		NemesisInterval:    5 * time.Second,
	}
}

// LoadConfig reads a TOML workload config, applying defaults for absent keys.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Annotate(err, "load workload config")
	}
	return cfg, errors.Trace(cfg.Validate())
}

// Validate rejects configs the generator cannot honour.
func (c *Config) Validate() error {
	if c.Transactions < 1 {
		return errors.New("need at least one transaction")
	}
	if c.Objects < 1 {
		return errors.New("need at least one object")
	}
	if c.Connections < 1 {
		return errors.New("need at least one connection")
	}
	if c.MinOps < 1 || c.MaxOps < c.MinOps {
		return errors.Errorf("invalid transaction size bounds [%d, %d]", c.MinOps, c.MaxOps)
	}
	for _, rate := range []float64{c.AbortRate, c.WriteRate, c.PredicateReadRate, c.PredicateWriteRate} {
		if rate < 0.0 || rate > 1.0 {
			return errors.Errorf("rates must be within [0.0, 1.0]")
		}
	}
	if sum := c.WriteRate + c.PredicateReadRate + c.PredicateWriteRate; sum > 1.0 {
		return errors.Errorf("write + predicate rates exceed 1.0: %.2f", sum)
	}
	return nil
}
