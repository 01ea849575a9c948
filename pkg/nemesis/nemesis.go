package nemesis

import (
	"context"
	"fmt"
	"time"

	"github.com/ngaut/log"
)

// Nemesis injects faults into the system under test while the workload runs.
// Its effects are observed only through the history the generator records.
type Nemesis interface {
	// Name returns the unique name for the nemesis.
	Name() string
	// Inject applies the fault.
	Inject(ctx context.Context) error
	// Heal reverts whatever Inject did.
	Heal(ctx context.Context) error
}

var nemeses = map[string]Nemesis{}

// Register registers a nemesis. Not thread-safe.
func Register(n Nemesis) {
	name := n.Name()
	if _, ok := nemeses[name]; ok {
		panic(fmt.Sprintf("nemesis %s is already registered", name))
	}
	nemeses[name] = n
}

// Get gets a registered nemesis.
func Get(name string) Nemesis {
	return nemeses[name]
}

// Noop is a Nemesis that does nothing.
type Noop struct{}

// Name impls Nemesis.
func (Noop) Name() string { return "noop" }

// Inject impls Nemesis.
func (Noop) Inject(ctx context.Context) error { return nil }

// Heal impls Nemesis.
func (Noop) Heal(ctx context.Context) error { return nil }

func init() {
	Register(Noop{})
}

// Run drives a nemesis on a fixed schedule until the context is cancelled,
// then heals.
func Run(ctx context.Context, n Nemesis, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("[nemesis %s]: begin system healing", n.Name())
			if err := n.Heal(context.Background()); err != nil {
				log.Errorf("[nemesis %s]: heal failed: %v", n.Name(), err)
			}
			return
		case <-ticker.C:
			if err := n.Inject(ctx); err != nil {
				log.Errorf("[nemesis %s]: inject failed: %v", n.Name(), err)
			}
		}
	}
}
