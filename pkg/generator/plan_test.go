package generator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pingcap/isocheck/pkg/history"
)

func TestPlansAreDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a := newPlanner(cfg, 42).plan()
	b := newPlanner(cfg, 42).plan()
	require.Equal(t, a, b)

	c := newPlanner(cfg, 43).plan()
	require.NotEqual(t, a, c)
}

func TestWrittenValuesAreUnique(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transactions = 200
	plans := newPlanner(cfg, 7).plan()

	seen := map[int64]struct{}{}
	for _, plan := range plans {
		for _, op := range plan.ops {
			if op.Kind != history.OpWrite && op.Kind != history.OpPredicateWrite {
				continue
			}
			_, dup := seen[op.Value]
			require.False(t, dup, "value %d assigned twice", op.Value)
			seen[op.Value] = struct{}{}
		}
	}
	require.NotEmpty(t, seen)
}

func TestPlanShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transactions = 50
	plans := newPlanner(cfg, 1).plan()
	require.Len(t, plans, 50)

	for i, plan := range plans {
		require.Equal(t, i+1, plan.id)
		require.NotEmpty(t, plan.ops)
		// sequence numbers are dense and increasing
		for j, op := range plan.ops {
			require.Equal(t, j, op.Seq)
		}
		// a write is always preceded by a read of the same object
		for j, op := range plan.ops {
			if op.Kind == history.OpWrite {
				require.True(t, j > 0)
				prev := plan.ops[j-1]
				require.Equal(t, history.OpRead, prev.Kind)
				require.Equal(t, op.Key, prev.Key)
			}
		}
	}
}

func TestInitialValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Objects = 3
	values := InitialValues(cfg)
	require.Len(t, values, 3)
	for _, v := range values {
		require.Equal(t, int64(0), v)
	}
}

func TestFinalPlanReadsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Objects = 4
	p := newPlanner(cfg, 3)
	final := p.finalPlan(101)
	require.Equal(t, 101, final.id)
	require.Len(t, final.ops, 4)
	for _, op := range final.ops {
		require.Equal(t, history.OpRead, op.Kind)
	}
	require.False(t, final.abort)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Transactions = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.WriteRate = 0.8
	bad.PredicateReadRate = 0.3
	require.Error(t, bad.Validate())

	bad = cfg
	bad.AbortRate = -0.1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MinOps = 5
	bad.MaxOps = 4
	require.Error(t, bad.Validate())
}
