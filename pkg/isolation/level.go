package isolation

import (
	"strings"

	"github.com/juju/errors"

	"github.com/pingcap/isocheck/pkg/dsg"
)

// Level is one of the isolation levels the checker understands. Each level is
// defined by the set of anomalies it forbids.
type Level int8

// Level enums
const (
	ReadUncommitted Level = iota
	ReadCommitted
	RepeatableRead
	Snapshot
	Serializable
)

func (l Level) String() string {
	switch l {
	case ReadUncommitted:
		return "read uncommitted"
	case ReadCommitted:
		return "read committed"
	case RepeatableRead:
		return "repeatable read"
	case Snapshot:
		return "snapshot isolation"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}

// SQL renders the level as it appears in SET TRANSACTION ISOLATION LEVEL.
// Snapshot maps to REPEATABLE READ, the closest level MySQL-compatible
// engines accept.
func (l Level) SQL() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead, Snapshot:
		return "REPEATABLE READ"
	default:
		return "SERIALIZABLE"
	}
}

var forbidden = map[Level][]dsg.Kind{
	ReadUncommitted: {dsg.KindG0},
	ReadCommitted:   {dsg.KindG0, dsg.KindG1a, dsg.KindG1b, dsg.KindG1c},
	RepeatableRead:  {dsg.KindG0, dsg.KindG1a, dsg.KindG1b, dsg.KindG1c, dsg.KindG2Item},
	Snapshot:        {dsg.KindG0, dsg.KindG1a, dsg.KindG1b, dsg.KindG1c, dsg.KindGSingle},
	Serializable: {dsg.KindG0, dsg.KindG1a, dsg.KindG1b, dsg.KindG1c,
		dsg.KindGSingle, dsg.KindG2Item, dsg.KindG2},
}

// Forbidden returns the anomaly kinds the level proscribes.
func (l Level) Forbidden() []dsg.Kind {
	return append([]dsg.Kind(nil), forbidden[l]...)
}

// Forbids reports whether a history exhibiting k violates the level.
func (l Level) Forbids(k dsg.Kind) bool {
	for _, f := range forbidden[l] {
		if f == k {
			return true
		}
	}
	return false
}

// Parse converts a textual isolation level, case-insensitively. Separators
// may be spaces, dashes or underscores.
func Parse(s string) (Level, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", " ")
	norm = strings.ReplaceAll(norm, "_", " ")
	norm = strings.Join(strings.Fields(norm), " ")

	switch norm {
	case "read uncommitted":
		return ReadUncommitted, nil
	case "read committed":
		return ReadCommitted, nil
	case "repeatable read":
		return RepeatableRead, nil
	case "snapshot", "snapshot isolation":
		return Snapshot, nil
	case "serializable":
		return Serializable, nil
	default:
		return ReadUncommitted, errors.Errorf("unknown isolation level %q", s)
	}
}
