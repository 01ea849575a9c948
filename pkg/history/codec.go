package history

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/juju/errors"
)

// The on-disk format is line-oriented JSON: a header carrying the initial
// value map, then one transaction per line. Every field of every operation
// and transaction survives the round trip.

type header struct {
	Initial map[string]int64 `json:"initial"`
}

// Encode writes h to w.
func Encode(w io.Writer, h *History) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(header{Initial: h.InitialValues()}); err != nil {
		return errors.Trace(err)
	}
	for _, ref := range h.Transactions() {
		if ref == h.Initial() {
			continue
		}
		if err := enc.Encode(h.Txn(ref)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Decode reads a history written by Encode or a Recorder.
func Decode(r io.Reader) (*History, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		return nil, errors.New("empty history file")
	}
	var hdr header
	if err := json.Unmarshal(scanner.Bytes(), &hdr); err != nil {
		return nil, errors.Annotate(err, "parse history header")
	}

	var txns []Transaction
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Transaction
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, errors.Annotatef(err, "parse transaction %d", len(txns)+1)
		}
		var probe struct {
			Outcome *Outcome `json:"outcome"`
		}
		if err := json.Unmarshal(line, &probe); err != nil || probe.Outcome == nil {
			return nil, errors.Errorf("transaction T%d has no outcome", t.ID)
		}
		txns = append(txns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	return New(txns, hdr.Initial)
}

// WriteFile persists h to name.
func WriteFile(name string, h *History) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := Encode(w, h); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(f.Sync())
}

// ReadFile loads a history persisted by WriteFile or a Recorder.
func ReadFile(name string) (*History, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	return Decode(f)
}
