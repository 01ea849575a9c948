package history

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/juju/errors"
)

// Recorder appends completed transactions to a history file as they finish.
// It is safe for concurrent use by the generator's connection goroutines; the
// resulting file is loadable with ReadFile.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	txns []Transaction
	init map[string]int64
}

// NewRecorder creates the history file and writes the header carrying the
// initial value map.
func NewRecorder(name string, initial map[string]int64) (*Recorder, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := bufio.NewWriter(f)
	r := &Recorder{f: f, w: w, enc: json.NewEncoder(w), init: initial}
	if err := r.enc.Encode(header{Initial: initial}); err != nil {
		f.Close()
		return nil, errors.Trace(err)
	}
	return r, nil
}

// Record appends one completed transaction.
func (r *Recorder) Record(t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns = append(r.txns, t)
	return errors.Trace(r.enc.Encode(&t))
}

// History builds the in-memory history from everything recorded so far.
func (r *Recorder) History() (*History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return New(r.txns, r.init)
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return errors.Trace(err)
	}
	if err := r.f.Sync(); err != nil {
		r.f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(r.f.Close())
}
