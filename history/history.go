// Package history is the append-only ledger collaborator: it records
// incoming requests keyed by (caller, session, sequence) and emits
// signatures over the ledger, either on demand or periodically via the
// tick driver. Persistence follows the teacher's write-behind pattern
// (buffer in memory, flush to disk on an interval) from pstorage.Hybrid.
package history

import (
	"bytes"
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"
)

// ReqID identifies a recorded request.
type ReqID struct {
	CallerID  uint64
	SessionID string
	Seq       int64
}

// entry is one recorded request, kept for the ledger file and for
// recovering the commit gap.
type entry struct {
	ID     ReqID
	Actor  string
	Body   []byte
	Signed bool
}

// History is the ledger collaborator. It is safe for concurrent use,
// though spec.md's concurrency model only ever calls it from the
// front-end's single logical execution context.
type History struct {
	mu       sync.Mutex
	filepath string
	entries  []entry
	changed  bool
	logger   *logrus.Entry
	stop     chan struct{}
}

// New constructs a History that buffers in memory and flushes to filepath
// on the given interval, exactly as pstorage.Hybrid does for peer state.
// filepath may be empty to run purely in memory (used in tests).
func New(filepath string, flushInterval time.Duration, logger *logrus.Entry) *History {
	h := &History{filepath: filepath, logger: logger, stop: make(chan struct{})}
	if filepath != "" && flushInterval > 0 {
		go h.flushLoop(flushInterval)
	}
	return h
}

func (h *History) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.Flush(); err != nil && h.logger != nil {
				h.logger.Errorf("unable to flush history: %v", err)
			}
		case <-h.stop:
			return
		}
	}
}

// AddRequest appends a request to the ledger, mirroring
// kv::TxHistory::add_request.
func (h *History) AddRequest(id ReqID, actor string, body []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry{ID: id, Actor: actor, Body: body})
	h.changed = true
}

// EmitSignature marks the ledger as signed up to its current length,
// closing the commit gap. The signature bytes themselves are out of
// scope (spec.md's Non-goals); only the bookkeeping that drives
// CommitGap matters to the front-end.
func (h *History) EmitSignature() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		h.entries[i].Signed = true
	}
	h.changed = true
}

// CommitGap reports how many recorded requests have not yet been covered
// by a signature, used by the tick driver's periodic-emission decision.
func (h *History) CommitGap() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	gap := 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Signed {
			break
		}
		gap++
	}
	return gap
}

// Flush persists buffered entries to disk if anything changed since the
// last flush.
func (h *History) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.changed || h.filepath == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.entries); err != nil {
		return err
	}
	if err := atomic.WriteFile(h.filepath, bytes.NewReader(buf.Bytes())); err != nil {
		return err
	}
	h.changed = false
	return nil
}

// Load restores previously-flushed entries from disk, if the file exists.
func (h *History) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.Open(h.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(&h.entries)
}

// Stop terminates the background flush loop and performs a final flush.
func (h *History) Stop() error {
	close(h.stop)
	return h.Flush()
}
