// Package conntab implements the connection table (CT): a fixed-capacity
// registry mapping an active local datagram socket handle to its confirmed
// peer address, adapted from a fixed-slot-array connection pool pattern
// but sized and keyed for tracking one confirmed peer per connection handle.
package conntab

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/rs/xid"

	"github.com/arnebp/rudp/internal/xlog"
)

// Capacity is the fixed number of connection records the table can hold.
const Capacity = 10

// ErrTableFull is returned by Save when no slot is free.
var ErrTableFull = errors.New("conntab: table full")

type record struct {
	used   bool
	handle int
	peer   net.Addr
	id     xid.ID
}

// Table is the fixed-capacity registry. The zero value is ready to use.
// Table is safe for concurrent use: it is read by the reliable transport
// engine's background transmission loop while it can be mutated by the
// socket façade, guarded by a single coarse mutex.
type Table struct {
	mu      sync.Mutex
	records [Capacity]record
	xlog.Logger
}

// New returns a Table ready for use, logging lifecycle events through log.
func New(log *slog.Logger) *Table {
	return &Table{Logger: xlog.Logger{Log: log}}
}

// Save records addr as the confirmed peer for handle in the first empty
// slot. Saving the same handle twice without an intervening Clear is
// undefined behavior; callers must guard against it (the
// socket façade only calls Save once per successful handshake).
func (t *Table) Save(handle int, addr net.Addr) (xid.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if !t.records[i].used {
			id := xid.New()
			t.records[i] = record{used: true, handle: handle, peer: addr, id: id}
			t.Debug("conntab:save", slog.Int("handle", handle), slog.String("peer", addr.String()), slog.String("id", id.String()))
			return id, nil
		}
	}
	t.Error("conntab:save-failed", slog.Int("handle", handle))
	return xid.ID{}, ErrTableFull
}

// Lookup returns the peer address recorded for handle, or ok=false if none
// is recorded (no handshake has completed, or it was cleared).
func (t *Table) Lookup(handle int) (addr net.Addr, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if t.records[i].used && t.records[i].handle == handle {
			return t.records[i].peer, true
		}
	}
	return nil, false
}

// Clear removes the record for handle, if any. disconnect calls Clear
// before closing the underlying socket.
func (t *Table) Clear(handle int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if t.records[i].used && t.records[i].handle == handle {
			t.Debug("conntab:clear", slog.Int("handle", handle), slog.String("id", t.records[i].id.String()))
			t.records[i] = record{}
			return
		}
	}
}

// Len returns the number of occupied records, for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.records {
		if t.records[i].used {
			n++
		}
	}
	return n
}
