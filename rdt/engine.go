// Package rdt implements the reliable transport engine (RTE): the
// background activity that owns the send window, driving first
// transmission, timed retransmission, and cumulative acknowledgement
// processing.
//
// Unlike the reference implementation's single process-global window, an
// Engine is scoped to one connection, matching a per-connection
// ControlBlock/ringTx design. This scoping is permitted provided externally
// visible behavior is preserved; Snapshot gives back the test-harness
// observability the reference implementation's globals existed for.
package rdt

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arnebp/rudp/conntab"
	"github.com/arnebp/rudp/internal/metrics"
	"github.com/arnebp/rudp/internal/xlog"
	"github.com/arnebp/rudp/pkt"
)

// pollInterval is the ~1ms granularity used for both the
// enqueue-blocks-on-full poll and the transmission loop's per-iteration
// read deadline.
const pollInterval = time.Millisecond

// PacketConn is the subset of net.PacketConn the engine needs: a single
// local datagram socket handle used for both outbound DAT
// transmission/retransmission and every inbound read, ACKs and DAT
// packets alike. The engine's background loop is the socket's only
// reader; Recv never touches the socket itself, instead blocking on the
// engine's internal inbox. A single reader means SetReadDeadline only
// ever affects the loop's own next read, never a concurrent caller
// blocked in Recv.
type PacketConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
}

// Engine drives the send window for one connection and owns every read
// from its socket, fanning inbound DAT payloads out to Recv callers
// through inbox.
type Engine struct {
	handle int
	conn   PacketConn
	table  *conntab.Table
	stats  *metrics.Engine
	xlog.Logger

	mu      sync.Mutex
	w       *window
	recvSeq uint32

	inbox chan pkt.Packet

	cancel   context.CancelFunc
	grp      *errgroup.Group
	closed   bool
	stopOnce sync.Once
}

// inboxCapacity bounds how many decoded, in-order DAT packets the engine
// will buffer ahead of a slow Recv caller before its loop starts blocking
// on delivery instead of continuing to service the send window.
const inboxCapacity = 64

// New returns an Engine for the given connection handle, socket, and
// connection table. The engine does not start its background loop until
// Start is called.
func New(handle int, conn PacketConn, table *conntab.Table, log *slog.Logger) *Engine {
	return &Engine{
		handle: handle,
		conn:   conn,
		table:  table,
		stats:  metrics.NewEngine(handle),
		Logger: xlog.Logger{Log: log},
		w:      newWindow(),
		inbox:  make(chan pkt.Packet, inboxCapacity),
	}
}

// Metrics returns the engine's prometheus.Collector.
func (e *Engine) Metrics() *metrics.Engine { return e.stats }

// Start launches the background transmission loop, binding its lifetime to
// ctx: the loop gets an explicit start/stop handle tied to a transport
// instance's lifetime instead of running for the life of the process.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	grp, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.grp = grp
	grp.Go(func() error {
		e.loop(gctx)
		return nil
	})
}

// Stop cancels the background loop and waits for it to exit. Stop does not
// drain or explicitly flush outstanding slots — it abandons the window,
// so undelivered slots simply stop being retransmitted. A blocked Recv
// call is released with ErrClosed once the loop has exited and can no
// longer deliver to inbox.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		if e.cancel != nil {
			e.cancel()
		}
		if e.grp != nil {
			e.grp.Wait()
		}
		close(e.inbox)
	})
}

// Enqueue hands payload to the send window. It blocks, polling at
// pollInterval, while the window is full — the only intended backpressure
// mechanism; a full window is never surfaced as an error. Returns
// ErrClosed if the engine has been stopped.
func (e *Engine) Enqueue(ctx context.Context, payload []byte) (seq uint32, err error) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return 0, ErrClosed
		}
		if !e.w.full() {
			seq, err = e.w.push(e.handle, payload)
			e.stats.SetWindowOccupancy(e.w.len())
			e.mu.Unlock()
			return seq, err
		}
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Snapshot returns the sequence numbers currently occupying the send
// window, oldest first, for test-harness observability — the same
// rationale that motivates process-global counters, preserved here
// per-connection instead.
func (e *Engine) Snapshot() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.sequences()
}

// Recv blocks until the next in-order DAT packet's payload is available
// and copies it into buf, zero-filling the remainder. Out-of-order and
// duplicate packets are ACKed by loop but never reach inbox, so callers
// simply see the next in-order arrival whenever it comes. Returns
// ErrClosed once Stop has run and no further delivery is possible.
func (e *Engine) Recv(buf []byte) (int, error) {
	p, ok := <-e.inbox
	if !ok {
		return 0, ErrClosed
	}
	n := copy(buf, p.Payload)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return n, nil
}

// loop is the background transmission loop. It is the socket's only
// reader: every iteration first transmits whatever send-window slots are
// due, then attempts one read, handling both ACKs (cumulative window
// cleanup) and DAT packets (ACK-before-deliver-decision, then forward to
// inbox if in order).
func (e *Engine) loop(ctx context.Context) {
	buf := make([]byte, pkt.HeaderSize+pkt.MaxPayload)
	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		due := e.w.dueForTransmission(time.Now())
		e.mu.Unlock()

		for _, s := range due {
			peer, ok := e.table.Lookup(s.handle)
			if !ok {
				e.Trace("rdt:no-peer", slog.Int("handle", s.handle), slog.String("err", errNoPeer.Error()))
				continue
			}
			wire, err := pkt.Encode(buf[:0], s.packet)
			if err != nil {
				e.Error("rdt:encode-failed", slog.String("err", err.Error()))
				continue
			}
			if _, err := e.conn.WriteTo(wire, peer); err != nil {
				e.Trace("rdt:write-failed", slog.String("err", err.Error()))
				continue
			}
			if s.retransmit {
				e.stats.IncRetransmit()
			} else {
				e.stats.IncSent()
			}
			e.Trace("rdt:transmit", slog.Uint64("seq", uint64(s.packet.Seqnum)), slog.Bool("retransmit", s.retransmit))
		}

		e.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := e.conn.ReadFrom(buf)
		if err != nil || n == 0 {
			// Timeout or transient read error: the per-slot rate limit in
			// dueForTransmission already governs retransmission cadence, so
			// there is nothing else to do but try again next iteration.
			continue
		}
		p, derr := pkt.Decode(buf[:n])
		if derr != nil {
			continue // short/corrupt packet: drop.
		}

		switch p.Type {
		case pkt.Ack:
			e.mu.Lock()
			removed := e.w.removeThrough(p.Seqnum)
			e.stats.SetWindowOccupancy(e.w.len())
			e.mu.Unlock()
			e.stats.IncAck()
			if removed > 0 {
				e.Trace("rdt:ack", slog.Uint64("ack", uint64(p.Seqnum)), slog.Int("removed", removed))
			}

		case pkt.Dat:
			peer, ok := e.table.Lookup(e.handle)
			if !ok {
				peer = from
			}
			ackWire, _ := pkt.Encode(nil, pkt.Packet{Type: pkt.Ack, Seqnum: p.Seqnum})
			e.conn.WriteTo(ackWire, peer)

			e.mu.Lock()
			inOrder := p.Seqnum == e.recvSeq
			if inOrder {
				e.recvSeq++
			}
			e.mu.Unlock()
			if !inOrder {
				continue // duplicate/out-of-order: already ACKed, never delivered.
			}
			select {
			case e.inbox <- p:
			case <-ctx.Done():
				return
			}

		default:
			// SYN/SYN|ACK arriving after the handshake has completed: drop.
		}
	}
}
