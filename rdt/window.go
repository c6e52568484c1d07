package rdt

import (
	"time"

	"github.com/arnebp/rudp/internal/ring"
	"github.com/arnebp/rudp/pkt"
)

// WindowCapacity is the fixed send-window size.
const WindowCapacity = 20

// RetransmitInterval is the minimum time between transmissions of the same
// slot (the retransmit rate limit).
const RetransmitInterval = 100 * time.Millisecond

// slot is a send window slot: an owned packet plus its retransmission
// bookkeeping.
type slot struct {
	handle     int
	packet     pkt.Packet
	payloadLen int
	lastSent   time.Time
	sentOnce   bool
}

// window is the send-side sliding window: a ring of unacknowledged
// outgoing packets. Locking is the caller's responsibility (see
// Engine.mu) — window itself assumes single-threaded access, matching the
// reference implementation's single mutex protecting the whole ring.
type window struct {
	ring    *ring.FixedRing[slot]
	nextSeq uint32
}

func newWindow() *window {
	return &window{ring: ring.New[slot](WindowCapacity)}
}

// full reports whether the window has no free slots.
func (w *window) full() bool { return w.ring.Full() }

// push allocates a new slot at head, assigning it the next sequence number.
// Returns the assigned sequence number.
func (w *window) push(handle int, payload []byte) (uint32, error) {
	seq := w.nextSeq
	p := make([]byte, len(payload))
	copy(p, payload)
	s := slot{
		handle:     handle,
		packet:     pkt.Packet{Type: pkt.Dat, Seqnum: seq, Payload: p},
		payloadLen: len(p),
		sentOnce:   false,
	}
	if err := w.ring.Push(s); err != nil {
		return 0, err
	}
	w.nextSeq++
	return seq, nil
}

// removeThrough removes every occupied slot whose sequence number is <= ack,
// advancing tail, implementing cumulative-ACK cleanup.
func (w *window) removeThrough(ack uint32) (removed int) {
	for {
		s, err := w.ring.Front()
		if err != nil {
			return removed
		}
		if s.packet.Seqnum > ack {
			return removed
		}
		w.ring.PopFront()
		removed++
	}
}

// eligibleSlot describes one slot ready to be (re)transmitted.
type eligibleSlot struct {
	handle     int
	packet     pkt.Packet
	retransmit bool // false the first time this slot is ever sent
}

// dueForTransmission returns every occupied slot that passes the
// retransmission gate at instant now, and marks them sent.
func (w *window) dueForTransmission(now time.Time) []eligibleSlot {
	var due []eligibleSlot
	w.ring.Range(func(i int, s slot) {
		if s.sentOnce && now.Sub(s.lastSent) < RetransmitInterval {
			return
		}
		due = append(due, eligibleSlot{handle: s.handle, packet: s.packet, retransmit: s.sentOnce})
		s.lastSent = now
		s.sentOnce = true
		w.ring.Update(i, s)
	})
	return due
}

// len returns the number of occupied slots.
func (w *window) len() int { return w.ring.Len() }

// sequences returns the sequence numbers of all occupied slots in order,
// for test assertions of the window-ordering invariant.
func (w *window) sequences() []uint32 {
	seqs := make([]uint32, 0, w.ring.Len())
	w.ring.Range(func(i int, s slot) { seqs = append(seqs, s.packet.Seqnum) })
	return seqs
}
