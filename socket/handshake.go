package socket

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/arnebp/rudp/conntab"
	"github.com/arnebp/rudp/pkt"
	"github.com/arnebp/rudp/rdt"
)

// handshakeTimeout is the datagram socket's receive timeout used during the
// handshake. It does not apply to ACK collection after the handshake: the
// rdt.Engine loop reads with its own much shorter poll deadline.
const handshakeTimeout = time.Second

// maxSynAttempts bounds the initiator's retry count.
const maxSynAttempts = 3

// dialDatagram performs the three-way handshake as the initiator,
// following the reference implementation's exact retry shape: send SYN,
// then loop up to maxSynAttempts receives, resending SYN before every
// retry but not after the last attempt.
//
// The socket is opened with ListenUDP on an ephemeral local port rather
// than DialUDP, deliberately left unconnected: rdt.Engine's background
// loop addresses every send with WriteTo, and Go's UDPConn rejects
// WriteTo/WriteToUDP on a connected socket (ErrWriteToConnected) — a
// dialed socket would make the engine unable to ever transmit on this
// connection. Using the same unconnected-socket shape as acceptDatagram
// keeps both sides of the handshake, and the engine's generic
// WriteTo/ReadFrom calls after it, working identically regardless of
// which side initiated.
//
// If the responder's SYN|ACK carries a handshake cookie in its payload,
// the initiator echoes that exact payload back in its ACK. An initiator
// that always sent a payload-less ACK would never complete a handshake
// against a responder enforcing rdt.CookieJar.Verify, so the cookie must
// round-trip through this function even though the initiator has no jar
// of its own to generate or check it against.
func dialDatagram(ctx context.Context, host string, port uint16, handle int, table *conntab.Table, log *slog.Logger) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, &wrapErr{ErrAddressResolution, err}
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, &wrapErr{ErrSocketCreate, err}
	}
	closeOnErr := func(err error) (*net.UDPConn, error) {
		conn.Close()
		return nil, err
	}

	syn, _ := pkt.Encode(nil, pkt.Packet{Type: pkt.Syn, Seqnum: 0})
	buf := make([]byte, pkt.HeaderSize+pkt.MaxPayload)

	if _, err := conn.WriteToUDP(syn, raddr); err != nil {
		return closeOnErr(&HandshakeError{Attempts: 0, Err: err})
	}

	for attempt := 0; attempt < maxSynAttempts; attempt++ {
		conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		n, from, err := conn.ReadFromUDP(buf)
		if err == nil && n > 0 && sameAddr(from, raddr) {
			if p, derr := pkt.Decode(buf[:n]); derr == nil && p.Type == pkt.SynAck {
				ack, _ := pkt.Encode(nil, pkt.Packet{Type: pkt.Ack, Seqnum: 0, Payload: p.Payload})
				if _, err := conn.WriteToUDP(ack, raddr); err != nil {
					return closeOnErr(&HandshakeError{Attempts: attempt + 1, Err: err})
				}
				if _, err := table.Save(handle, raddr); err != nil {
					return closeOnErr(&HandshakeError{Attempts: attempt + 1, Err: err})
				}
				return conn, nil
			}
		}
		if attempt < maxSynAttempts-1 {
			conn.WriteToUDP(syn, raddr)
		}
		if ctx.Err() != nil {
			return closeOnErr(&HandshakeError{Attempts: attempt + 1, Err: ctx.Err()})
		}
	}
	return closeOnErr(&HandshakeError{Attempts: maxSynAttempts})
}

// acceptDatagram performs the three-way handshake as the responder:
// receive datagrams discarding anything but SYN, then loop sending
// SYN|ACK and awaiting ACK indefinitely — the initiator's
// bounded retries bound total handshake time from the client side, so the
// responder's own retry loop does not need a cap.
//
// If jar is non-nil, the SYN|ACK carries a handshake cookie in its payload
// and the final ACK must echo it back before the peer is recorded —
// see rdt.CookieJar's doc comment for why this exists and why it's a
// handshake-only widening of the "ACK carries no payload" rule, not a
// change to the steady-state data/ack exchange.
func acceptDatagram(ctx context.Context, iface string, port uint16, handle int, table *conntab.Table, jar *rdt.CookieJar, log *slog.Logger) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(iface, strconv.Itoa(int(port))))
	if err != nil {
		return nil, &wrapErr{ErrAddressResolution, err}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &wrapErr{ErrBind, err}
	}
	closeOnErr := func(err error) (*net.UDPConn, error) {
		conn.Close()
		return nil, err
	}

	buf := make([]byte, pkt.HeaderSize+pkt.MaxPayload)
	for {
		if ctx.Err() != nil {
			return closeOnErr(ctx.Err())
		}
		conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil || n < pkt.HeaderSize {
			continue // short/timed-out read: ignore and retry.
		}
		syn, err := pkt.Decode(buf[:n])
		if err != nil || syn.Type != pkt.Syn {
			continue // packet of the wrong type: drop and continue.
		}

		var cookie []byte
		if jar != nil {
			cookie, err = jar.Generate(from, syn.Seqnum)
			if err != nil {
				return closeOnErr(&HandshakeError{Err: err})
			}
		}
		synack, _ := pkt.Encode(nil, pkt.Packet{Type: pkt.SynAck, Seqnum: 0, Payload: cookie})

		for {
			if _, err := conn.WriteToUDP(synack, from); err != nil {
				return closeOnErr(&HandshakeError{Err: err})
			}
			conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
			n, ackFrom, err := conn.ReadFromUDP(buf)
			if err != nil || n < pkt.HeaderSize {
				continue
			}
			ack, err := pkt.Decode(buf[:n])
			if err != nil || ack.Type != pkt.Ack || !sameAddr(ackFrom, from) {
				continue
			}
			if jar != nil && !jar.Verify(from, syn.Seqnum, ack.Payload) {
				continue
			}
			if _, err := table.Save(handle, from); err != nil {
				return closeOnErr(err)
			}
			return conn, nil
		}
	}
}

func sameAddr(a, b net.Addr) bool { return a.String() == b.String() }
