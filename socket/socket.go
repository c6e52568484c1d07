package socket

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arnebp/rudp/conntab"
	"github.com/arnebp/rudp/pkt"
	"github.com/arnebp/rudp/rdt"
)

// session is the per-handle state the façade tracks. Exactly one of
// (conn) for the stream path or (pconn, engine) for the reliable-datagram
// path is populated, mirroring the façade's dispatch-on-protocol shape.
type session struct {
	protocol Protocol

	conn net.Conn // stream path

	pconn  *net.UDPConn // reliable-datagram path, owned by engine
	engine *rdt.Engine
}

// Sockets is the socket façade (SF). The zero value is not usable; build
// one with New. A Sockets instance owns the connection table shared
// between the handshake code and every reliable-datagram session's engine.
type Sockets struct {
	mu       sync.Mutex
	sessions map[int]*session
	nextH    atomic.Int64

	table *conntab.Table
	jar   *rdt.CookieJar
	log   *slog.Logger
}

// Config controls optional façade-wide behavior.
type Config struct {
	Logger *slog.Logger
	// RequireHandshakeCookie enables the accept-path cookie hardening
	// described in rdt.CookieJar. Off by default, matching the baseline
	// handshake exactly; turning it on is this module's supplemental
	// security enrichment.
	RequireHandshakeCookie bool
}

// New returns a ready-to-use Sockets façade.
func New(cfg Config) (*Sockets, error) {
	s := &Sockets{
		sessions: make(map[int]*session),
		table:    conntab.New(cfg.Logger),
		log:      cfg.Logger,
	}
	if cfg.RequireHandshakeCookie {
		jar, err := rdt.NewCookieJar()
		if err != nil {
			return nil, err
		}
		s.jar = jar
	}
	return s, nil
}

func (s *Sockets) allocHandle() int {
	return int(s.nextH.Add(1))
}

func (s *Sockets) put(handle int, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[handle] = sess
}

func (s *Sockets) get(handle int) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[handle]
	return sess, ok
}

func (s *Sockets) remove(handle int) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[handle]
	delete(s.sessions, handle)
	return sess, ok
}

// Connect dials out and returns a handle for subsequent Send/Recv/Disconnect calls.
func (s *Sockets) Connect(ctx context.Context, host string, port uint16, protocol Protocol) (int, error) {
	switch protocol {
	case Stream:
		conn, err := dialStream(ctx, host, port)
		if err != nil {
			return 0, err
		}
		handle := s.allocHandle()
		s.put(handle, &session{protocol: Stream, conn: conn})
		return handle, nil

	case ReliableDatagram:
		handle := s.allocHandle()
		conn, err := dialDatagram(ctx, host, port, handle, s.table, s.log)
		if err != nil {
			return 0, err
		}
		engine := rdt.New(handle, conn, s.table, s.log)
		// The engine lives until Disconnect, not until ctx (which only
		// bounds the handshake) is cancelled.
		engine.Start(context.WithoutCancel(ctx))
		s.put(handle, &session{protocol: ReliableDatagram, pconn: conn, engine: engine})
		return handle, nil

	default:
		return 0, ErrProtocolUnsupported
	}
}

// Accept binds and waits for one peer, returning a handle on success.
func (s *Sockets) Accept(ctx context.Context, iface string, port uint16, protocol Protocol) (int, error) {
	switch protocol {
	case Stream:
		conn, err := listenStream(ctx, iface, port)
		if err != nil {
			return 0, err
		}
		handle := s.allocHandle()
		s.put(handle, &session{protocol: Stream, conn: conn})
		return handle, nil

	case ReliableDatagram:
		handle := s.allocHandle()
		conn, err := acceptDatagram(ctx, iface, port, handle, s.table, s.jar, s.log)
		if err != nil {
			return 0, err
		}
		engine := rdt.New(handle, conn, s.table, s.log)
		engine.Start(context.WithoutCancel(ctx))
		s.put(handle, &session{protocol: ReliableDatagram, pconn: conn, engine: engine})
		return handle, nil

	default:
		return 0, ErrProtocolUnsupported
	}
}

// Send transmits bytes on the connection identified by handle.
// Fragmentation across multiple packets for a single Send call is not
// performed — the caller is expected to chunk to at most pkt.MaxPayload;
// Send truncates to pkt.MaxPayload for the reliable-datagram path rather
// than erroring.
func (s *Sockets) Send(ctx context.Context, handle int, b []byte) (int, error) {
	sess, ok := s.get(handle)
	if !ok {
		return 0, ErrNotConnected
	}
	switch sess.protocol {
	case Stream:
		n, err := sess.conn.Write(b)
		if err != nil {
			return n, &wrapErr{ErrSendFailed, err}
		}
		return n, nil

	case ReliableDatagram:
		payload := b
		if len(payload) > pkt.MaxPayload {
			payload = payload[:pkt.MaxPayload]
		}
		if _, err := sess.engine.Enqueue(ctx, payload); err != nil {
			return 0, &wrapErr{ErrSendFailed, err}
		}
		return len(payload), nil

	default:
		return 0, ErrProtocolUnsupported
	}
}

// Recv reads into buf, returning the number of bytes delivered. It
// returns 0 on EOF (stream path). On the reliable-datagram path it blocks
// until the engine delivers the next in-order DAT packet.
func (s *Sockets) Recv(handle int, buf []byte) (int, error) {
	sess, ok := s.get(handle)
	if !ok {
		return 0, ErrNotConnected
	}
	switch sess.protocol {
	case Stream:
		n, err := sess.conn.Read(buf)
		if err != nil {
			if err.Error() == "EOF" {
				return 0, nil
			}
			return 0, &wrapErr{ErrRecvFailed, err}
		}
		return n, nil

	case ReliableDatagram:
		n, err := sess.engine.Recv(buf)
		if err != nil {
			return 0, &wrapErr{ErrRecvFailed, err}
		}
		return n, nil

	default:
		return 0, ErrProtocolUnsupported
	}
}

// Disconnect tears down the connection identified by handle.
// Clears any conntab entry before closing the underlying socket.
// Undelivered send-window slots are not explicitly drained — they stop
// being retransmitted when Engine.Stop abandons the window, matching
// the reference implementation's "remains in the window until process
// exit" behavior (here: until the connection's Stop, not the whole
// process).
func (s *Sockets) Disconnect(handle int) error {
	sess, ok := s.remove(handle)
	if !ok {
		return ErrNotConnected
	}
	switch sess.protocol {
	case Stream:
		return sess.conn.Close()
	case ReliableDatagram:
		s.table.Clear(handle)
		sess.engine.Stop()
		return sess.pconn.Close()
	default:
		return ErrProtocolUnsupported
	}
}
