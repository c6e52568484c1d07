package socket

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// dialStream resolves host/port and tries each resolved address in turn
// until one connects.
func dialStream(ctx context.Context, host string, port uint16) (net.Conn, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, &wrapErr{ErrAddressResolution, err}
	}
	var d net.Dialer
	var lastErr error
	portStr := strconv.Itoa(int(port))
	for _, a := range addrs {
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(a, portStr))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, &wrapErr{ErrConnect, lastErr}
}

// listenStream binds iface:port with SO_REUSEADDR, listens with the
// maximum backlog, accepts exactly one client, then closes the listening
// socket — a deliberate single-connection simplification. SO_REUSEADDR is
// wired through golang.org/x/sys/unix via a net.ListenConfig.Control
// callback, the same way a UDP latency-probe sender tunes its socket
// options directly via x/sys/unix.
func listenStream(ctx context.Context, iface string, port uint16) (net.Conn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	addr := net.JoinHostPort(iface, strconv.Itoa(int(port)))
	// net's internal listen backlog already uses the platform maximum
	// (SOMAXCONN) by default; there is no portable way to raise it
	// further from net.ListenConfig without a manual syscall.Listen call.
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &wrapErr{ErrBind, err}
	}
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return nil, &wrapErr{ErrListen, err}
	}
	return conn, nil
}

type wrapErr struct {
	kind error
	err  error
}

func (w *wrapErr) Error() string {
	if w.err == nil {
		return w.kind.Error()
	}
	return w.kind.Error() + ": " + w.err.Error()
}

func (w *wrapErr) Unwrap() []error { return []error{w.kind, w.err} }
