package socket

import "errors"

// Error kinds the façade can return. These are sentinel values rather than
// a single opaque code so a Go caller can errors.Is/errors.As; a caller
// that wants the original design's "single negative value" coarseness can
// still just check err != nil, since every failure path returns a non-nil
// error. Not every failure wraps one of these sentinels: handshake
// failures are *HandshakeError, and some paths return the context's error
// or conntab.ErrTableFull as is.
var (
	ErrAddressResolution = errors.New("socket: address resolution failed")
	ErrSocketCreate      = errors.New("socket: failed to create underlying socket")
	ErrBind              = errors.New("socket: bind failed")
	ErrListen            = errors.New("socket: listen failed")
	ErrConnect           = errors.New("socket: connect failed")
	ErrSendFailed        = errors.New("socket: send failed")
	ErrRecvFailed        = errors.New("socket: recv failed")
	ErrNotConnected      = errors.New("socket: handle has no active connection")
)

// HandshakeError reports that the reliable-datagram handshake did not
// complete: a small concrete error type callers can inspect instead of a
// bare sentinel, since "why the handshake failed" is useful diagnostic
// information a sentinel can't carry.
type HandshakeError struct {
	Attempts int
	Err      error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return "socket: handshake failed after " + itoa(e.Attempts) + " attempts: " + e.Err.Error()
	}
	return "socket: handshake failed after " + itoa(e.Attempts) + " attempts"
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	n := len(buf)
	for v > 0 {
		n--
		buf[n] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[n:])
}
