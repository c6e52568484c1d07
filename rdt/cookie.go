package rdt

import (
	"crypto/rand"
	"net"

	"golang.org/x/crypto/blake2b"
)

// CookieSize is the number of bytes a handshake cookie occupies.
const CookieSize = 16

// CookieJar computes and validates accept-path handshake cookies, a much
// smaller-scale analogue of a TCP listener's SYN cookie jar. Where that
// kind of jar lets a TCP listener avoid allocating a control block for
// every half-open SYN, this jar lets a reliable-datagram responder refuse
// to record a peer in the connection table (conntab.Save) unless the
// final handshake ACK proves the sender actually observed the SYN|ACK
// this responder sent — defeating a blind off-path spoofer that never
// saw the cookie.
//
// This is an accept-path hardening this protocol's handshake doesn't
// otherwise have a counterpart for; it is optional and, unlike a TCP
// jar, never replaces conntab state (the handshake is otherwise stateless
// and this module keeps it that way).
type CookieJar struct {
	secret [32]byte
}

// NewCookieJar returns a jar seeded with a random secret.
func NewCookieJar() (*CookieJar, error) {
	var j CookieJar
	if _, err := rand.Read(j.secret[:]); err != nil {
		return nil, err
	}
	return &j, nil
}

// Generate derives a cookie bound to the client's address and the
// initial SYN sequence number, using blake2b as a keyed MAC.
func (j *CookieJar) Generate(client net.Addr, synSeq uint32) ([]byte, error) {
	h, err := blake2b.New(CookieSize, j.secret[:])
	if err != nil {
		return nil, err
	}
	h.Write([]byte(client.String()))
	h.Write(seqBytes(synSeq))
	return h.Sum(nil), nil
}

// Verify reports whether cookie is the value Generate would have produced
// for the given client/synSeq pair.
func (j *CookieJar) Verify(client net.Addr, synSeq uint32, cookie []byte) bool {
	want, err := j.Generate(client, synSeq)
	if err != nil || len(want) != len(cookie) {
		return false
	}
	var diff byte
	for i := range want {
		diff |= want[i] ^ cookie[i]
	}
	return diff == 0
}

func seqBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
