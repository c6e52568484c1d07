package rdt

import "errors"

// ErrClosed is returned by Enqueue once the engine has been stopped.
var ErrClosed = errors.New("rdt: engine closed")

// errNoPeer is logged (never surfaced to Enqueue callers) when the window
// holds a slot whose socket handle has no conntab entry; such slots are
// simply skipped rather than erroring.
var errNoPeer = errors.New("rdt: no peer recorded for handle")
