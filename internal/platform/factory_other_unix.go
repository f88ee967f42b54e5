//go:build unix && !linux

package platform

import "afio/internal/dispatch"

// NewDefaultBackend picks this platform's Backend: synchronous
// preadv/pwritev on every unix target without the io_uring path.
func NewDefaultBackend(completer dispatch.Completer) (*Backend, error) {
	return NewUnixBackend(completer), nil
}
