//go:build linux

package platform

import "afio/internal/dispatch"

// NewDefaultBackend picks this platform's Backend: io_uring on Linux.
func NewDefaultBackend(completer dispatch.Completer) (*Backend, error) {
	return NewLinuxBackend(completer)
}
