//go:build windows

package platform

import "afio/internal/dispatch"

// NewDefaultBackend picks this platform's Backend: Windows-overlapped I/O
// through an IOCP.
func NewDefaultBackend(completer dispatch.Completer) (*Backend, error) {
	return NewBackend(completer)
}
