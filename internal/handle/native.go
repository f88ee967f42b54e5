// Package handle implements spec.md §3's NativeHandle and IoHandle: the
// ownership unit for scatter/gather byte I/O and the thin OS-identity
// wrapper beneath it.
package handle

// AccessMode mirrors spec.md §3's "access-mode descriptor
// (read/write/append/exec)".
type AccessMode uint8

const (
	AccessNone AccessMode = iota
	AccessRead
	AccessWrite
	AccessReadWrite
	AccessAppend
	AccessExec
)

// CachingHint mirrors spec.md §3's caching hint enumeration.
type CachingHint uint8

const (
	CacheUnspecified CachingHint = iota
	CacheNone
	CacheDataOnly
	CacheMetadataOnly
	CacheAll
	CacheTemporary
)

// Native is the opaque OS identity spec.md §3 calls NativeHandle: a
// descriptor or kernel-object handle, plus the access mode and caching hint
// it was opened with. It is exclusively owned by one IoHandle at a time;
// moving it (assignment) is value-preserving, matching the spec's
// "moves are value-preserving" invariant — Go structs already give us that
// for free, so Native carries no finalizer of its own. Closing happens
// through the platform-specific Close method defined in native_unix.go /
// native_windows.go.
type Native struct {
	id      nativeID
	Access  AccessMode
	Caching CachingHint
}

// Valid reports whether this Native still refers to a live OS identity.
func (n Native) Valid() bool { return n.id != invalidNativeID }

// Invalid is the Native carrying no OS identity (Valid reports false; the
// zero value Native{} is not this), used by operations that produce a dummy
// IoHandle (rmdir, rmfile — spec.md §4.2's backend contract table).
var Invalid = Native{id: invalidNativeID}
