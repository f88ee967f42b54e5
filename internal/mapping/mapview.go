package mapping

import (
	"afio/internal/flags"
	"afio/internal/ioerr"
)

// Map is spec.md §3's MapHandle: a memory-mapped view into a Section.
// section is borrowed — Map.Close only unmaps the view, it never closes
// the Section (spec.md §4.3: "MapHandle destruction unmaps the view only.
// Section lifetime is independent.").
type Map struct {
	section *Section
	data    []byte
	offset  uint64
	length  uint64
	perm    flags.Section
	closed  bool
}

func (m *Map) Section() *Section     { return m.section }
func (m *Map) Offset() uint64        { return m.offset }
func (m *Map) Length() uint64        { return m.length }
func (m *Map) Perm() flags.Section   { return m.perm }

// Bytes returns the mapped view as a slice. Callers get direct access to
// the underlying pages — spec.md §4.3 requires Read/Write "never copies."
func (m *Map) Bytes() []byte { return m.data }

// Close unmaps the view. The underlying Section (and any sibling views
// derived from it) remain valid afterward.
func (m *Map) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return unmapView(m.data)
}

// Commit requests the OS back region with committed pages at the given
// permissions, returning the region actually committed (page-aligned
// outward per spec.md §4.3).
func (m *Map) Commit(region Region, perm flags.Section) (Region, error) {
	granule := allocationGranularity()
	expanded := expandOutward(region, granule)
	if expanded.Offset+expanded.Length > m.length {
		return Region{}, ioerr.New(ioerr.InvalidArgument, "map.Commit", m.section.pathLabel())
	}
	view := m.data[expanded.Offset : expanded.Offset+expanded.Length]
	if err := commitRegion(view, perm); err != nil {
		return Region{}, ioerr.Wrap(ioerr.IoError, "map.Commit", m.section.pathLabel(), err)
	}
	return expanded, nil
}

// Decommit makes region's pages unbacked. Reads afterward are unspecified
// per spec.md §4.3.
func (m *Map) Decommit(region Region) error {
	granule := allocationGranularity()
	expanded := expandOutward(region, granule)
	if expanded.Offset+expanded.Length > m.length {
		return ioerr.New(ioerr.InvalidArgument, "map.Decommit", m.section.pathLabel())
	}
	view := m.data[expanded.Offset : expanded.Offset+expanded.Length]
	if err := decommitRegion(view); err != nil {
		return ioerr.Wrap(ioerr.IoError, "map.Decommit", m.section.pathLabel(), err)
	}
	return nil
}

// Zero releases whole pages of region back to the system where supported,
// and zero-fills partial pages. Safe on any region subset per spec.md
// §4.3's contract.
func (m *Map) Zero(region Region) error {
	clamped := Region{Offset: region.Offset, Length: clampLength(region.Offset, region.Length, m.length)}
	if clamped.Length == 0 {
		return nil
	}
	view := m.data[clamped.Offset : clamped.Offset+clamped.Length]
	if err := zeroRegion(view, allocationGranularity()); err != nil {
		return ioerr.Wrap(ioerr.IoError, "map.Zero", m.section.pathLabel(), err)
	}
	return nil
}

// DoNotStore clears the dirty bit on region; any unwritten modifications
// are lost, and the caller accepts non-deterministic page contents
// afterward (spec.md §4.3).
func (m *Map) DoNotStore(region Region) error {
	clamped := Region{Offset: region.Offset, Length: clampLength(region.Offset, region.Length, m.length)}
	if clamped.Length == 0 {
		return nil
	}
	view := m.data[clamped.Offset : clamped.Offset+clamped.Length]
	if err := doNotStoreRegion(view); err != nil {
		return ioerr.Wrap(ioerr.IoError, "map.DoNotStore", m.section.pathLabel(), err)
	}
	return nil
}

// Prefetch is a best-effort hint over one or more regions of m; platforms
// lacking the facility return an empty set rather than an error (spec.md
// §4.3).
func (m *Map) Prefetch(regions []Region) []Region {
	var touched []Region
	for _, r := range regions {
		clamped := Region{Offset: r.Offset, Length: clampLength(r.Offset, r.Length, m.length)}
		if clamped.Length == 0 {
			continue
		}
		view := m.data[clamped.Offset : clamped.Offset+clamped.Length]
		if prefetchRegion(view) {
			touched = append(touched, clamped)
		}
	}
	return touched
}

// Read returns buffers pointing directly into the view starting at offset,
// one per requested length, each clamped to the view's remaining length —
// spec.md §4.3: "never copies... each input buffer's length is clamped to
// the view's remaining length at its offset."
func (m *Map) Read(offset uint64, lengths []uint64) [][]byte {
	out := make([][]byte, len(lengths))
	pos := offset
	for i, l := range lengths {
		n := clampLength(pos, l, m.length)
		if n == 0 {
			out[i] = m.data[m.length:m.length]
			continue
		}
		out[i] = m.data[pos : pos+n]
		pos += n
	}
	return out
}

// Write copies src into the view starting at offset, clamped to the view's
// remaining length, and returns the number of bytes actually written.
func (m *Map) Write(offset uint64, src []byte) int {
	n := clampLength(offset, uint64(len(src)), m.length)
	if n == 0 {
		return 0
	}
	copy(m.data[offset:offset+n], src[:n])
	return int(n)
}

func (s *Section) pathLabel() string { return pathOf(s.backing) }
