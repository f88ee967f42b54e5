package mapping

import (
	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/ioerr"
)

// Section is spec.md §3's SectionHandle: a kernel section / cloned
// descriptor referring to backing storage. backing is weak/non-owning
// ("borrowed") — closing a Section never closes the IoHandle it was created
// from, and closing that IoHandle doesn't invalidate an already-created
// Section (it holds its own kernel reference, which createNativeSection
// obtains by dup on POSIX and CreateFileMapping on Windows).
type Section struct {
	backing   *handle.IoHandle // weak, non-owning; nil ⇒ system page file
	maxExtent uint64
	sectFlags flags.Section

	native nativeSection
}

// Create opens a Section over backing (or, if backing is nil, the system
// page file / anonymous memory). maxExtent of zero means "backing's current
// length" per spec.md §4.3.
func Create(backing *handle.IoHandle, maxExtent uint64, sectFlags flags.Section) (*Section, error) {
	if backing != nil && !sectFlags.SubsetOf(flags.SectionReadWrite|flags.SectionCoW|flags.SectionExecute|
		flags.SectionNoCommit|flags.SectionPrefault|flags.SectionExecutableImage) {
		return nil, ioerr.New(ioerr.InvalidArgument, "section.Create", backing.Path())
	}

	ns, resolvedExtent, err := createNativeSection(backing, maxExtent, sectFlags)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.IoError, "section.Create", pathOf(backing), err)
	}

	return &Section{
		backing:   backing,
		maxExtent: resolvedExtent,
		sectFlags: sectFlags,
		native:    ns,
	}, nil
}

func pathOf(h *handle.IoHandle) string {
	if h == nil {
		return "<pagefile>"
	}
	return h.Path()
}

func (s *Section) Flags() flags.Section { return s.sectFlags }
func (s *Section) MaxExtent() uint64    { return s.maxExtent }

// Backing returns the borrowed backing IoHandle, or nil for a page-file
// section.
func (s *Section) Backing() *handle.IoHandle { return s.backing }

// Extend grows the section's maximum extent. Extend-only on platforms that
// can't shrink a section in place (POSIX via ftruncate never shrinks here
// by contract); a no-op if newExtent is not larger than the current extent.
func (s *Section) Extend(newExtent uint64) error {
	if newExtent <= s.maxExtent {
		return nil
	}
	if err := s.native.extend(newExtent); err != nil {
		return ioerr.Wrap(ioerr.IoError, "section.Extend", pathOf(s.backing), err)
	}
	s.maxExtent = newExtent
	return nil
}

// Close releases the section's own kernel reference. Per spec.md §4.3,
// "destroyed independently of maps derived from it (maps hold their own
// kernel reference)" — closing a Section with live MapHandles keeps those
// views valid.
func (s *Section) Close() error {
	return s.native.close()
}

// Map creates a MapHandle over [offset, offset+length) of the section.
// length of zero means "section's current length." perm must be a subset
// of the section's flags (spec.md §3's MapHandle invariant).
func (s *Section) Map(offset, length uint64, perm flags.Section) (*Map, error) {
	if !perm.SubsetOf(s.sectFlags) {
		return nil, ioerr.New(ioerr.PermissionDenied, "section.Map", pathOf(s.backing))
	}
	if length == 0 {
		length = s.maxExtent - offset
	}

	granule := allocationGranularity()
	if offset%granule != 0 || length%granule != 0 {
		return nil, ioerr.New(ioerr.AlignmentError, "section.Map", pathOf(s.backing))
	}

	data, err := s.native.mapView(offset, length, perm)
	if err != nil {
		return nil, ioerr.Wrap(ioerr.IoError, "section.Map", pathOf(s.backing), err)
	}

	return &Map{section: s, data: data, offset: offset, length: length, perm: perm}, nil
}
