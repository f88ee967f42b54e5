package platform

import "os"

// defaultFileMode and defaultDirMode are spec.md §6's "Default POSIX
// creation mode is 0660; default directory mode is 0770." os.FileMode
// bits above 0777 are ignored on Windows, where CreateFile's own ACL
// inheritance governs instead; the values are still used to size os.Open's
// self-consistent signature on every platform.
const (
	defaultFileMode os.FileMode = 0660
	defaultDirMode  os.FileMode = 0770
)
