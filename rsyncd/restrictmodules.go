package rsyncd

import (
	"fmt"
	"os"

	"github.com/deltacopy/rsync/internal/restrict"
)

// RestrictToModules sandboxes the process to the read-write and read-only
// directories implied by modules, creating writable module roots that
// don't exist yet.
func RestrictToModules(modules []Module) error {
	var roDirs, rwDirs []string
	for _, mod := range modules {
		if mod.Writable {
			if err := os.MkdirAll(mod.Path, 0755); err != nil {
				return fmt.Errorf("MkdirAll(mod=%s): %v", mod.Name, err)
			}
			rwDirs = append(rwDirs, mod.Path)
		} else {
			roDirs = append(roDirs, mod.Path)
		}
	}
	return restrict.MaybeFileSystem(roDirs, rwDirs)
}
