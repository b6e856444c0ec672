package sandbox

import (
	"os"
	"strings"
)

// Writes land in a staging file next to their target and are renamed into
// place once complete. Staging names are reserved: clients cannot create
// them, and listings, searches and archives leave them out.
const (
	stagingPrefix = ".panel-"
	stagingSuffix = ".partial"
)

// CreateStaging creates a new staging file in dir.
func CreateStaging(dir string) (*os.File, error) {
	return os.CreateTemp(dir, stagingPrefix+"*"+stagingSuffix)
}

// IsStaging reports whether name is a staging file name.
func IsStaging(name string) bool {
	return strings.HasPrefix(name, stagingPrefix) && strings.HasSuffix(name, stagingSuffix)
}
