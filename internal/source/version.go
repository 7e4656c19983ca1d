package source

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/example/dbupdater/internal/updates"
)

// ConfigVersion is the newest document format this build reads and the
// version written into new documents.
const ConfigVersion = "1.0.0"

// checkVersion rejects missing, malformed and newer-than-supported versions.
func checkVersion(stored string) error {
	if strings.TrimSpace(stored) == "" {
		return fmt.Errorf("%w: config_version is missing", updates.ErrInvalidConfig)
	}

	canonical := "v" + strings.TrimPrefix(strings.TrimSpace(stored), "v")
	if !semver.IsValid(canonical) {
		return fmt.Errorf("%w: config_version %q is not a semantic version", updates.ErrInvalidConfig, stored)
	}

	if semver.Compare(canonical, "v"+ConfigVersion) > 0 {
		return fmt.Errorf("%w: config version %s is newer than supported version %s; upgrade dbupdater or downgrade the config file",
			updates.ErrOutdatedConfig, stored, ConfigVersion)
	}
	return nil
}
