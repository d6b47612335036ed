package exportmodule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"

	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
)

// preflight checks the environment before a render starts. A multi-minute
// render that fills the temp volume fails hours in; catching it up front
// costs one statvfs call.
func preflight(tmpRoot string, minFreeDiskMB uint64, logger hclog.Logger) error {
	usage, err := disk.Usage(tmpRoot)
	if err != nil {
		// Preflight is advisory; an unreadable mount shouldn't block the
		// export that would surface the real error.
		logger.Warn("could not stat temp volume", "path", tmpRoot, "error", err)
		return nil
	}

	freeMB := usage.Free / (1024 * 1024)
	if minFreeDiskMB > 0 && freeMB < minFreeDiskMB {
		return experrors.New(experrors.ErrorTypeSession, "preflight",
			fmt.Errorf("temp volume %s has %dMB free, need at least %dMB", tmpRoot, freeMB, minFreeDiskMB))
	}

	if counts, err := cpu.Counts(true); err == nil {
		logger.Debug("preflight ok", "free_disk_mb", freeMB, "cpu_threads", counts)
	}
	return nil
}
