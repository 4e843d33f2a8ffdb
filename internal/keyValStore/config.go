package keyValStore

import (
	"os"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/disk"
)

func (sc *StoreConfig) checkConfig() error {
	if sc.InMemory {
		return nil
	}
	if len(sc.Paths) == 0 {
		return errors.New("no path provided in configuration")
	}

	path := sc.Paths[0] // Currently only the first path is utilized
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return errors.Wrapf(err, "creating %s", path)
		}
		info, err = os.Stat(path)
	}
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return errors.Errorf("path %s is not a directory", path)
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return errors.Wrapf(err, "reading disk usage of %s", path)
	}
	availableSpaceInGB := usage.Free / (1024 * 1024 * 1024)
	if int(availableSpaceInGB) < sc.MinimumFreeSpace {
		return errors.Errorf("not enough space available on disk: %d GB free, %d GB required",
			availableSpaceInGB, sc.MinimumFreeSpace)
	}

	return nil
}
