package keyValStore

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// calculateDirectorySize calculates the total size of files within a directory
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// displayDiskUsage logs the disk usage of every store path
func displayDiskUsage(log *logrus.Logger, paths []string) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			return errors.Wrapf(err, "retrieving disk usage stats for %s", path)
		}

		pathSize, err := calculateDirectorySize(path)
		if err != nil {
			return errors.Wrapf(err, "calculating directory size of %s", path)
		}

		log.WithFields(logrus.Fields{
			"path":        path,
			"fstype":      usage.Fstype,
			"total":       humanize.Bytes(usage.Total),
			"used":        humanize.Bytes(usage.Used),
			"free":        humanize.Bytes(usage.Free),
			"usageByDB":   humanize.Bytes(uint64(pathSize)),
			"usedPercent": humanize.FormatFloat("#.##", usage.UsedPercent),
		}).Info("disk usage")
	}

	return nil
}
