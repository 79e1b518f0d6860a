// Package probe measures external resource pressure for threshold checks.
package probe

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// Disk reports the used percentage of the filesystem holding Path.
type Disk struct {
	Path string
}

// NewDisk probes the filesystem mounted at path, or "/" when empty.
func NewDisk(path string) *Disk {
	if path == "" {
		path = "/"
	}
	return &Disk{Path: path}
}

func (d *Disk) Name() string { return "disk:" + d.Path }

// CurrentUsagePercent returns the used space as a percentage in [0,100].
func (d *Disk) CurrentUsagePercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, d.Path)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", d.Path, err)
	}
	return usage.UsedPercent, nil
}
