//go:build !linux

package dirstatefile

import "os"

func enrichStat(_ os.FileInfo, _ *Stat) {}

// StatPath stats abspath via os.Lstat. Platforms without the direct stat
// path lose dev/inode/ctime granularity; the packed stat still detects
// size and mtime changes.
func StatPath(abspath string) (Stat, error) {
	fi, err := os.Lstat(abspath)
	if err != nil {
		return Stat{}, err
	}
	return StatFromFileInfo(fi), nil
}
