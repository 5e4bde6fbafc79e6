package dirstatefile

import "os"

// StatFromFileInfo builds a Stat from a generic os.FileInfo, filling the
// fields every filesystem can provide and delegating dev, inode, and
// ctime to the platform-specific enrichment where the backing type
// carries them. Billy in-memory filesystems only provide the portable
// fields; packed stats built from them still compare correctly because
// both sides of any comparison come from the same filesystem.
func StatFromFileInfo(fi os.FileInfo) Stat {
	st := Stat{
		Size:  uint32(fi.Size()),
		Mtime: uint32(fi.ModTime().Unix()),
		Mode:  uint32(fi.Mode()),
	}
	enrichStat(fi, &st)
	return st
}
