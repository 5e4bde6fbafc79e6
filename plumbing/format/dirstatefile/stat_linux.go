//go:build linux

package dirstatefile

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func enrichStat(fi os.FileInfo, st *Stat) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	st.Ctime = uint32(sys.Ctim.Sec)
	st.Dev = uint32(sys.Dev)
	st.Ino = uint32(sys.Ino)
	st.Mode = uint32(sys.Mode)
}

// StatPath stats abspath directly, bypassing os.FileInfo so the ctime,
// device, and inode fields arrive without an interface round trip. Used
// by callers working against the real filesystem; callers holding an
// os.FileInfo from an abstracted filesystem use StatFromFileInfo.
func StatPath(abspath string) (Stat, error) {
	var sys unix.Stat_t
	if err := unix.Lstat(abspath, &sys); err != nil {
		return Stat{}, &os.PathError{Op: "lstat", Path: abspath, Err: err}
	}
	return Stat{
		Size:  uint32(sys.Size),
		Mtime: uint32(sys.Mtim.Sec),
		Ctime: uint32(sys.Ctim.Sec),
		Dev:   uint32(sys.Dev),
		Ino:   uint32(sys.Ino),
		Mode:  uint32(sys.Mode),
	}, nil
}
