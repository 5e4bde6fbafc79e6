// Package dirstatefile implements the on-disk encoding of a dirstate file:
// the packed-stat fingerprint (C1), the row codec (C2), and the file layout
// with its CRC (C3).
package dirstatefile

import (
	"bytes"
	"encoding/base64"

	"github.com/glasser/dirstate/utils/binary"
)

// PackedStat is a fixed-width ASCII fingerprint of a filesystem stat result.
// The core compares it only for equality and never decodes it; Unpack
// exists for diagnostics.
type PackedStat string

// NullStat is the sentinel PackedStat meaning "no stat cached". Compared
// only for equality against real base64 encodings, which it never matches.
const NullStat PackedStat = "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"

// Stat is the subset of a filesystem stat result that feeds PackedStat. Dev
// and Ino are truncated to 32 bits on packing, matching the on-disk format.
type Stat struct {
	Size  uint32
	Mtime uint32
	Ctime uint32
	Dev   uint32
	Ino   uint32
	Mode  uint32
}

// Pack encodes st as a PackedStat: six big-endian uint32 fields (24 bytes),
// base64 encoded into exactly 32 characters with no padding.
func Pack(st Stat) (PackedStat, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, st.Size, st.Mtime, st.Ctime, st.Dev, st.Ino, st.Mode); err != nil {
		return "", err
	}

	return PackedStat(base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// Unpack decodes a PackedStat back into its six fields. The core never calls
// this (packed stats are compared only for equality, per the file format);
// it exists for the diagnostic dump command.
func Unpack(p PackedStat) (Stat, error) {
	raw, err := base64.StdEncoding.DecodeString(string(p))
	if err != nil {
		return Stat{}, err
	}
	r := bytes.NewReader(raw)

	var st Stat
	err = binary.Read(r, &st.Size, &st.Mtime, &st.Ctime, &st.Dev, &st.Ino, &st.Mode)
	return st, err
}

// IsNull reports whether p is the "no stat cached" sentinel.
func (p PackedStat) IsNull() bool {
	return p == NullStat
}
