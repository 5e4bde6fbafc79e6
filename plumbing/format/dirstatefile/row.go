package dirstatefile

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/glasser/dirstate/utils/binary"
)

// MiniKind is the single-byte tag identifying an entry's kind, or its
// pointer/placeholder status in a tree column that does not hold the
// entry's real data.
type MiniKind byte

const (
	KindFile          MiniKind = 'f'
	KindDirectory     MiniKind = 'd'
	KindSymlink       MiniKind = 'l'
	KindTreeReference MiniKind = 't'
	KindAbsent        MiniKind = 'a'
	KindRelocated     MiniKind = 'r'
)

// Present reports whether k is one of the "real" kinds (f/d/l/t) as opposed
// to a pointer/placeholder kind (a/r).
func (k MiniKind) Present() bool {
	switch k {
	case KindFile, KindDirectory, KindSymlink, KindTreeReference:
		return true
	default:
		return false
	}
}

func (k MiniKind) valid() bool {
	switch k {
	case KindFile, KindDirectory, KindSymlink, KindTreeReference, KindAbsent, KindRelocated:
		return true
	default:
		return false
	}
}

// Key identifies a row: the directory containing it, its own basename
// within that directory, and the file-id of the versioned entity it
// describes.
type Key struct {
	Dirname  string
	Basename string
	FileID   string
}

// FullPath joins Dirname and Basename the way every invariant in this
// package expects: "" + "" for the root, "" + basename for root-directory
// children, dirname + "/" + basename otherwise.
func (k Key) FullPath() string {
	if k.Dirname == "" {
		return k.Basename
	}
	return k.Dirname + "/" + k.Basename
}

// TreeDetails is the per-tree-column payload of a Row: the entry's kind,
// its kind-dependent fingerprint, its size, its executable bit, and a
// trailing field whose meaning depends on the column (a packed stat for
// the working-tree column, a revision id for parent columns).
type TreeDetails struct {
	Kind          MiniKind
	Fingerprint   string
	Size          uint64
	Executable    bool
	PackedOrRevID string
}

// Row is one dirstate record: a Key plus one TreeDetails per tree column.
// Column 0 is the working tree; columns 1..N are parent trees in recorded
// order.
type Row struct {
	Key  Key
	Tree []TreeDetails
}

// FieldCount returns the number of NUL/newline-delimited fields a Row with
// nParents parents occupies on disk, per the file format: key fields (3)
// plus five fields per tree column (1 + nParents columns) plus the
// terminating newline counted as one field.
func FieldCount(nParents int) int {
	return 3 + 5*(1+nParents) + 1
}

// EncodeRow writes row to w in the on-disk NUL-separated, newline-terminated
// form. len(row.Tree) must equal 1+nParents for the DirState this row
// belongs to; EncodeRow does not itself know nParents and trusts the caller.
func EncodeRow(w io.Writer, row Row) error {
	fields := make([]string, 0, 3+5*len(row.Tree))
	fields = append(fields, row.Key.Dirname, row.Key.Basename, row.Key.FileID)

	for _, td := range row.Tree {
		exec := "n"
		if td.Executable {
			exec = "y"
		}
		fields = append(fields,
			string(td.Kind),
			td.Fingerprint,
			strconv.FormatUint(td.Size, 10),
			exec,
			td.PackedOrRevID,
		)
	}

	if _, err := io.WriteString(w, strings.Join(fields, "\x00")); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// DecodeRow reads one row from r, which must have nParents recorded parent
// trees (so the row has 1+nParents tree columns). r is read field-by-field
// using NUL as the interior delimiter and newline as the terminator of the
// row's last field, matching EncodeRow exactly.
func DecodeRow(r *bufio.Reader, nParents int) (Row, error) {
	nCols := 1 + nParents

	dirname, err := binary.ReadUntilFromBufioReader(r, 0)
	if err != nil {
		return Row{}, formatErrorf("dirstate: reading row dirname: %v", err)
	}
	basename, err := binary.ReadUntilFromBufioReader(r, 0)
	if err != nil {
		return Row{}, formatErrorf("dirstate: reading row basename: %v", err)
	}
	fileID, err := binary.ReadUntilFromBufioReader(r, 0)
	if err != nil {
		return Row{}, formatErrorf("dirstate: reading row file-id: %v", err)
	}

	row := Row{
		Key:  Key{Dirname: string(dirname), Basename: string(basename), FileID: string(fileID)},
		Tree: make([]TreeDetails, nCols),
	}

	for i := 0; i < nCols; i++ {
		last := i == nCols-1

		kindField, err := binary.ReadUntilFromBufioReader(r, 0)
		if err != nil {
			return Row{}, formatErrorf("dirstate: reading tree column %d kind: %v", i, err)
		}
		if len(kindField) != 1 || !MiniKind(kindField[0]).valid() {
			return Row{}, formatErrorf("dirstate: invalid minikind %q in tree column %d", kindField, i)
		}
		kind := MiniKind(kindField[0])

		fingerprint, err := binary.ReadUntilFromBufioReader(r, 0)
		if err != nil {
			return Row{}, formatErrorf("dirstate: reading tree column %d fingerprint: %v", i, err)
		}

		sizeField, err := binary.ReadUntilFromBufioReader(r, 0)
		if err != nil {
			return Row{}, formatErrorf("dirstate: reading tree column %d size: %v", i, err)
		}
		size, err := strconv.ParseUint(string(sizeField), 10, 64)
		if err != nil {
			return Row{}, formatErrorf("dirstate: invalid size %q in tree column %d: %v", sizeField, i, err)
		}

		execField, err := binary.ReadUntilFromBufioReader(r, 0)
		if err != nil {
			return Row{}, formatErrorf("dirstate: reading tree column %d executable flag: %v", i, err)
		}
		if len(execField) != 1 || (execField[0] != 'y' && execField[0] != 'n') {
			return Row{}, formatErrorf("dirstate: invalid executable flag %q in tree column %d", execField, i)
		}

		var tail []byte
		if last {
			tail, err = binary.ReadUntilFromBufioReader(r, '\n')
		} else {
			tail, err = binary.ReadUntilFromBufioReader(r, 0)
		}
		if err != nil {
			return Row{}, formatErrorf("dirstate: reading tree column %d trailing field: %v", i, err)
		}

		row.Tree[i] = TreeDetails{
			Kind:          kind,
			Fingerprint:   string(fingerprint),
			Size:          size,
			Executable:    execField[0] == 'y',
			PackedOrRevID: string(tail),
		}
	}

	return row, nil
}
