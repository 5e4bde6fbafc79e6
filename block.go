package dirstate

import (
	"sort"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
)

// Block is the set of rows sharing one parent directory: a DirBlock.
//
// The block vector always starts with two blocks for dirname "": the first
// holds the tree root's own rows (basename ""), the second the contents of
// the root directory. Every other dirname appears at most once.
type Block struct {
	Dirname string
	Rows    []dirstatefile.Row
}

const (
	rootBlockIdx     = 0
	rootContentsIdx  = 1
	firstNormalBlock = 2
)

// rowLess orders rows within a block by (basename, file_id), bytewise.
func rowLess(a, b dirstatefile.Row) bool {
	if a.Key.Basename != b.Key.Basename {
		return a.Key.Basename < b.Key.Basename
	}
	return a.Key.FileID < b.Key.FileID
}

// blockIndex returns the index of the block holding the *contents* of
// dirname, and whether it exists. Lookup bisects the block vector in
// component order: the only correctness-critical comparison in this store.
// A bytewise comparison would put "a-b" before "a/b", the opposite of the
// order required for a directory and all its descendants to form one
// contiguous range.
func (d *DirState) blockIndex(dirname string) (int, bool) {
	if dirname == "" {
		return rootContentsIdx, len(d.blocks) > rootContentsIdx
	}
	if d.lastBlockDirname == dirname && d.lastBlockIdx < len(d.blocks) {
		return d.lastBlockIdx, true
	}

	if len(d.blocks) < firstNormalBlock {
		return firstNormalBlock, false
	}
	tail := d.blocks[firstNormalBlock:]
	i := sort.Search(len(tail), func(i int) bool {
		return bisect.CompareComponentOrder(tail[i].Dirname, dirname) >= 0
	})
	i += firstNormalBlock
	found := i < len(d.blocks) && d.blocks[i].Dirname == dirname
	if found {
		d.lastBlockDirname = dirname
		d.lastBlockIdx = i
	}
	return i, found
}

// rowIndex returns the index of the row for (basename, fileID) within
// block blockIdx, and whether it was found.
func (d *DirState) rowIndex(blockIdx int, basename, fileID string) (int, bool) {
	rows := d.blocks[blockIdx].Rows
	target := dirstatefile.Row{Key: dirstatefile.Key{Basename: basename, FileID: fileID}}
	i := sort.Search(len(rows), func(i int) bool { return !rowLess(rows[i], target) })
	found := i < len(rows) && rows[i].Key.Basename == basename && rows[i].Key.FileID == fileID
	return i, found
}

// findKey locates the exact row for key, returning its block and row
// indices.
func (d *DirState) findKey(key dirstatefile.Key) (blockIdx, rowIdx int, ok bool) {
	if key.Dirname == "" && key.Basename == "" {
		if len(d.blocks) == 0 {
			return 0, 0, false
		}
		ri, found := d.rowIndex(rootBlockIdx, key.Basename, key.FileID)
		return rootBlockIdx, ri, found
	}
	bi, found := d.blockIndex(key.Dirname)
	if !found {
		return bi, 0, false
	}
	ri, found := d.rowIndex(bi, key.Basename, key.FileID)
	return bi, ri, found
}

// ensureBlock returns the index of the contents block for dirname,
// creating an empty one in sorted position if it did not already exist.
func (d *DirState) ensureBlock(dirname string) int {
	if i, ok := d.blockIndex(dirname); ok {
		return i
	}

	if len(d.blocks) < firstNormalBlock {
		panic("dirstate: block vector not seeded with the root blocks")
	}
	tail := d.blocks[firstNormalBlock:]
	i := sort.Search(len(tail), func(i int) bool {
		return bisect.CompareComponentOrder(tail[i].Dirname, dirname) >= 0
	})
	i += firstNormalBlock
	block := &Block{Dirname: dirname}
	d.blocks = append(d.blocks, nil)
	copy(d.blocks[i+1:], d.blocks[i:])
	d.blocks[i] = block
	d.invalidateBlockCache()
	return i
}

// insertRow inserts row into its block in (basename, file_id) order,
// creating the block if necessary, and invalidates the position cache.
// Root rows (dirname and basename both empty) go to the leading root
// block, never the root contents block.
func (d *DirState) insertRow(row dirstatefile.Row) {
	var bi int
	if row.Key.Dirname == "" && row.Key.Basename == "" {
		bi = rootBlockIdx
	} else {
		bi = d.ensureBlock(row.Key.Dirname)
	}
	rows := d.blocks[bi].Rows
	i := sort.Search(len(rows), func(i int) bool { return !rowLess(rows[i], row) })
	rows = append(rows, dirstatefile.Row{})
	copy(rows[i+1:], rows[i:])
	rows[i] = row
	d.blocks[bi].Rows = rows
	d.invalidateBlockCache()
}

// removeRowAt deletes the row at the given block and row indices. It never
// removes the block itself, even if left empty: an empty block still
// records that the directory is known.
func (d *DirState) removeRowAt(blockIdx, rowIdx int) {
	rows := d.blocks[blockIdx].Rows
	copy(rows[rowIdx:], rows[rowIdx+1:])
	d.blocks[blockIdx].Rows = rows[:len(rows)-1]
	d.invalidateBlockCache()
}

// rebuildBlocks replaces the whole block vector from rows, which must
// already be in block order: root rows, then root-directory contents, then
// the remaining dirnames in component order. Blocks for empty directories
// have no rows to announce them, so they are recreated from the directory
// rows afterwards.
func (d *DirState) rebuildBlocks(rows []dirstatefile.Row) {
	d.blocks = []*Block{{Dirname: ""}, {Dirname: ""}}
	d.invalidateBlockCache()

	for _, r := range rows {
		switch {
		case r.Key.Dirname == "" && r.Key.Basename == "":
			b := d.blocks[rootBlockIdx]
			b.Rows = append(b.Rows, r)
		case r.Key.Dirname == "":
			b := d.blocks[rootContentsIdx]
			b.Rows = append(b.Rows, r)
		default:
			if len(d.blocks) == firstNormalBlock || d.blocks[len(d.blocks)-1].Dirname != r.Key.Dirname {
				d.blocks = append(d.blocks, &Block{Dirname: r.Key.Dirname})
			}
			b := d.blocks[len(d.blocks)-1]
			b.Rows = append(b.Rows, r)
		}
	}

	for _, b := range append([]*Block(nil), d.blocks...) {
		for _, r := range b.Rows {
			for _, td := range r.Tree {
				if td.Kind == dirstatefile.KindDirectory {
					d.ensureBlock(r.Key.FullPath())
					break
				}
			}
		}
	}
}

// sortRowsBlockOrder sorts rows into the order rebuildBlocks expects.
func sortRowsBlockOrder(rows []dirstatefile.Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Key, rows[j].Key
		if c := bisect.CompareComponentOrder(a.Dirname, b.Dirname); c != 0 {
			return c < 0
		}
		return rowLess(rows[i], rows[j])
	})
}

// invalidateBlockCache clears the last-resolved-block cache, as required
// after any structural mutation.
func (d *DirState) invalidateBlockCache() {
	d.lastBlockDirname = ""
	d.lastBlockIdx = 0
}

// GetEntry returns the row at path whose working-tree column is not
// absent, or failing that any row at path, by bisecting the in-memory
// block vector. The empty path names the tree root.
func (d *DirState) GetEntry(path string) (dirstatefile.Row, bool) {
	dirname, basename := splitPath(path)

	var bi int
	if path == "" {
		if len(d.blocks) == 0 {
			return dirstatefile.Row{}, false
		}
		bi = rootBlockIdx
	} else {
		var ok bool
		bi, ok = d.blockIndex(dirname)
		if !ok {
			return dirstatefile.Row{}, false
		}
	}

	var fallback *dirstatefile.Row
	rows := d.blocks[bi].Rows
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Key.Basename >= basename })
	for ; i < len(rows) && rows[i].Key.Basename == basename; i++ {
		if rows[i].Tree[0].Kind != dirstatefile.KindAbsent {
			return rows[i], true
		}
		if fallback == nil {
			fallback = &rows[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return dirstatefile.Row{}, false
}

// splitPath splits a full path into its dirname and basename the way
// dirstatefile.Key.FullPath expects them joined: "" for the root's own
// dirname, the parent path otherwise.
func splitPath(path string) (dirname, basename string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
