package dirstate

import (
	"sort"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
)

// The id index is the secondary index from file-id to every key mentioning
// that id, in any tree column. It is a derived view: built lazily from the
// blocks on first request, updated incrementally by the small mutations,
// and thrown away entirely by the mutations that rewrite large regions.

// idIndexMap returns the id index, building it if necessary.
func (d *DirState) idIndexMap() map[string]map[dirstatefile.Key]struct{} {
	if d.idIndex == nil {
		d.idIndex = d.buildIDIndex()
	}
	return d.idIndex
}

func (d *DirState) buildIDIndex() map[string]map[dirstatefile.Key]struct{} {
	idx := make(map[string]map[dirstatefile.Key]struct{})
	for _, b := range d.blocks {
		for _, r := range b.Rows {
			keys, ok := idx[r.Key.FileID]
			if !ok {
				keys = make(map[dirstatefile.Key]struct{})
				idx[r.Key.FileID] = keys
			}
			keys[r.Key] = struct{}{}
		}
	}
	return idx
}

// invalidateIDIndex drops the id index so the next user rebuilds it.
func (d *DirState) invalidateIDIndex() { d.idIndex = nil }

// idIndexAdd records key in the id index, if one is materialized.
func (d *DirState) idIndexAdd(key dirstatefile.Key) {
	if d.idIndex == nil {
		return
	}
	keys, ok := d.idIndex[key.FileID]
	if !ok {
		keys = make(map[dirstatefile.Key]struct{})
		d.idIndex[key.FileID] = keys
	}
	keys[key] = struct{}{}
}

// idIndexRemove removes key from the id index, if one is materialized.
func (d *DirState) idIndexRemove(key dirstatefile.Key) {
	if d.idIndex == nil {
		return
	}
	keys, ok := d.idIndex[key.FileID]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(d.idIndex, key.FileID)
	}
}

// keysForID returns every key mentioning fileID, sorted in the same
// (dirname component order, basename, file-id) order rows are stored in,
// so callers iterate deterministically.
func (d *DirState) keysForID(fileID string) []dirstatefile.Key {
	set := d.idIndexMap()[fileID]
	if len(set) == 0 {
		return nil
	}
	keys := make([]dirstatefile.Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := bisect.CompareComponentOrder(keys[i].Dirname, keys[j].Dirname); c != 0 {
			return c < 0
		}
		if keys[i].Basename != keys[j].Basename {
			return keys[i].Basename < keys[j].Basename
		}
		return keys[i].FileID < keys[j].FileID
	})
	return keys
}

// presentKeyForID returns the one key where fileID is present in the given
// tree column, if any.
func (d *DirState) presentKeyForID(fileID string, col int) (dirstatefile.Key, bool) {
	for _, k := range d.keysForID(fileID) {
		bi, ri, ok := d.findKey(k)
		if !ok {
			continue
		}
		row := d.blocks[bi].Rows[ri]
		if col < len(row.Tree) && row.Tree[col].Kind.Present() {
			return k, true
		}
	}
	return dirstatefile.Key{}, false
}
