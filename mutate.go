package dirstate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/glasser/dirstate/plumbing/format/dirstatefile"
	"github.com/glasser/dirstate/plumbing/format/dirstatefile/bisect"
	"github.com/glasser/dirstate/utils/trace"
)

// DeltaItem is one record of a tree delta: an entry appearing, moving,
// changing, or disappearing. A nil OldPath means the entry is new; a nil
// NewPath means it is removed; both set with different values means a
// rename. Entry carries the new details and must be set whenever NewPath
// is.
type DeltaItem struct {
	OldPath *string
	NewPath *string
	FileID  string
	Entry   *InventoryEntry
}

func absentDetails() dirstatefile.TreeDetails {
	return dirstatefile.TreeDetails{Kind: dirstatefile.KindAbsent}
}

func relocDetails(target string) dirstatefile.TreeDetails {
	return dirstatefile.TreeDetails{Kind: dirstatefile.KindRelocated, Fingerprint: target}
}

// validateEntryName refuses ".", "..", empty basenames, and names carrying
// the two bytes the file format reserves as separators.
func validateEntryName(path string) error {
	if strings.ContainsAny(path, "\x00\n") {
		return &InvalidEntryNameError{Path: path}
	}
	for _, component := range strings.Split(path, "/") {
		if component == "" || component == "." || component == ".." {
			return &InvalidEntryNameError{Path: path}
		}
	}
	return nil
}

// Add inserts one new row in the working-tree column. The containing
// directory must already be versioned; the file-id and the path must both
// be new. Adding a directory also creates its (empty) block.
func (d *DirState) Add(path, fileID string, kind dirstatefile.MiniKind, size uint64, executable bool, packed dirstatefile.PackedStat, fingerprint string) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}
	if !kind.Present() {
		return fmt.Errorf("dirstate: cannot add entry of kind %q: %w", kind, ErrInvalidEntryName)
	}
	if err := validateEntryName(path); err != nil {
		return err
	}
	if fileID == "" || strings.ContainsAny(fileID, "\x00\n") {
		return fmt.Errorf("dirstate: invalid file-id %q: %w", fileID, ErrInvalidEntryName)
	}

	dirname, basename := splitPath(path)
	if d.normalize != nil {
		normalized, accessible := d.normalize(basename)
		if !accessible || normalized != basename {
			return &InvalidEntryNameError{Path: path}
		}
	}

	parentRow, ok := d.GetEntry(dirname)
	if !ok || parentRow.Tree[0].Kind != dirstatefile.KindDirectory {
		return &NotVersionedError{Path: dirname}
	}
	if keys := d.keysForID(fileID); len(keys) > 0 {
		return &DuplicateFileIDError{FileID: fileID, ExistingPath: keys[0].FullPath()}
	}
	if existing, ok := d.GetEntry(path); ok && existing.Tree[0].Kind.Present() {
		return &InconsistentDeltaError{Path: path, FileID: fileID, Reason: "path is already versioned"}
	}

	if kind == dirstatefile.KindDirectory {
		fingerprint = ""
		size = 0
	}
	if packed == "" {
		packed = dirstatefile.NullStat
	}

	tree := make([]dirstatefile.TreeDetails, 1+len(d.parents))
	for i := range tree {
		tree[i] = absentDetails()
	}
	tree[0] = dirstatefile.TreeDetails{
		Kind:          kind,
		Fingerprint:   fingerprint,
		Size:          size,
		Executable:    executable,
		PackedOrRevID: string(packed),
	}

	key := dirstatefile.Key{Dirname: dirname, Basename: basename, FileID: fileID}
	d.insertRow(dirstatefile.Row{Key: key, Tree: tree})
	d.idIndexAdd(key)
	if kind == dirstatefile.KindDirectory {
		d.ensureBlock(path)
	}

	trace.Mutate.Printf("dirstate: add %q (%s, %c)", path, fileID, kind)
	d.markModified()
	return nil
}

// setKeyCol writes details into one tree column of key's row, creating the
// row if needed, and maintains the per-id cross references: when the
// column gains a present entry here, every other row carrying this file-id
// is rewritten to a relocation pointing at the new location in that
// column, preserving the rename history its other columns record.
func (d *DirState) setKeyCol(key dirstatefile.Key, col int, details dirstatefile.TreeDetails) {
	path := key.FullPath()
	others := d.keysForID(key.FileID)

	bi, ri, ok := d.findKey(key)
	if ok {
		d.blocks[bi].Rows[ri].Tree[col] = details
	} else {
		tree := make([]dirstatefile.TreeDetails, 1+len(d.parents))
		for i := range tree {
			tree[i] = absentDetails()
			if i == col {
				continue
			}
			if pk, found := d.presentKeyForID(key.FileID, i); found {
				tree[i] = relocDetails(pk.FullPath())
			}
		}
		tree[col] = details
		d.insertRow(dirstatefile.Row{Key: key, Tree: tree})
		d.idIndexAdd(key)
	}

	if details.Kind.Present() {
		for _, other := range others {
			if other == key {
				continue
			}
			obi, ori, found := d.findKey(other)
			if !found {
				continue
			}
			d.blocks[obi].Rows[ori].Tree[col] = relocDetails(path)
		}
	}

	if details.Kind == dirstatefile.KindDirectory {
		d.ensureBlock(path)
	}
	d.markModified()
}

// UpdateMinimal is the lower-level insert/update of one working-tree
// column entry, exposed for callers that already resolved the key. An
// empty packedStat stores the null sentinel.
func (d *DirState) UpdateMinimal(key dirstatefile.Key, kind dirstatefile.MiniKind, executable bool, fingerprint string, size uint64, packedStat string) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}
	if packedStat == "" {
		packedStat = string(dirstatefile.NullStat)
	}
	d.setKeyCol(key, 0, dirstatefile.TreeDetails{
		Kind:          kind,
		Fingerprint:   fingerprint,
		Size:          size,
		Executable:    executable,
		PackedOrRevID: packedStat,
	})
	return nil
}

// makeAbsentCol marks one tree column of key's row absent. A row left with
// no present column anywhere is removed entirely, and relocations that
// pointed at it in that column are made absent so nothing dangles.
func (d *DirState) makeAbsentCol(key dirstatefile.Key, col int) {
	bi, ri, ok := d.findKey(key)
	if !ok {
		return
	}
	row := &d.blocks[bi].Rows[ri]
	row.Tree[col] = absentDetails()

	anyPresent := false
	for _, td := range row.Tree {
		if td.Kind.Present() {
			anyPresent = true
			break
		}
	}
	if !anyPresent {
		d.removeRowAt(bi, ri)
		d.idIndexRemove(key)
	}

	path := key.FullPath()
	for _, other := range d.keysForID(key.FileID) {
		if other == key {
			continue
		}
		obi, ori, found := d.findKey(other)
		if !found {
			continue
		}
		otherRow := &d.blocks[obi].Rows[ori]
		if otherRow.Tree[col].Kind != dirstatefile.KindRelocated || otherRow.Tree[col].Fingerprint != path {
			continue
		}
		otherRow.Tree[col] = absentDetails()
		stillAlive := false
		for _, td := range otherRow.Tree {
			if td.Kind.Present() {
				stillAlive = true
				break
			}
		}
		if !stillAlive {
			d.removeRowAt(obi, ori)
			d.idIndexRemove(other)
		}
	}

	trace.Mutate.Printf("dirstate: absent %q column %d", path, col)
	d.markModified()
}

// Remove marks the entry at path absent in the working tree. A directory
// may only be removed once none of its children are present.
func (d *DirState) Remove(path string) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}

	row, ok := d.GetEntry(path)
	if !ok || !row.Tree[0].Kind.Present() {
		return &NotVersionedError{Path: path}
	}
	if row.Tree[0].Kind == dirstatefile.KindDirectory {
		if bi, found := d.blockIndex(path); found {
			for _, child := range d.blocks[bi].Rows {
				if child.Tree[0].Kind.Present() {
					return &InconsistentDeltaError{
						Path:   path,
						FileID: row.Key.FileID,
						Reason: "cannot remove a directory that still has children",
					}
				}
			}
		}
	}

	d.makeAbsentCol(row.Key, 0)
	return nil
}

// SetPathID changes the file-id of the entry at path. Only the tree root
// supports this; the root is the one entry whose identity can change
// without a rename.
func (d *DirState) SetPathID(path, newID string) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}
	if path != "" {
		return fmt.Errorf("dirstate: set_path_id of non-root path %q: %w", path, ErrNotImplemented)
	}
	if newID == "" || strings.ContainsAny(newID, "\x00\n") {
		return fmt.Errorf("dirstate: invalid file-id %q: %w", newID, ErrInvalidEntryName)
	}

	rootRow, ok := d.GetEntry("")
	if !ok {
		return &NotVersionedError{Path: ""}
	}
	if rootRow.Key.FileID == newID {
		return nil
	}
	if keys := d.keysForID(newID); len(keys) > 0 {
		return &DuplicateFileIDError{FileID: newID, ExistingPath: keys[0].FullPath()}
	}

	oldKey := rootRow.Key
	bi, ri, _ := d.findKey(oldKey)
	keepOld := false
	for _, td := range rootRow.Tree[1:] {
		if td.Kind.Present() {
			keepOld = true
			break
		}
	}
	if keepOld {
		d.blocks[bi].Rows[ri].Tree[0] = absentDetails()
	} else {
		d.removeRowAt(bi, ri)
		d.idIndexRemove(oldKey)
	}

	tree := make([]dirstatefile.TreeDetails, 1+len(d.parents))
	for i := range tree {
		tree[i] = absentDetails()
	}
	tree[0] = rootRow.Tree[0]
	newKey := dirstatefile.Key{Dirname: "", Basename: "", FileID: newID}
	d.insertRow(dirstatefile.Row{Key: newKey, Tree: tree})
	d.idIndexAdd(newKey)

	trace.Mutate.Printf("dirstate: root id %q -> %q", oldKey.FileID, newID)
	d.markModified()
	return nil
}

// SetParentTrees replaces the recorded parent list. Working-tree details
// are kept as they are; every parent column is rebuilt from the supplied
// inventories, in parent order, synthesizing relocations where a file-id
// lives at different paths in different trees. Ghosts are recorded and
// contribute an all-absent column.
func (d *DirState) SetParentTrees(trees []ParentTree, ghosts []string) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}

	ghostSet := make(map[string]bool, len(ghosts))
	for _, g := range ghosts {
		ghostSet[g] = true
	}
	seen := make(map[string]bool, len(trees))
	for _, t := range trees {
		if seen[t.RevisionID] {
			return &InconsistentDeltaError{Reason: fmt.Sprintf("parent %q recorded twice", t.RevisionID)}
		}
		seen[t.RevisionID] = true
		if (t.Inventory == nil) != ghostSet[t.RevisionID] {
			return &InconsistentDeltaError{Reason: fmt.Sprintf("parent %q ghost accounting mismatch", t.RevisionID)}
		}
	}
	for _, g := range ghosts {
		if !seen[g] {
			return &InconsistentDeltaError{Reason: fmt.Sprintf("ghost %q is not in the parent list", g)}
		}
	}

	nCols := 1 + len(trees)
	rows := make(map[dirstatefile.Key]*dirstatefile.Row)
	idKeys := make(map[string]map[dirstatefile.Key]struct{})
	addKey := func(k dirstatefile.Key) {
		keys, ok := idKeys[k.FileID]
		if !ok {
			keys = make(map[dirstatefile.Key]struct{})
			idKeys[k.FileID] = keys
		}
		keys[k] = struct{}{}
	}
	presentIn := func(fileID string, col int) (dirstatefile.Key, bool) {
		for k := range idKeys[fileID] {
			if rows[k].Tree[col].Kind.Present() {
				return k, true
			}
		}
		return dirstatefile.Key{}, false
	}

	for _, r := range d.Rows() {
		if r.Tree[0].Kind == dirstatefile.KindAbsent {
			continue
		}
		tree := make([]dirstatefile.TreeDetails, nCols)
		tree[0] = r.Tree[0]
		for i := 1; i < nCols; i++ {
			tree[i] = absentDetails()
		}
		rows[r.Key] = &dirstatefile.Row{Key: r.Key, Tree: tree}
		addKey(r.Key)
	}

	for j, t := range trees {
		col := j + 1
		if t.Inventory == nil {
			continue
		}
		for _, e := range t.Inventory.Entries() {
			dirname, basename := splitPath(e.Path)
			key := dirstatefile.Key{Dirname: dirname, Basename: basename, FileID: e.FileID}
			rev := e.Revision
			if rev == "" {
				rev = t.RevisionID
			}
			details := dirstatefile.TreeDetails{
				Kind:          dirstatefile.MiniKind(e.Kind),
				Fingerprint:   e.Fingerprint,
				Size:          e.Size,
				Executable:    e.Executable,
				PackedOrRevID: rev,
			}

			if r, ok := rows[key]; ok {
				r.Tree[col] = details
			} else {
				tree := make([]dirstatefile.TreeDetails, nCols)
				for i := range tree {
					tree[i] = absentDetails()
					if i >= col {
						continue
					}
					if pk, found := presentIn(e.FileID, i); found {
						tree[i] = relocDetails(pk.FullPath())
					}
				}
				tree[col] = details
				rows[key] = &dirstatefile.Row{Key: key, Tree: tree}
				addKey(key)
			}

			for other := range idKeys[e.FileID] {
				if other == key {
					continue
				}
				if !rows[other].Tree[col].Kind.Present() {
					rows[other].Tree[col] = relocDetails(e.Path)
				}
			}
		}
	}

	flat := make([]dirstatefile.Row, 0, len(rows))
	for _, r := range rows {
		alive := false
		for _, td := range r.Tree {
			if td.Kind.Present() {
				alive = true
				break
			}
		}
		if alive {
			flat = append(flat, *r)
		}
	}
	sortRowsBlockOrder(flat)
	d.rebuildBlocks(flat)

	d.parents = make([]string, len(trees))
	for i, t := range trees {
		d.parents[i] = t.RevisionID
	}
	d.ghosts = append([]string(nil), ghosts...)
	d.invalidateIDIndex()

	trace.Mutate.Printf("dirstate: set %d parent trees (%d ghosts)", len(trees), len(ghosts))
	d.markModified()
	return nil
}

// SetStateFromInventory replaces the working-tree column wholesale from a
// new authoritative enumeration, walking both sides in component order. A
// row only counts as changed when its kind or execute bit differs, in
// which case the fingerprint is zeroed and the stat dropped; metadata-
// stable rows are left untouched to avoid churning the sha cache.
func (d *DirState) SetStateFromInventory(inv Inventory) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}

	type currentRow struct {
		key  dirstatefile.Key
		kind dirstatefile.MiniKind
		exec bool
	}
	var current []currentRow
	for _, r := range d.Rows() {
		if r.Tree[0].Kind.Present() {
			current = append(current, currentRow{r.Key, r.Tree[0].Kind, r.Tree[0].Executable})
		}
	}
	entries := inv.Entries()

	i, j := 0, 0
	for i < len(current) || j < len(entries) {
		var c int
		switch {
		case i >= len(current):
			c = 1
		case j >= len(entries):
			c = -1
		default:
			dn, bn := splitPath(entries[j].Path)
			if c = bisect.CompareComponentOrder(current[i].key.Dirname, dn); c == 0 {
				c = strings.Compare(current[i].key.Basename, bn)
			}
		}

		switch {
		case c < 0:
			d.makeAbsentCol(current[i].key, 0)
			i++
		case c > 0:
			e := entries[j]
			dn, bn := splitPath(e.Path)
			d.setKeyCol(dirstatefile.Key{Dirname: dn, Basename: bn, FileID: e.FileID}, 0, dirstatefile.TreeDetails{
				Kind:          dirstatefile.MiniKind(e.Kind),
				Executable:    e.Executable,
				PackedOrRevID: string(dirstatefile.NullStat),
			})
			j++
		default:
			e := entries[j]
			cu := current[i]
			switch {
			case cu.key.FileID != e.FileID:
				d.makeAbsentCol(cu.key, 0)
				dn, bn := splitPath(e.Path)
				d.setKeyCol(dirstatefile.Key{Dirname: dn, Basename: bn, FileID: e.FileID}, 0, dirstatefile.TreeDetails{
					Kind:          dirstatefile.MiniKind(e.Kind),
					Executable:    e.Executable,
					PackedOrRevID: string(dirstatefile.NullStat),
				})
			case cu.kind != dirstatefile.MiniKind(e.Kind) || cu.exec != e.Executable:
				d.setKeyCol(cu.key, 0, dirstatefile.TreeDetails{
					Kind:          dirstatefile.MiniKind(e.Kind),
					Executable:    e.Executable,
					PackedOrRevID: string(dirstatefile.NullStat),
				})
			}
			i++
			j++
		}
	}

	d.invalidateIDIndex()
	trace.Mutate.Printf("dirstate: working tree reset from inventory (%d entries)", len(entries))
	d.markModified()
	return nil
}

// pendingAdd is one decomposed insertion of a delta application.
type pendingAdd struct {
	key     dirstatefile.Key
	details dirstatefile.TreeDetails
	fresh   bool // a brand-new id, not the add half of a rename
}

// UpdateByDelta applies a sequence of delta records to the working-tree
// column. Renames are decomposed into remove-then-add pairs, and children
// of a renamed directory are re-parented under the new path. Any
// inconsistency between the delta's assumptions and the dirstate sets the
// aborted flag.
func (d *DirState) UpdateByDelta(delta []DeltaItem) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}
	if len(delta) == 0 {
		return nil
	}
	if err := d.validateDelta(delta); err != nil {
		return d.abort(err)
	}

	removals, adds, err := d.decomposeDelta(delta, 0)
	if err != nil {
		return d.abort(err)
	}

	if err := d.checkRemovedDirsEmpty(removals, 0); err != nil {
		return d.abort(err)
	}

	sort.Slice(removals, func(i, j int) bool {
		return bisect.CompareComponentOrder(removals[i], removals[j]) > 0
	})
	for _, p := range removals {
		row, ok := d.entryAtCol(p, 0)
		if !ok {
			return d.abort(&InconsistentDeltaError{Path: p, Reason: "removal source vanished mid-delta"})
		}
		d.makeAbsentCol(row.Key, 0)
	}

	sort.Slice(adds, func(i, j int) bool {
		if c := bisect.CompareComponentOrder(adds[i].key.Dirname, adds[j].key.Dirname); c != 0 {
			return c < 0
		}
		return adds[i].key.Basename < adds[j].key.Basename
	})
	for _, a := range adds {
		if err := d.applyAdd(a, 0); err != nil {
			return d.abort(err)
		}
	}

	trace.Mutate.Printf("dirstate: applied delta (%d records)", len(delta))
	d.markModified()
	return nil
}

// UpdateBasisByDelta collapses the parent list to the single parent
// newRevID, then applies delta to its column. An empty delta only
// collapses. Inconsistencies set the aborted flag.
func (d *DirState) UpdateBasisByDelta(delta []DeltaItem, newRevID string) error {
	if err := d.requireWriteLocked(); err != nil {
		return err
	}

	var flat []dirstatefile.Row
	for _, r := range d.Rows() {
		tree := []dirstatefile.TreeDetails{r.Tree[0], absentDetails()}
		if len(r.Tree) > 1 {
			tree[1] = r.Tree[1]
		}
		alive := tree[0].Kind.Present() || tree[1].Kind.Present()
		if !alive {
			continue
		}
		flat = append(flat, dirstatefile.Row{Key: r.Key, Tree: tree})
	}
	d.rebuildBlocks(flat)
	d.parents = []string{newRevID}
	d.ghosts = nil
	d.invalidateIDIndex()
	d.markModified()

	if len(delta) == 0 {
		return nil
	}
	if err := d.validateDelta(delta); err != nil {
		return d.abort(err)
	}

	removals, adds, err := d.decomposeDelta(delta, 1)
	if err != nil {
		return d.abort(err)
	}
	if err := d.checkRemovedDirsEmpty(removals, 1); err != nil {
		return d.abort(err)
	}

	sort.Slice(removals, func(i, j int) bool {
		return bisect.CompareComponentOrder(removals[i], removals[j]) > 0
	})
	for _, p := range removals {
		row, ok := d.entryAtCol(p, 1)
		if !ok {
			return d.abort(&InconsistentDeltaError{Path: p, Reason: "removal source vanished mid-delta"})
		}
		d.makeAbsentCol(row.Key, 1)
	}

	sort.Slice(adds, func(i, j int) bool {
		if c := bisect.CompareComponentOrder(adds[i].key.Dirname, adds[j].key.Dirname); c != 0 {
			return c < 0
		}
		return adds[i].key.Basename < adds[j].key.Basename
	})
	for _, a := range adds {
		if a.details.PackedOrRevID == "" {
			a.details.PackedOrRevID = newRevID
		}
		if err := d.applyAdd(a, 1); err != nil {
			return d.abort(err)
		}
	}

	trace.Mutate.Printf("dirstate: rebased basis onto %q (%d records)", newRevID, len(delta))
	d.markModified()
	return nil
}

// validateDelta checks the delta's internal shape before anything mutates.
func (d *DirState) validateDelta(delta []DeltaItem) error {
	seen := make(map[string]bool, len(delta))
	for _, it := range delta {
		if it.FileID == "" {
			return &InconsistentDeltaError{Reason: "delta record without a file-id"}
		}
		if strings.ContainsAny(it.FileID, "\x00\n") {
			return &InconsistentDeltaError{FileID: it.FileID, Reason: "file-id carries a NUL or newline"}
		}
		if seen[it.FileID] {
			return &InconsistentDeltaError{FileID: it.FileID, Reason: "file-id repeated within one delta"}
		}
		seen[it.FileID] = true
		if it.OldPath == nil && it.NewPath == nil {
			return &InconsistentDeltaError{FileID: it.FileID, Reason: "delta record names neither an old nor a new path"}
		}
		if it.NewPath != nil {
			if it.Entry == nil {
				return &InconsistentDeltaError{FileID: it.FileID, Path: *it.NewPath, Reason: "delta record has a new path but no entry"}
			}
			if it.Entry.FileID != "" && it.Entry.FileID != it.FileID {
				return &InconsistentDeltaError{FileID: it.FileID, Path: *it.NewPath, Reason: "delta entry carries a different file-id"}
			}
			if err := validateEntryName(*it.NewPath); err != nil {
				return &InconsistentDeltaError{FileID: it.FileID, Path: *it.NewPath, Reason: "invalid new path"}
			}
		}
	}
	return nil
}

// entryAtCol finds the row at path whose given tree column is not absent.
func (d *DirState) entryAtCol(path string, col int) (dirstatefile.Row, bool) {
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
	for _, r := range d.blocks[bi].Rows {
		if r.Key.Basename != basename {
			continue
		}
		if col < len(r.Tree) && r.Tree[col].Kind != dirstatefile.KindAbsent {
			return r, true
		}
	}
	return dirstatefile.Row{}, false
}

// decomposeDelta turns delta records into a flat removal list and add
// list for one tree column, expanding directory renames to cover their
// children. Sources are verified against the column before anything is
// touched.
func (d *DirState) decomposeDelta(delta []DeltaItem, col int) (removals []string, adds []pendingAdd, err error) {
	inDelta := make(map[string]bool, len(delta))
	for _, it := range delta {
		inDelta[it.FileID] = true
	}

	for _, it := range delta {
		if it.OldPath != nil {
			row, ok := d.entryAtCol(*it.OldPath, col)
			if !ok || !row.Tree[col].Kind.Present() {
				return nil, nil, &InconsistentDeltaError{
					Path:   *it.OldPath,
					FileID: it.FileID,
					Reason: "delta source is not present in this tree",
				}
			}
			if row.Key.FileID != it.FileID {
				return nil, nil, &InconsistentDeltaError{
					Path:   *it.OldPath,
					FileID: it.FileID,
					Reason: fmt.Sprintf("delta source holds file-id %q", row.Key.FileID),
				}
			}
		}

		switch {
		case it.OldPath != nil && it.NewPath != nil && *it.OldPath == *it.NewPath:
			dn, bn := splitPath(*it.NewPath)
			adds = append(adds, pendingAdd{
				key:     dirstatefile.Key{Dirname: dn, Basename: bn, FileID: it.FileID},
				details: detailsFromEntry(*it.Entry),
			})
		case it.OldPath != nil && it.NewPath != nil:
			removals = append(removals, *it.OldPath)
			dn, bn := splitPath(*it.NewPath)
			adds = append(adds, pendingAdd{
				key:     dirstatefile.Key{Dirname: dn, Basename: bn, FileID: it.FileID},
				details: detailsFromEntry(*it.Entry),
			})
			if dirstatefile.MiniKind(it.Entry.Kind) == dirstatefile.KindDirectory {
				childRemovals, childAdds := d.reparentChildren(*it.OldPath, *it.NewPath, col, inDelta)
				removals = append(removals, childRemovals...)
				adds = append(adds, childAdds...)
			}
		case it.OldPath != nil:
			removals = append(removals, *it.OldPath)
		default:
			dn, bn := splitPath(*it.NewPath)
			adds = append(adds, pendingAdd{
				key:     dirstatefile.Key{Dirname: dn, Basename: bn, FileID: it.FileID},
				details: detailsFromEntry(*it.Entry),
				fresh:   true,
			})
		}
	}
	return removals, adds, nil
}

func detailsFromEntry(e InventoryEntry) dirstatefile.TreeDetails {
	d := dirstatefile.TreeDetails{
		Kind:          dirstatefile.MiniKind(e.Kind),
		Fingerprint:   e.Fingerprint,
		Size:          e.Size,
		Executable:    e.Executable,
		PackedOrRevID: e.Revision,
	}
	if d.Kind == dirstatefile.KindDirectory {
		d.Fingerprint = ""
		d.Size = 0
	}
	return d
}

// reparentChildren enumerates the subtree below oldDir in one tree column
// and schedules each child for removal there and re-insertion below
// newDir, skipping file-ids the delta names explicitly.
func (d *DirState) reparentChildren(oldDir, newDir string, col int, inDelta map[string]bool) (removals []string, adds []pendingAdd) {
	prefix := oldDir + "/"
	for _, b := range d.blocks {
		if b.Dirname != oldDir && !strings.HasPrefix(b.Dirname, prefix) {
			continue
		}
		for _, r := range b.Rows {
			if col >= len(r.Tree) || !r.Tree[col].Kind.Present() {
				continue
			}
			if inDelta[r.Key.FileID] {
				continue
			}
			oldPath := r.Key.FullPath()
			newPath := newDir + oldPath[len(oldDir):]
			dn, bn := splitPath(newPath)
			removals = append(removals, oldPath)
			adds = append(adds, pendingAdd{
				key:     dirstatefile.Key{Dirname: dn, Basename: bn, FileID: r.Key.FileID},
				details: r.Tree[col],
			})
		}
	}
	return removals, adds
}

// checkRemovedDirsEmpty verifies that every directory scheduled for
// removal has all its present children scheduled too.
func (d *DirState) checkRemovedDirsEmpty(removals []string, col int) error {
	if len(removals) == 0 {
		return nil
	}
	removed := make(map[string]bool, len(removals))
	for _, p := range removals {
		removed[p] = true
	}
	for _, p := range removals {
		row, ok := d.entryAtCol(p, col)
		if !ok || row.Tree[col].Kind != dirstatefile.KindDirectory {
			continue
		}
		bi, found := d.blockIndex(p)
		if !found {
			continue
		}
		for _, child := range d.blocks[bi].Rows {
			if col >= len(child.Tree) || !child.Tree[col].Kind.Present() {
				continue
			}
			if !removed[child.Key.FullPath()] {
				return &InconsistentDeltaError{
					Path:   p,
					FileID: row.Key.FileID,
					Reason: fmt.Sprintf("directory is removed but child %q is not", child.Key.FullPath()),
				}
			}
		}
	}
	return nil
}

// applyAdd inserts one decomposed addition into a tree column, verifying
// the destination first. Working-tree insertions with no stat recorded get
// the null sentinel so a later status scan re-reads them.
func (d *DirState) applyAdd(a pendingAdd, col int) error {
	if col == 0 && a.details.PackedOrRevID == "" {
		a.details.PackedOrRevID = string(dirstatefile.NullStat)
	}
	path := a.key.FullPath()
	if a.key.Dirname != "" {
		parent, ok := d.entryAtCol(a.key.Dirname, col)
		if !ok || parent.Tree[col].Kind != dirstatefile.KindDirectory {
			return &InconsistentDeltaError{
				Path:   path,
				FileID: a.key.FileID,
				Reason: "parent directory is not present in this tree",
			}
		}
	}
	if existing, ok := d.entryAtCol(path, col); ok &&
		existing.Tree[col].Kind.Present() && existing.Key.FileID != a.key.FileID {
		return &InconsistentDeltaError{
			Path:   path,
			FileID: a.key.FileID,
			Reason: fmt.Sprintf("path is already occupied by file-id %q", existing.Key.FileID),
		}
	}
	if a.fresh {
		if pk, ok := d.presentKeyForID(a.key.FileID, col); ok {
			return &InconsistentDeltaError{
				Path:   path,
				FileID: a.key.FileID,
				Reason: fmt.Sprintf("added file-id is already present at %q", pk.FullPath()),
			}
		}
	}
	d.setKeyCol(a.key, col, a.details)
	return nil
}
