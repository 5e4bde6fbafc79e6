// Package bisect implements the partial reader: locating specific dirstate
// rows on disk by seeking and reading small windows of the file rather than
// parsing it in full.
package bisect

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/glasser/dirstate/utils/trace"
)

// Row is a minimally parsed dirstate record: enough to compare against a
// target path or directory and to follow a relocation or descend into a
// directory, without decoding every tree column.
type Row struct {
	Dirname  string
	Basename string
	FileID   string

	// Col0Kind and Col0Target describe the working-tree (tree column 0)
	// entry only. Col0Target is the relocation target path when
	// Col0Kind == 'r', otherwise empty.
	Col0Kind   byte
	Col0Target string

	// Start and End bound the row's bytes in the file, End pointing just
	// past the row's terminating newline.
	Start, End int64
}

// Path returns the row's full path: Dirname + "/" + Basename, or just
// Basename at the root.
func (r Row) Path() string {
	if r.Dirname == "" {
		return r.Basename
	}
	return r.Dirname + "/" + r.Basename
}

// DefaultSafetyFactor bounds the number of page reads per call as
// DefaultSafetyFactor * max(1, len(targets)). It is a safety valve against
// runaway searches on pathologically fragmented pages, not a tight bound:
// page-size doubling converges in O(log file size) and would be sufficient
// on its own.
const DefaultSafetyFactor = 30

// DefaultInitialPageSize is the first window size tried per search; it
// doubles whenever a window holds fewer than two complete rows.
const DefaultInitialPageSize = 4096

// Bisector locates rows in an already-written dirstate file without
// decoding it in full.
type Bisector struct {
	r             io.ReaderAt
	size          int64
	bodyStart     int64
	initialPage   int64
	safetyFactor  int
}

// New returns a Bisector over r, a file of the given total size whose row
// body begins at bodyStart (immediately after the header, crc32,
// num_entries, parent, and ghost lines).
func New(r io.ReaderAt, size, bodyStart int64) *Bisector {
	return &Bisector{
		r:            r,
		size:         size,
		bodyStart:    bodyStart,
		initialPage:  DefaultInitialPageSize,
		safetyFactor: DefaultSafetyFactor,
	}
}

// SetInitialPageSize overrides the starting page size for subsequent
// searches. Values below one row's length only cost extra doubling rounds.
func (b *Bisector) SetInitialPageSize(n int64) {
	if n > 0 {
		b.initialPage = n
	}
}

// SetSafetyFactor overrides the per-target iteration bound.
func (b *Bisector) SetSafetyFactor(n int) {
	if n > 0 {
		b.safetyFactor = n
	}
}

type byteRange struct{ low, high int64 }

// BisectPaths returns the rows whose full path is in paths, without reading
// the whole file. Only paths actually present are returned; there is no
// error for a path that does not exist.
func (b *Bisector) BisectPaths(paths []string) ([]Row, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	// Rows are stored by dirname in component order, then by basename, so
	// paths are ordered and compared as (dirname, basename) pairs rather
	// than whole: "dir09" precedes "dir00/file00.txt" on disk.
	rowOrder := func(a, b string) int {
		ad, ab := path.Split(a)
		bd, bb := path.Split(b)
		if c := CompareComponentOrder(strings.TrimSuffix(ad, "/"), strings.TrimSuffix(bd, "/")); c != 0 {
			return c
		}
		return strings.Compare(ab, bb)
	}

	targets := append([]string(nil), paths...)
	sort.Slice(targets, func(i, j int) bool { return rowOrder(targets[i], targets[j]) < 0 })

	type task struct {
		rng   byteRange
		paths []string
	}

	work := []task{{byteRange{b.bodyStart, b.size}, targets}}
	pageSize := b.initialPage
	limit := b.safetyFactor * len(paths)

	var found []Row
	iterations := 0

	for len(work) > 0 {
		iterations++
		if iterations > limit {
			return nil, fmt.Errorf("dirstate: bisect exceeded %d iterations searching for %d paths", limit, len(paths))
		}

		t := work[len(work)-1]
		work = work[:len(work)-1]
		if t.rng.low >= t.rng.high || len(t.paths) == 0 {
			continue
		}

		rows, win, complete, err := b.readWindow(t.rng, pageSize)
		if err != nil {
			return nil, err
		}
		if len(rows) < 2 && !complete {
			pageSize *= 2
			trace.Bisect.Printf("dirstate: bisect iteration %d: window too small, page size now %d", iterations, pageSize)
			work = append(work, t)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		firstPath := rows[0].Path()
		lastPath := rows[len(rows)-1].Path()

		var pre, middle, post []string
		for _, p := range t.paths {
			switch {
			case rowOrder(p, firstPath) < 0:
				pre = append(pre, p)
			case rowOrder(p, lastPath) > 0:
				post = append(post, p)
			default:
				middle = append(middle, p)
			}
		}
		trace.Bisect.Printf("dirstate: bisect iteration %d: %d pre, %d middle, %d post", iterations, len(pre), len(middle), len(post))

		for _, p := range middle {
			for _, r := range rows {
				if r.Path() == p {
					found = append(found, r)
					break
				}
			}
		}

		if len(pre) > 0 {
			work = append(work, task{byteRange{t.rng.low, win.low}, pre})
		}
		if len(post) > 0 {
			work = append(work, task{byteRange{win.high, t.rng.high}, post})
		}
	}

	return found, nil
}

// BisectDirContents returns every row whose Dirname equals dirname: the
// contents of one directory block, located by bytewise comparison on
// dirname (siblings are serialized contiguously, so no component-order
// comparison is needed here).
func (b *Bisector) BisectDirContents(dirname string) ([]Row, error) {
	pageSize := b.initialPage
	limit := b.safetyFactor

	work := []byteRange{{b.bodyStart, b.size}}
	var found []Row
	iterations := 0

	for len(work) > 0 {
		iterations++
		if iterations > limit {
			return nil, fmt.Errorf("dirstate: bisect exceeded %d iterations searching for directory %q", limit, dirname)
		}

		rng := work[len(work)-1]
		work = work[:len(work)-1]
		if rng.low >= rng.high {
			continue
		}

		rows, win, complete, err := b.readWindow(rng, pageSize)
		if err != nil {
			return nil, err
		}
		if len(rows) < 2 && !complete {
			pageSize *= 2
			trace.Bisect.Printf("dirstate: bisect iteration %d: window too small, page size now %d", iterations, pageSize)
			work = append(work, rng)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		first, last := rows[0].Dirname, rows[len(rows)-1].Dirname

		anyMatch := false
		for _, r := range rows {
			if r.Dirname == dirname {
				found = append(found, r)
				anyMatch = true
			}
		}

		switch {
		case dirname < first:
			work = append(work, byteRange{rng.low, win.low})
		case dirname > last:
			work = append(work, byteRange{win.high, rng.high})
		case !anyMatch:
			// dirname lies between first and last but nothing in this
			// window matched: the window's mid-point jump skipped over
			// it. Narrow both halves to find it.
			work = append(work, byteRange{rng.low, win.low})
			work = append(work, byteRange{win.high, rng.high})
		default:
			// Found matches; the block may still straddle a window edge.
			if first == dirname {
				work = append(work, byteRange{rng.low, win.low})
			}
			if last == dirname {
				work = append(work, byteRange{win.high, rng.high})
			}
		}
	}

	return found, nil
}

// BisectRecursive returns every row reachable from roots: the rows named by
// roots themselves, the contents of every directory among them (recursively),
// and rows reached by following 'r' relocation targets.
func (b *Bisector) BisectRecursive(roots []string) ([]Row, error) {
	seenDirs := map[string]bool{}
	seenKeys := map[string]bool{}
	var all []Row

	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		rows, err := b.BisectPaths(queue)
		if err != nil {
			return nil, err
		}
		queue = nil

		for _, r := range rows {
			key := r.Dirname + "\x00" + r.Basename + "\x00" + r.FileID
			if seenKeys[key] {
				continue
			}
			seenKeys[key] = true
			all = append(all, r)

			if r.Col0Kind == 'd' {
				dirPath := r.Path()
				if !seenDirs[dirPath] {
					seenDirs[dirPath] = true
					children, err := b.BisectDirContents(dirPath)
					if err != nil {
						return nil, err
					}
					for _, c := range children {
						ckey := c.Dirname + "\x00" + c.Basename + "\x00" + c.FileID
						if seenKeys[ckey] {
							continue
						}
						seenKeys[ckey] = true
						all = append(all, c)
						if c.Col0Kind == 'd' {
							queue = append(queue, c.Path())
						}
						if c.Col0Kind == 'r' && c.Col0Target != "" {
							queue = append(queue, c.Col0Target)
						}
					}
				}
			}

			if r.Col0Kind == 'r' && r.Col0Target != "" {
				queue = append(queue, r.Col0Target)
			}
		}
	}

	return all, nil
}

// readWindow reads at most pageSize bytes starting near the midpoint of
// rng and parses the complete records it contains. Search ranges only
// ever narrow to record boundaries (the body start, or the edges of a
// previous window), so a read that begins at rng.low is on a boundary
// and its first line is a whole record; only a mid-range read has to
// discard a leading partial and resynchronize on the next newline.
// complete reports that the window began at rng.low and reached the end
// of the file, meaning no record of the range can lie outside it and a
// caller must not page-double on a short row count.
func (b *Bisector) readWindow(rng byteRange, pageSize int64) (rows []Row, win byteRange, complete bool, err error) {
	mid := rng.low + (rng.high-rng.low-pageSize)/2
	if mid < rng.low {
		mid = rng.low
	}

	toRead := pageSize
	if mid+toRead > b.size {
		toRead = b.size - mid
	}
	if toRead <= 0 {
		return nil, byteRange{}, false, nil
	}

	buf := make([]byte, toRead)
	n, err := b.r.ReadAt(buf, mid)
	if err != nil && err != io.EOF {
		return nil, byteRange{}, false, err
	}
	buf = buf[:n]

	recordsStart := mid
	rest := buf
	if mid > rng.low {
		firstNL := bytes.IndexByte(buf, '\n')
		if firstNL < 0 {
			return nil, byteRange{}, false, nil
		}
		recordsStart = mid + int64(firstNL) + 1
		rest = buf[firstNL+1:]
	}

	// Splitting on "\n" always leaves one trailing element to discard: an
	// empty string if rest ends in "\n" (every complete row does), or a
	// genuine partial row fragment if the window was cut off mid-row.
	lines := strings.Split(string(rest), "\n")
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	offset := recordsStart
	for _, line := range lines {
		row, ok := parseRow(line)
		if ok {
			row.Start = offset
			row.End = offset + int64(len(line)) + 1
			rows = append(rows, row)
		}
		offset += int64(len(line)) + 1
	}

	complete = mid == rng.low && mid+int64(n) >= b.size
	return rows, byteRange{recordsStart, offset}, complete, nil
}

// parseRow extracts the path-bearing fields of one NUL-joined row line
// (without its trailing newline) without decoding tree columns beyond
// column 0's kind and relocation target.
func parseRow(line string) (Row, bool) {
	fields := strings.Split(line, "\x00")
	if len(fields) < 5 {
		return Row{}, false
	}

	row := Row{
		Dirname:  fields[0],
		Basename: fields[1],
		FileID:   fields[2],
	}
	if len(fields[3]) == 1 {
		row.Col0Kind = fields[3][0]
	}
	if row.Col0Kind == 'r' {
		row.Col0Target = fields[4]
	}

	return row, true
}
