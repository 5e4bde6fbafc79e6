package bisect

import (
	"sort"
	"strings"
)

// CompareComponentOrder compares two paths the way blocks are ordered on
// disk: split on "/" and compare component by component, not byte by byte.
// This makes "a-b" sort after "a/b", the opposite of a plain string
// comparison, because "a" as a whole component precedes "a-b" but "a/b"'s
// first component "a" is compared against "a-b" as a whole, and "a" < "a-b".
//
// The in-memory DirBlock store uses this same function for its own block
// ordering, so that a bisected read and a full parse of the same file can
// never disagree about where a path belongs.
func CompareComponentOrder(a, b string) int {
	ac := strings.Split(a, "/")
	bc := strings.Split(b, "/")

	for i := 0; i < len(ac) && i < len(bc); i++ {
		if ac[i] != bc[i] {
			if ac[i] < bc[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(ac) < len(bc):
		return -1
	case len(ac) > len(bc):
		return 1
	default:
		return 0
	}
}

// SortComponentOrder sorts paths in place using CompareComponentOrder.
func SortComponentOrder(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return CompareComponentOrder(paths[i], paths[j]) < 0
	})
}
