package sync

import (
	"bufio"
	"io"
	"sync"
)

var bufioReader = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, 16*1024)
	},
}

// GetBufioReader returns a *bufio.Reader that is managed by a sync.Pool.
// Reset to read from r before being returned.
//
// After use, the *bufio.Reader should be put back into the sync.Pool by
// calling PutBufioReader.
func GetBufioReader(r io.Reader) *bufio.Reader {
	br := bufioReader.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// PutBufioReader puts br back into its sync.Pool.
func PutBufioReader(br *bufio.Reader) {
	if br == nil {
		return
	}
	br.Reset(nil)
	bufioReader.Put(br)
}
