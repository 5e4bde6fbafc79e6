package dirstatefile

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/glasser/dirstate/utils/sync"
)

// HeaderLine is the fixed 31-byte ASCII header every dirstate file begins
// with. The format version it encodes may not change without a schema
// migration.
const HeaderLine = "#bazaar dirstate flat format 3\n"

// File is the fully decoded contents of a dirstate file: its recorded and
// ghost parent revisions, and its rows in on-disk order.
type File struct {
	Parents []string
	Ghosts  []string
	Rows    []Row
}

// Encode writes f to w in the on-disk format, computing the CRC over the
// parent line, ghost line, and all rows.
func Encode(w io.Writer, f File) error {
	body := new(bytes.Buffer)
	if err := encodeRevisionLine(body, f.Parents); err != nil {
		return err
	}
	if err := encodeRevisionLine(body, f.Ghosts); err != nil {
		return err
	}
	for i, row := range f.Rows {
		if len(row.Tree) != 1+len(f.Parents) {
			return formatErrorf("row %d (%s) has %d tree columns, want %d", i, row.Key.FullPath(), len(row.Tree), 1+len(f.Parents))
		}
		if err := EncodeRow(body, row); err != nil {
			return err
		}
	}

	crc := crc32.ChecksumIEEE(body.Bytes())

	if _, err := io.WriteString(w, HeaderLine); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "crc32: %d\n", crc); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "num_entries: %d\n", len(f.Rows)); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// Decode reads a dirstate file from r. The header and CRC are validated;
// a mismatch in either is a *FormatError and the returned File is zero.
func Decode(r io.Reader) (File, error) {
	br := sync.GetBufioReader(r)
	defer sync.PutBufioReader(br)

	header := make([]byte, len(HeaderLine))
	if _, err := io.ReadFull(br, header); err != nil {
		return File{}, formatErrorf("reading header: %v", err)
	}
	if string(header) != HeaderLine {
		return File{}, formatErrorf("unrecognized header %q", header)
	}

	crcLine, err := br.ReadString('\n')
	if err != nil {
		return File{}, formatErrorf("reading crc32 line: %v", err)
	}
	wantCRC, err := parseLabeledLine(crcLine, "crc32: ")
	if err != nil {
		return File{}, err
	}
	wantCRC32, err := strconv.ParseUint(wantCRC, 10, 32)
	if err != nil {
		return File{}, formatErrorf("invalid crc32 value %q", wantCRC)
	}

	numEntriesLine, err := br.ReadString('\n')
	if err != nil {
		return File{}, formatErrorf("reading num_entries line: %v", err)
	}
	numEntriesField, err := parseLabeledLine(numEntriesLine, "num_entries: ")
	if err != nil {
		return File{}, err
	}
	numEntries, err := strconv.Atoi(numEntriesField)
	if err != nil {
		return File{}, formatErrorf("invalid num_entries value %q", numEntriesField)
	}

	body := new(bytes.Buffer)
	tee := io.TeeReader(br, body)
	teeBr := bufio.NewReader(tee)

	parents, err := decodeRevisionLine(teeBr)
	if err != nil {
		return File{}, err
	}
	ghosts, err := decodeRevisionLine(teeBr)
	if err != nil {
		return File{}, err
	}

	rows := make([]Row, 0, numEntries)
	for i := 0; i < numEntries; i++ {
		row, err := DecodeRow(teeBr, len(parents))
		if err != nil {
			return File{}, formatErrorf("decoding row %d: %v", i, err)
		}
		rows = append(rows, row)
	}

	gotCRC := crc32.ChecksumIEEE(body.Bytes())
	if uint32(wantCRC32) != gotCRC {
		return File{}, formatErrorf("crc32 mismatch: file declares %d, body hashes to %d", wantCRC32, gotCRC)
	}

	return File{Parents: parents, Ghosts: ghosts, Rows: rows}, nil
}

func parseLabeledLine(line, label string) (string, error) {
	if !strings.HasPrefix(line, label) {
		return "", formatErrorf("expected line starting %q, got %q", label, line)
	}
	return strings.TrimSuffix(line[len(label):], "\n"), nil
}

// encodeRevisionLine writes a parent_line or ghost_line: a decimal count
// followed by that many NUL-prefixed revision ids, then a newline.
func encodeRevisionLine(w io.Writer, revisions []string) error {
	if _, err := fmt.Fprintf(w, "%d", len(revisions)); err != nil {
		return err
	}
	for _, rev := range revisions {
		if _, err := io.WriteString(w, "\x00"+rev); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// decodeRevisionLine reads a parent_line or ghost_line: a decimal count,
// then either a newline (count must be 0) or a NUL followed by that many
// NUL/newline-terminated revision ids.
func decodeRevisionLine(r *bufio.Reader) ([]string, error) {
	var countBuf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, formatErrorf("reading revision count: %v", err)
		}

		if b != 0 && b != '\n' {
			countBuf = append(countBuf, b)
			continue
		}

		count, perr := strconv.Atoi(string(countBuf))
		if perr != nil {
			return nil, formatErrorf("invalid revision count %q", countBuf)
		}

		if b == '\n' {
			if count != 0 {
				return nil, formatErrorf("revision line ended before any of its %d revisions", count)
			}
			return nil, nil
		}

		revisions := make([]string, 0, count)
		for i := 0; i < count; i++ {
			delim := byte(0)
			if i == count-1 {
				delim = '\n'
			}
			field, err := r.ReadBytes(delim)
			if err != nil {
				return nil, formatErrorf("reading revision id %d: %v", i, err)
			}
			revisions = append(revisions, string(field[:len(field)-1]))
		}

		return revisions, nil
	}
}
