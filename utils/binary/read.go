package binary

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Read reads the binary representation of data from r, using BigEndian order.
func Read(r io.Reader, data ...interface{}) error {
	for _, v := range data {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return err
		}
	}

	return nil
}

// ReadUint32 reads a uint32 from r, in BigEndian order.
func ReadUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadUint16 reads a uint16 from r, in BigEndian order.
func ReadUint16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadUntil reads from r until it finds delim, returning every byte read
// before delim. delim itself is consumed but not included in the result.
func ReadUntil(r io.Reader, delim byte) ([]byte, error) {
	if br, ok := r.(*bufio.Reader); ok {
		return ReadUntilFromBufioReader(br, delim)
	}

	var b []byte
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}

		if buf[0] == delim {
			return b, nil
		}

		b = append(b, buf[0])
	}
}

// ReadUntilFromBufioReader is like ReadUntil but takes advantage of the
// internal buffer of a *bufio.Reader to avoid reading one byte at a time.
func ReadUntilFromBufioReader(r *bufio.Reader, delim byte) ([]byte, error) {
	b, err := r.ReadBytes(delim)
	if err != nil {
		return nil, err
	}

	return b[:len(b)-1], nil
}
