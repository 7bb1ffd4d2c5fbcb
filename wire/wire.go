// Package wire builds the host side of a compressed image transfer: a
// little-endian uint32 length followed by a zlib stream, cut into the
// fixed-size chunks a probe sends per program call.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// HeaderSize is the length of the compressed-length prefix.
const HeaderSize = 4

// Frame compresses image at the given zlib level and prefixes the result
// with its length.
func Frame(image []byte, level int) ([]byte, error) {
	var b bytes.Buffer
	b.Write(make([]byte, HeaderSize))

	w, err := zlib.NewWriterLevel(&b, level)
	if err != nil {
		return nil, fmt.Errorf("can't create zlib writer: %w", err)
	}
	if _, err := w.Write(image); err != nil {
		return nil, fmt.Errorf("can't compress image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("can't compress image: %w", err)
	}

	out := b.Bytes()
	binary.LittleEndian.PutUint32(out, uint32(len(out)-HeaderSize))
	return out, nil
}

// Length returns the compressed length a frame declares.
func Length(frame []byte) (uint32, error) {
	if len(frame) < HeaderSize {
		return 0, errors.New("frame too short for length header")
	}
	return binary.LittleEndian.Uint32(frame), nil
}

// Split cuts frame into chunk-sized pieces. The last piece is padded with
// pad up to the full chunk size, as a probe sending whole pages would.
func Split(frame []byte, chunk int, pad byte) [][]byte {
	if chunk <= 0 {
		chunk = len(frame)
	}
	var ret [][]byte
	for len(frame) > 0 {
		n := chunk
		if n > len(frame) {
			n = len(frame)
		}
		c := make([]byte, chunk)
		copy(c, frame[:n])
		for i := n; i < chunk; i++ {
			c[i] = pad
		}
		ret = append(ret, c)
		frame = frame[n:]
	}
	return ret
}
