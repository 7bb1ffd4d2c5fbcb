package firmware

import (
	"bytes"
	"fmt"
	"io"

	"github.com/blacktop/lzss"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Format is the container a source image is stored in.
type Format int

const (
	FormatAuto Format = iota
	FormatRaw
	FormatLZSS
	FormatLZ4
	FormatZstd
	FormatXZ
	FormatZlib
)

var formatNames = []string{
	FormatAuto: "auto",
	FormatRaw:  "raw",
	FormatLZSS: "lzss",
	FormatLZ4:  "lz4",
	FormatZstd: "zstd",
	FormatXZ:   "xz",
	FormatZlib: "zlib",
}

func (f Format) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("format %d", int(f))
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	for i, n := range formatNames {
		if n == s {
			return Format(i), nil
		}
	}
	return FormatAuto, fmt.Errorf("unknown image format %q", s)
}

var (
	magicXZ   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect guesses the format of data from its leading bytes. LZSS has no
// magic and is never detected.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicXZ):
		return FormatXZ
	case bytes.HasPrefix(data, magicZstd):
		return FormatZstd
	case bytes.HasPrefix(data, magicLZ4):
		return FormatLZ4
	case len(data) >= 2 && data[0]&0x0f == 8 && data[0]>>4 <= 7 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0:
		return FormatZlib
	}
	return FormatRaw
}

// Decompress unpacks data stored in format f.
func Decompress(data []byte, f Format) ([]byte, error) {
	if f == FormatAuto {
		f = Detect(data)
	}

	switch f {
	case FormatRaw:
		return data, nil
	case FormatLZSS:
		return lzss.Decompress(data), nil
	case FormatZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	case FormatLZ4:
		return readAll("lz4", lz4.NewReader(bytes.NewReader(data)))
	case FormatXZ:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		return readAll("xz", r)
	case FormatZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer r.Close()
		return readAll("zlib", r)
	}
	return nil, fmt.Errorf("can't decompress %v", f)
}

func readAll(name string, r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decode: %w", name, err)
	}
	return out, nil
}
