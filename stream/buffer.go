package stream

import "fmt"

// Capacity is the size of the staging buffer. It matches the DEFLATE
// window so a full buffer always holds a whole window's worth of output.
const Capacity = 32 << 10

// Buffer holds decoded bytes that have not been written to storage yet.
// The zero value is an empty buffer.
type Buffer struct {
	data [Capacity]byte
	n    int
}

// Len returns the number of staged bytes.
func (b *Buffer) Len() int {
	return b.n
}

func (b *Buffer) Space() int {
	return Capacity - b.n
}

func (b *Buffer) Full() bool {
	return b.n == Capacity
}

// Free returns the unused tail of the buffer. Bytes written into it become
// part of the staged data once committed with Advance.
func (b *Buffer) Free() []byte {
	return b.data[b.n:]
}

// Advance commits n bytes written into Free. It panics if n does not fit.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Space() {
		panic(fmt.Sprintf("stream: advance by %d with %d bytes free", n, b.Space()))
	}
	b.n += n
}

// Take hands the staged bytes to fn and then empties the buffer, whether
// or not fn succeeds. fn must not retain the slice.
func (b *Buffer) Take(fn func([]byte) error) error {
	err := fn(b.data[:b.n])
	b.n = 0
	return err
}

func (b *Buffer) Reset() {
	b.n = 0
}
