// Package stream decompresses length-prefixed zlib images into flash as
// they arrive, a chunk at a time, without holding more than one staging
// buffer of output.
//
// An image transfer is a little-endian uint32 compressed length followed
// by that many bytes of zlib data. The header is only present in the first
// chunk sent to an address; the chunks after it carry the same address.
// Decoded bytes are written sequentially from that address.
package stream

import (
	"encoding/binary"

	"github.com/golang/glog"

	"github.com/cstrahan/imxrt-flash-algorithm/inflate"
)

// HeaderSize is the length of the compressed-length header.
const HeaderSize = 4

// State is the phase a Pipeline is in.
type State int

const (
	NoImage State = iota
	Streaming
	Draining
)

func (s State) String() string {
	switch s {
	case NoImage:
		return "no image"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// Cursor is the progress through the current image.
type Cursor struct {
	Start     uint32 // address the image is written to
	Offset    uint32 // bytes of the image written to storage
	Remaining uint32 // compressed bytes still owed by the host
}

// Pipeline feeds image chunks through a decoder into a staging buffer and
// drains the buffer to storage. It is not safe for concurrent use.
type Pipeline struct {
	w     *PageWriter
	dec   *inflate.Decompressor
	buf   Buffer
	cur   Cursor
	state State
	// failed is the storage error that ended the current image. Once set,
	// nothing more is decoded or written for that image.
	failed error
}

func New(w *PageWriter) *Pipeline {
	return &Pipeline{w: w, dec: inflate.NewDecompressor()}
}

func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) Cursor() Cursor {
	return p.cur
}

// Staged returns the number of decoded bytes not yet written.
func (p *Pipeline) Staged() int {
	return p.buf.Len()
}

// Program accepts the next chunk for the image at addr. A chunk for an
// address other than the current image's starts a new image: whatever the
// previous image had staged is flushed first, and the chunk must begin with
// the length header.
//
// A declared length of zero completes the image at once with no output.
//
// After a storage failure, further chunks for the same image return that
// failure until a new image is started.
func (p *Pipeline) Program(addr uint32, data []byte) error {
	if p.state != NoImage && addr == p.cur.Start && p.failed != nil {
		return p.failed
	}
	if p.state == NoImage || addr != p.cur.Start {
		if len(data) < HeaderSize {
			return ErrUnderrun
		}
		if err := p.Flush(); err != nil {
			return err
		}

		n := binary.LittleEndian.Uint32(data)
		data = data[HeaderSize:]
		p.dec.Reset()
		p.buf.Reset()
		p.cur = Cursor{Start: addr, Remaining: n}
		p.state = Streaming
		p.failed = nil
		glog.V(1).Infof("New image at 0x%08x, %d compressed bytes", addr, n)

		if n == 0 {
			if len(data) > 0 {
				glog.Warningf("Empty image at 0x%08x: discarding %d bytes", addr, len(data))
			}
			return nil
		}
	}
	return p.decode(data)
}

func (p *Pipeline) decode(data []byte) error {
	if p.cur.Remaining == 0 {
		return ErrOverrun
	}

	if uint32(len(data)) > p.cur.Remaining {
		glog.V(2).Infof("Discarding %d bytes of padding", uint32(len(data))-p.cur.Remaining)
		data = data[:p.cur.Remaining]
	}
	p.cur.Remaining -= uint32(len(data))

	flags := inflate.FlagParseZlibHeader
	if p.cur.Remaining > 0 {
		flags |= inflate.FlagHasMoreInput
	}

	status := inflate.StatusNeedsMoreInput
	for (len(data) > 0 || status == inflate.StatusHasMoreOutput) && status > inflate.StatusDone {
		var consumed, produced int
		status, consumed, produced = p.dec.Step(data, p.buf.Free(), flags)
		data = data[consumed:]
		p.buf.Advance(produced)

		if status == inflate.StatusDone || p.buf.Full() {
			if err := p.Flush(); err != nil {
				return err
			}
		}
	}

	if status.Failed() {
		return &DecoderError{Status: status}
	}
	if status == inflate.StatusDone && len(data) > 0 {
		glog.Warningf("Image at 0x%08x ended with %d compressed bytes left over", p.cur.Start, len(data))
	}
	return nil
}

// Flush writes the staged bytes at the current image's next address. On a
// storage failure the offset still advances past the bytes the device
// accepted, the rest of the staged data is dropped and the image is marked
// failed.
func (p *Pipeline) Flush() error {
	if p.failed != nil {
		p.buf.Reset()
		return nil
	}
	if p.buf.Len() == 0 {
		return nil
	}

	prev := p.state
	p.state = Draining
	defer func() { p.state = prev }()

	return p.buf.Take(func(b []byte) error {
		addr := p.cur.Start + p.cur.Offset
		glog.V(2).Infof("Flushing %d bytes to 0x%08x", len(b), addr)

		n, st := p.w.Write(addr, b)
		p.cur.Offset += uint32(n)
		if !st.OK() {
			failed := addr + uint32(n)
			glog.Errorf("Flush of image at 0x%08x failed at 0x%08x: %v", p.cur.Start, failed, st)
			p.failed = &StorageError{Status: st, Address: failed}
			return p.failed
		}
		return nil
	})
}

// Finish flushes what is staged and ends the current image. The next
// Program call starts a new image even if it reuses the same address.
// Finishing a failed image returns its storage error.
func (p *Pipeline) Finish() error {
	err := p.Flush()
	if err == nil {
		err = p.failed
	}
	p.failed = nil
	if p.state != NoImage {
		glog.V(1).Infof("Finished image at 0x%08x: %d bytes written, %d compressed bytes unsent", p.cur.Start, p.cur.Offset, p.cur.Remaining)
	}
	p.state = NoImage
	return err
}
