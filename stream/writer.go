package stream

import (
	"github.com/golang/glog"

	"github.com/cstrahan/imxrt-flash-algorithm/flash"
)

// PageProgrammer is the part of flash.Driver the writer needs.
type PageProgrammer interface {
	ProgramPage(addr uint32, data []byte) flash.Status
}

// PageWriter splits byte ranges into page programs. Addresses passed to
// Write are absolute; the programmer sees device offsets.
type PageWriter struct {
	dev      PageProgrammer
	base     uint32
	pageSize uint32
}

// NewPageWriter returns a writer for a device mapped at base. pageSize must
// be a power of two.
func NewPageWriter(dev PageProgrammer, base, pageSize uint32) *PageWriter {
	return &PageWriter{dev: dev, base: base, pageSize: pageSize}
}

// Write programs data starting at addr, one page at a time. It stops at the
// first page the device rejects and returns the number of bytes the device
// accepted along with that status. A short first page brings an unaligned
// addr up to the next page boundary.
func (w *PageWriter) Write(addr uint32, data []byte) (int, flash.Status) {
	if addr < w.base {
		return 0, flash.StatusInvalidArgument
	}

	written := 0
	for written < len(data) {
		n := int(w.pageSize - addr%w.pageSize)
		if n > len(data)-written {
			n = len(data) - written
		}
		if st := w.dev.ProgramPage(addr-w.base, data[written:written+n]); !st.OK() {
			return written, st
		}
		glog.V(2).Infof("Programmed %d bytes at 0x%08x", n, addr)
		written += n
		addr += uint32(n)
	}
	return written, flash.StatusSuccess
}
